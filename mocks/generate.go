package mocks

//go:generate mockgen -destination=./mock_provider.go -package=mocks github.com/rxtech-lab/btcusd-dataset/pkg/source Provider
//go:generate mockgen -destination=./mock_publisher.go -package=mocks github.com/rxtech-lab/btcusd-dataset/pkg/publish Publisher,Downloader
