package version

// Version is the current version of the dataset updater.
// This value is set at build time using ldflags:
// -ldflags "-X github.com/rxtech-lab/btcusd-dataset/internal/version.Version=1.2.3"
// The value "main" indicates a development build.
var Version = "v0.3.0"

// GetVersion returns the current version of the updater.
func GetVersion() string {
	return Version
}

// UserAgent is sent with every outgoing HTTP request.
func UserAgent() string {
	return "btcusd-dataset-updater/" + Version
}
