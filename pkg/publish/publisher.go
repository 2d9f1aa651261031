package publish

import (
	"context"
)

// DefaultDatasetFile is the file name of the minute dataset inside the published archive.
const DefaultDatasetFile = "btcusd_1-min_data.csv"

// Request describes one publish operation.
type Request struct {
	// Files are local paths uploaded as the new dataset version.
	Files []string
	// Message is recorded as the version note.
	Message string
}

// Publisher pushes artifacts to the public dataset host.
// Publish is at-least-once: a failed call may be retried with the same request.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, req Request) error
}

// Downloader fetches the latest published dataset.
type Downloader interface {
	// Download stores the dataset file inside destDir and returns its path.
	Download(ctx context.Context, destDir string) (string, error)
}
