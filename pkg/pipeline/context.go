package pipeline

import (
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rxtech-lab/btcusd-dataset/internal/types"
)

// RunContext carries everything a single run needs. It is built once per invocation
// and never shared between runs.
type RunContext struct {
	RunID string
	// Now is the upper bound of the fetch window.
	Now time.Time
	// DatasetPath is the CSV merged in place. When Download is set it is replaced by
	// the downloaded copy inside WorkDir.
	DatasetPath string
	WorkDir     string
	Interval    int64
	// Download fetches the latest published dataset before loading.
	Download bool
	// ParquetPath, when set, receives a Parquet snapshot of the merged series.
	ParquetPath string
	// DryRun skips publishing.
	DryRun bool
}

// NewRunContext returns a context for a run at now against datasetPath.
func NewRunContext(datasetPath string, now time.Time) *RunContext {
	return &RunContext{
		RunID:       uuid.New().String(),
		Now:         now.UTC(),
		DatasetPath: datasetPath,
		WorkDir:     filepath.Dir(datasetPath),
		Interval:    types.DefaultInterval,
		Download:    false,
		ParquetPath: "",
		DryRun:      false,
	}
}
