package publish

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rxtech-lab/btcusd-dataset/internal/logger"
	"github.com/rxtech-lab/btcusd-dataset/pkg/errors"
	"go.uber.org/zap"
)

// VersionNotesFile collects one line per published version in a LocalStore.
const VersionNotesFile = "VERSIONS.txt"

// LocalStore publishes into and downloads from a plain directory.
// It is used for dry runs and air-gapped setups.
type LocalStore struct {
	dir    string
	file   string
	logger *logger.Logger
	now    func() time.Time
}

// NewLocalStore creates a store rooted at dir. file is the dataset file name served by Download.
func NewLocalStore(dir, file string, log *logger.Logger) *LocalStore {
	if file == "" {
		file = DefaultDatasetFile
	}

	return &LocalStore{
		dir:    dir,
		file:   file,
		logger: log.Named("local-store"),
		now:    time.Now,
	}
}

// Name implements Publisher.
func (s *LocalStore) Name() string {
	return "local"
}

// Dir returns the directory backing the store.
func (s *LocalStore) Dir() string {
	return s.dir
}

// Publish implements Publisher. Files are copied atomically and the message is appended
// to VersionNotesFile.
func (s *LocalStore) Publish(ctx context.Context, req Request) error {
	if len(req.Files) == 0 {
		return errors.New(errors.ErrCodeInvalidParameter, "nothing to publish")
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return errors.Wrap(errors.ErrCodePublishFailed, "failed to create publish directory", err)
	}

	for _, path := range req.Files {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(errors.ErrCodePublishFailed, "publish canceled", err)
		}

		if err := copyFile(path, filepath.Join(s.dir, filepath.Base(path))); err != nil {
			return errors.Wrapf(errors.ErrCodePublishFailed, err, "failed to publish %s", filepath.Base(path))
		}
	}

	notes, err := os.OpenFile(filepath.Join(s.dir, VersionNotesFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrap(errors.ErrCodePublishFailed, "failed to open version notes", err)
	}
	defer notes.Close()

	if _, err := fmt.Fprintf(notes, "%s\t%s\n", s.now().UTC().Format(time.RFC3339), req.Message); err != nil {
		return errors.Wrap(errors.ErrCodePublishFailed, "failed to write version notes", err)
	}

	s.logger.Info("Published dataset locally",
		zap.String("dir", s.dir),
		zap.Int("files", len(req.Files)),
	)

	return nil
}

// Download implements Downloader by copying the dataset file into destDir.
func (s *LocalStore) Download(ctx context.Context, destDir string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.Wrap(errors.ErrCodeDownloadFailed, "download canceled", err)
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", errors.Wrap(errors.ErrCodeDownloadFailed, "failed to create work directory", err)
	}

	src := filepath.Join(s.dir, s.file)
	dst := filepath.Join(destDir, s.file)

	if same, err := samePath(src, dst); err == nil && same {
		return dst, nil
	}

	if err := copyFile(src, dst); err != nil {
		return "", errors.Wrapf(errors.ErrCodeDownloadFailed, err, "failed to copy %s", s.file)
	}

	return dst, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	return writeAtomic(dst, in)
}

func samePath(a, b string) (bool, error) {
	absA, err := filepath.Abs(a)
	if err != nil {
		return false, err
	}

	absB, err := filepath.Abs(b)
	if err != nil {
		return false, err
	}

	return absA == absB, nil
}
