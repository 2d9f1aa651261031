package publish

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-resty/resty/v2"
	"github.com/klauspost/compress/zip"
	"github.com/rxtech-lab/btcusd-dataset/internal/logger"
	"github.com/rxtech-lab/btcusd-dataset/internal/version"
	"github.com/rxtech-lab/btcusd-dataset/pkg/errors"
	"go.uber.org/zap"
)

const (
	DefaultKaggleURL     = "https://www.kaggle.com/api/v1"
	DefaultKaggleDataset = "mczielinski/bitcoin-historical-data"
	DefaultKaggleTimeout = 10 * time.Minute
)

var zipMagic = []byte("PK\x03\x04")

// KaggleConfig configures the Kaggle dataset client.
type KaggleConfig struct {
	BaseURL  string        `validate:"required,url"`
	Dataset  string        `validate:"required,contains=/"`
	Username string        `validate:"required"`
	Key      string        `validate:"required"`
	File     string        `validate:"required"`
	Timeout  time.Duration `validate:"required"`
}

// DefaultKaggleConfig returns a configuration for the public btcusd dataset without credentials.
func DefaultKaggleConfig() KaggleConfig {
	return KaggleConfig{
		BaseURL:  DefaultKaggleURL,
		Dataset:  DefaultKaggleDataset,
		Username: "",
		Key:      "",
		File:     DefaultDatasetFile,
		Timeout:  DefaultKaggleTimeout,
	}
}

// KaggleClient downloads and versions a Kaggle dataset.
// It implements both Publisher and Downloader.
type KaggleClient struct {
	api      *resty.Client
	uploader *resty.Client
	config   KaggleConfig
	owner    string
	slug     string
	logger   *logger.Logger
}

type uploadTicket struct {
	Token     string `json:"token"`
	CreateURL string `json:"createUrl"`
}

type versionFile struct {
	Token string `json:"token"`
}

type versionRequest struct {
	VersionNotes      string        `json:"versionNotes"`
	Files             []versionFile `json:"files"`
	ConvertToCsv      bool          `json:"convertToCsv"`
	DeleteOldVersions bool          `json:"deleteOldVersions"`
}

type versionResponse struct {
	Ref    string `json:"ref"`
	URL    string `json:"url"`
	Status string `json:"status"`
	Error  string `json:"error"`
}

// NewKaggleClient creates a client for config.Dataset ("owner/slug").
func NewKaggleClient(config KaggleConfig, log *logger.Logger) (*KaggleClient, error) {
	if err := validator.New().Struct(config); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid kaggle configuration", err)
	}

	owner, slug, _ := strings.Cut(config.Dataset, "/")
	if owner == "" || slug == "" || strings.Contains(slug, "/") {
		return nil, errors.Newf(errors.ErrCodeInvalidConfiguration, "dataset must be owner/slug, got %q", config.Dataset)
	}

	api := resty.New().
		SetBaseURL(strings.TrimRight(config.BaseURL, "/")).
		SetTimeout(config.Timeout).
		SetBasicAuth(config.Username, config.Key).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", version.UserAgent())

	// Signed upload URLs reject the API credentials.
	uploader := resty.New().
		SetTimeout(config.Timeout).
		SetHeader("User-Agent", version.UserAgent())

	return &KaggleClient{
		api:      api,
		uploader: uploader,
		config:   config,
		owner:    owner,
		slug:     slug,
		logger:   log.Named("kaggle"),
	}, nil
}

// Name implements Publisher.
func (c *KaggleClient) Name() string {
	return "kaggle"
}

// Download implements Downloader. The archive is streamed to a temporary file and the
// configured dataset file is extracted into destDir. A plain (non-zip) body is stored as is.
func (c *KaggleClient) Download(ctx context.Context, destDir string) (string, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", errors.Wrap(errors.ErrCodeDownloadFailed, "failed to create work directory", err)
	}

	archive, err := os.CreateTemp(destDir, ".kaggle-download-*.zip")
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeDownloadFailed, "failed to create temporary file", err)
	}
	archivePath := archive.Name()
	defer os.Remove(archivePath)

	resp, err := c.api.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetPathParams(map[string]string{"owner": c.owner, "slug": c.slug}).
		Get("/datasets/download/{owner}/{slug}")
	if err != nil {
		archive.Close()

		return "", errors.Wrapf(errors.ErrCodeDownloadFailed, err, "failed to download %s", c.config.Dataset)
	}

	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() >= http.StatusBadRequest {
		archive.Close()
		msg, _ := io.ReadAll(io.LimitReader(body, 512))

		return "", errors.Newf(errors.ErrCodeDownloadFailed, "download %s failed with status %d: %s",
			c.config.Dataset, resp.StatusCode(), strings.TrimSpace(string(msg)))
	}

	written, err := io.Copy(archive, body)
	if cerr := archive.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeDownloadFailed, "failed to store downloaded archive", err)
	}

	c.logger.Info("Downloaded dataset archive",
		zap.String("dataset", c.config.Dataset),
		zap.Int64("bytes", written),
	)

	target := filepath.Join(destDir, c.config.File)

	isZip, err := hasZipMagic(archivePath)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeDownloadFailed, "failed to inspect downloaded archive", err)
	}

	if !isZip {
		if err := os.Rename(archivePath, target); err != nil {
			return "", errors.Wrap(errors.ErrCodeDownloadFailed, "failed to move downloaded file", err)
		}

		return target, nil
	}

	if err := extract(archivePath, c.config.File, target); err != nil {
		return "", errors.Wrapf(errors.ErrCodeDownloadFailed, err, "failed to extract %s", c.config.File)
	}

	return target, nil
}

// Publish implements Publisher: every file is uploaded, then a new dataset version
// referencing the upload tokens is created.
func (c *KaggleClient) Publish(ctx context.Context, req Request) error {
	if len(req.Files) == 0 {
		return errors.New(errors.ErrCodeInvalidParameter, "nothing to publish")
	}

	files := make([]versionFile, 0, len(req.Files))

	for _, path := range req.Files {
		token, err := c.uploadFile(ctx, path)
		if err != nil {
			return errors.Wrapf(errors.ErrCodePublishFailed, err, "failed to upload %s", filepath.Base(path))
		}

		files = append(files, versionFile{Token: token})
	}

	var result versionResponse

	resp, err := c.api.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"owner": c.owner, "slug": c.slug}).
		SetBody(versionRequest{
			VersionNotes:      req.Message,
			Files:             files,
			ConvertToCsv:      false,
			DeleteOldVersions: false,
		}).
		SetResult(&result).
		Post("/datasets/create/version/{owner}/{slug}")
	if err != nil {
		return errors.Wrap(errors.ErrCodePublishFailed, "failed to create dataset version", err)
	}

	if resp.IsError() {
		return errors.Newf(errors.ErrCodePublishFailed, "create version failed with status %d: %s",
			resp.StatusCode(), strings.TrimSpace(resp.String()))
	}

	if result.Error != "" {
		return errors.Newf(errors.ErrCodePublishFailed, "create version rejected: %s", result.Error)
	}

	c.logger.Info("Published dataset version",
		zap.String("dataset", c.config.Dataset),
		zap.String("url", result.URL),
		zap.String("status", result.Status),
		zap.Int("files", len(files)),
	)

	return nil
}

func (c *KaggleClient) uploadFile(ctx context.Context, path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}

	var ticket uploadTicket

	resp, err := c.api.R().
		SetContext(ctx).
		SetPathParams(map[string]string{
			"size":  fmt.Sprintf("%d", info.Size()),
			"mtime": fmt.Sprintf("%d", info.ModTime().Unix()),
		}).
		SetFormData(map[string]string{"fileName": filepath.Base(path)}).
		SetResult(&ticket).
		Post("/datasets/upload/file/{size}/{mtime}")
	if err != nil {
		return "", err
	}

	if resp.IsError() {
		return "", fmt.Errorf("upload request failed with status %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}

	if ticket.Token == "" || ticket.CreateURL == "" {
		return "", fmt.Errorf("upload request returned no token")
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	put, err := c.uploader.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/octet-stream").
		SetBody(f).
		Put(ticket.CreateURL)
	if err != nil {
		return "", err
	}

	if put.IsError() {
		return "", fmt.Errorf("file upload failed with status %d", put.StatusCode())
	}

	c.logger.Debug("Uploaded file",
		zap.String("file", filepath.Base(path)),
		zap.Int64("bytes", info.Size()),
	)

	return ticket.Token, nil
}

func hasZipMagic(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	head := make([]byte, len(zipMagic))

	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return false, err
	}

	return bytes.Equal(head[:n], zipMagic), nil
}

// extract copies the archive entry called name to target via a temporary file.
func extract(archivePath, name, target string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return err
	}
	defer r.Close()

	for _, f := range r.File {
		if filepath.Base(f.Name) != name {
			continue
		}

		src, err := f.Open()
		if err != nil {
			return err
		}
		defer src.Close()

		return writeAtomic(target, src)
	}

	return fmt.Errorf("archive does not contain %s", name)
}

// writeAtomic writes r to path through a temporary file in the same directory.
func writeAtomic(path string, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}

	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpPath)

		return err
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)

		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)

		return err
	}

	return nil
}
