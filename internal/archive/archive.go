// Package archive compresses finished stress logs and ships them to
// object storage. Archival is best-effort: a failed upload never fails
// the run that produced the log.
package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
)

// Uploader stores one object. Satisfied by the S3 uploader and by fakes
// in tests.
type Uploader interface {
	Upload(ctx context.Context, key string, body io.Reader) error
}

// Archiver gzips logs and hands them to an uploader.
type Archiver struct {
	uploader Uploader
	prefix   string
	logger   *zap.Logger
}

// NewArchiver creates an archiver. A nil uploader means compress-only.
func NewArchiver(uploader Uploader, prefix string, logger *zap.Logger) *Archiver {
	return &Archiver{uploader: uploader, prefix: prefix, logger: logger}
}

// Archive compresses logPath next to itself as <name>.gz and uploads the
// result. Returns the compressed file path.
func (a *Archiver) Archive(ctx context.Context, logPath string) (string, error) {
	gzPath, err := Compress(logPath)
	if err != nil {
		return "", err
	}

	if a.uploader != nil {
		key := path.Join(a.prefix, filepath.Base(gzPath))
		f, err := os.Open(gzPath)
		if err != nil {
			return gzPath, fmt.Errorf("archive: open %s: %w", gzPath, err)
		}
		defer func() { _ = f.Close() }()

		if err := a.uploader.Upload(ctx, key, f); err != nil {
			return gzPath, fmt.Errorf("archive: upload %s: %w", key, err)
		}
		a.logger.Info("stress log archived",
			zap.String("log", logPath),
			zap.String("key", key))
	}
	return gzPath, nil
}

// Compress gzips src to src+".gz" and returns the new path.
func Compress(src string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("archive: open %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	dst := src + ".gz"
	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("archive: create %s: %w", dst, err)
	}

	gw, err := gzip.NewWriterLevel(out, gzip.BestSpeed)
	if err != nil {
		_ = out.Close()
		return "", fmt.Errorf("archive: gzip writer: %w", err)
	}

	if _, err := io.Copy(gw, in); err != nil {
		_ = gw.Close()
		_ = out.Close()
		return "", fmt.Errorf("archive: compress %s: %w", src, err)
	}
	if err := gw.Close(); err != nil {
		_ = out.Close()
		return "", fmt.Errorf("archive: finish %s: %w", dst, err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("archive: close %s: %w", dst, err)
	}
	return dst, nil
}
