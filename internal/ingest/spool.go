package ingest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hyperjump/docrag/internal/extract"
	"go.uber.org/zap"
)

// spool writes content to a temporary file under dir. The returned release
// func removes the file and is safe to call more than once.
func spool(dir, filename string, content []byte, logger *zap.Logger) (string, func(), error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", nil, fmt.Errorf("create upload dir: %w", err)
	}
	f, err := os.CreateTemp(dir, "upload-*"+extract.Ext(filename))
	if err != nil {
		return "", nil, fmt.Errorf("create temp file: %w", err)
	}
	path := f.Name()
	release := func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Warn("failed to remove temp upload", zap.String("path", path), zap.Error(err))
		}
	}
	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		release()
		return "", nil, fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		release()
		return "", nil, fmt.Errorf("close temp file: %w", err)
	}
	return filepath.Clean(path), release, nil
}
