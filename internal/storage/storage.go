// Package storage uploads staged files to object storage.
package storage

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"gatotkota/internal/config"
	"gatotkota/internal/upload"
)

const (
	BackendPreset = "preset"
	BackendS3     = "s3"

	diagnosticLimit = 4 << 10
)

var (
	ErrUnknownBackend = errors.New("unknown storage backend")
	errNotSeekable    = errors.New("body is not seekable")
)

// New builds the uploader selected by cfg.Backend.
func New(cfg config.Storage) (upload.Uploader, error) { //nolint:ireturn
	switch strings.ToLower(cfg.Backend) {
	case "", BackendPreset:
		return NewPresetUploader(cfg.Endpoint, cfg.UploadPreset, cfg.Folder, nil)
	case BackendS3:
		return NewS3Uploader(cfg.Folder, cfg.S3)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

// objectKey places an object under folder/yyyy/mm and keeps the original extension.
func objectKey(folder, id, name string, now time.Time) string {
	ext := strings.ToLower(path.Ext(name))
	return path.Join(strings.Trim(folder, "/"), now.Format("2006"), now.Format("01"), id+ext)
}
