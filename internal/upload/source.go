package upload

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
)

// Source is the raw content of a user-selected file.
type Source interface {
	Name() string
	Size() int64
	ContentType() string
	Open() (io.ReadCloser, error)
}

type bytesSource struct {
	name        string
	contentType string
	data        []byte
}

// NewBytesSource wraps in-memory content. The content type is sniffed from
// the bytes; whatever the client declared is ignored.
func NewBytesSource(name string, data []byte) Source { //nolint:ireturn
	return &bytesSource{
		name:        filepath.Base(name),
		contentType: mimetype.Detect(data).String(),
		data:        data,
	}
}

func (s *bytesSource) Name() string        { return s.name }
func (s *bytesSource) Size() int64         { return int64(len(s.data)) }
func (s *bytesSource) ContentType() string { return s.contentType }

func (s *bytesSource) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s.data)), nil
}

type fileSource struct {
	path        string
	size        int64
	contentType string
}

// NewFileSource references a file on local disk.
func NewFileSource(path string) (Source, error) { //nolint:ireturn
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat source: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("source %s is a directory", path)
	}
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, fmt.Errorf("detect type: %w", err)
	}
	return &fileSource{path: path, size: info.Size(), contentType: mt.String()}, nil
}

func (s *fileSource) Name() string        { return filepath.Base(s.path) }
func (s *fileSource) Size() int64         { return s.size }
func (s *fileSource) ContentType() string { return s.contentType }

func (s *fileSource) Open() (io.ReadCloser, error) {
	return os.Open(s.path) //nolint:gosec // path chosen by the local user
}
