// Package preview keeps on-disk thumbnails for files staged in a form.
package preview

import (
	"bytes"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	fileutil "gatotkota/internal/file"
	"gatotkota/internal/upload"

	"github.com/disintegration/imaging"
)

const (
	thumbnailExt     = ".jpg"
	thumbnailQuality = 80
)

var ErrInvalidName = errors.New("invalid preview name")

// Store writes thumbnails into dir and serves them under urlPrefix.
type Store struct {
	dir       string
	urlPrefix string
	size      int
}

func NewStore(dir, urlPrefix string, size int) (*Store, error) {
	if err := fileutil.EnsureDir(dir); err != nil {
		return nil, err
	}
	return &Store{dir: dir, urlPrefix: strings.TrimRight(urlPrefix, "/"), size: size}, nil
}

// Acquire decodes src, fits it into the configured square and writes the
// thumbnail. The returned preview deletes the file on Release.
func (s *Store) Acquire(id string, src upload.Source) (upload.Preview, error) { //nolint:ireturn
	name := id + thumbnailExt
	if err := checkName(name); err != nil {
		return nil, err
	}
	rc, err := src.Open()
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	defer func() { _ = rc.Close() }()

	img, err := imaging.Decode(rc, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	thumb := imaging.Fit(img, s.size, s.size, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(thumbnailQuality)); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	p := filepath.Join(s.dir, name)
	if err := fileutil.CopyAtomic(p, &buf); err != nil {
		return nil, fmt.Errorf("write thumbnail: %w", err)
	}
	return &thumbnail{path: p, url: s.urlPrefix + "/" + name}, nil
}

// Path resolves a preview file name to its location on disk.
func (s *Store) Path(name string) (string, error) {
	if err := checkName(name); err != nil {
		return "", err
	}
	return filepath.Join(s.dir, name), nil
}

func checkName(name string) error {
	if name == "" || name != path.Base(name) || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return ErrInvalidName
	}
	if filepath.Ext(name) != thumbnailExt {
		return ErrInvalidName
	}
	return nil
}

type thumbnail struct {
	path string
	url  string
}

func (t *thumbnail) URL() string { return t.url }

func (t *thumbnail) Release() error {
	return fileutil.RemoveIfExists(t.path) //nolint:wrapcheck
}
