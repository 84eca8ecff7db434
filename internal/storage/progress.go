package storage

import (
	"io"
	"sync/atomic"
)

// progressReader reports the share of total bytes read so far.
type progressReader struct {
	r          io.Reader
	total      int64
	read       atomic.Int64
	onProgress func(percent int)
}

func newProgressReader(r io.Reader, total int64, onProgress func(int)) *progressReader {
	if onProgress == nil {
		onProgress = func(int) {}
	}
	return &progressReader{r: r, total: total, onProgress: onProgress}
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.report(p.read.Add(int64(n)))
	}
	return n, err
}

// Seek is available when the underlying reader can seek; the SDK rewinds
// bodies to compute checksums before sending.
func (p *progressReader) Seek(offset int64, whence int) (int64, error) {
	s, ok := p.r.(io.Seeker)
	if !ok {
		return 0, errNotSeekable
	}
	pos, err := s.Seek(offset, whence)
	if err == nil {
		p.read.Store(pos)
	}
	return pos, err
}

func (p *progressReader) report(read int64) {
	if p.total <= 0 {
		return
	}
	percent := int(read * 100 / p.total)
	if percent > 100 {
		percent = 100
	}
	p.onProgress(percent)
}
