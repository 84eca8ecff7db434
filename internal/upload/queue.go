package upload

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var ErrPreviewFailed = errors.New("preview unavailable")

type entry struct {
	file    PendingFile
	source  Source
	preview Preview
}

// Queue stages files for one report form and drives them to object storage.
// It is safe for concurrent use.
type Queue struct {
	mu       sync.RWMutex
	entries  []*entry
	reserved int
	closed   bool

	maxFiles      int
	maxFileSize   int64
	allowedTypes  map[string]struct{}
	maxConcurrent int
	uploadTimeout time.Duration
	uploader      Uploader
	previewer     Previewer

	baseCtx  context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup
}

// NewQueue creates an empty queue. Zero option values fall back to defaults.
func NewQueue(opts Options) *Queue {
	if opts.MaxFiles <= 0 {
		opts.MaxFiles = DefaultMaxFiles
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	if opts.MaxConcurrentUploads <= 0 {
		opts.MaxConcurrentUploads = DefaultMaxConcurrentUploads
	}
	if opts.UploadTimeout <= 0 {
		opts.UploadTimeout = DefaultUploadTimeout
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	return &Queue{
		entries:       make([]*entry, 0, opts.MaxFiles),
		maxFiles:      opts.MaxFiles,
		maxFileSize:   opts.MaxFileSize,
		allowedTypes:  normalizeTypes(opts.AllowedTypes),
		maxConcurrent: opts.MaxConcurrentUploads,
		uploadTimeout: opts.UploadTimeout,
		uploader:      opts.Uploader,
		previewer:     opts.Previewer,
		baseCtx:       baseCtx,
		cancel:        cancel,
	}
}

// MaxFiles reports the configured capacity.
func (q *Queue) MaxFiles() int { return q.maxFiles }

// Add validates src and stages it as a pending file.
func (q *Queue) Add(src Source) (PendingFile, error) {
	added, err := q.AddBatch([]Source{src})
	if err != nil {
		return PendingFile{}, err
	}
	return added[0], nil
}

// AddBatch stages several files at once. Capacity is checked for the whole
// batch: if the batch does not fit nothing is added. Type and size are checked
// per file; valid files are added and the rejected ones are reported together
// in the returned error.
func (q *Queue) AddBatch(srcs []Source) ([]PendingFile, error) {
	if len(srcs) == 0 {
		return nil, ErrNoFiles
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrQueueClosed
	}
	if len(q.entries)+q.reserved+len(srcs) > q.maxFiles {
		q.mu.Unlock()
		return nil, &ValidationError{
			Name:   fmt.Sprintf("%d files", len(srcs)),
			Reason: ErrQueueFull,
			Detail: fmt.Sprintf("max %d per form", q.maxFiles),
		}
	}
	q.reserved += len(srcs)
	q.mu.Unlock()

	staged := make([]*entry, 0, len(srcs))
	var rejected []error
	for _, src := range srcs {
		e, err := q.stage(src)
		if err != nil {
			log.Warn().Str("file", src.Name()).Err(err).Msg("file rejected")
			rejected = append(rejected, err)
			continue
		}
		staged = append(staged, e)
	}

	q.mu.Lock()
	q.reserved -= len(srcs)
	if q.closed {
		q.mu.Unlock()
		for _, e := range staged {
			q.release(e)
		}
		return nil, ErrQueueClosed
	}
	q.entries = append(q.entries, staged...)
	added := make([]PendingFile, 0, len(staged))
	for _, e := range staged {
		added = append(added, e.file)
	}
	q.mu.Unlock()

	if len(added) > 0 {
		log.Info().Int("added", len(added)).Int("rejected", len(rejected)).Msg("files staged")
	}
	return added, errors.Join(rejected...)
}

// stage validates src and allocates its preview.
func (q *Queue) stage(src Source) (*entry, error) {
	if err := q.validateFile(src); err != nil {
		return nil, err
	}
	e := &entry{
		file: PendingFile{
			ID:          newID(),
			Name:        src.Name(),
			Size:        src.Size(),
			ContentType: baseType(src.ContentType()),
			Status:      StatusPending,
			CreatedAt:   time.Now(),
		},
		source: src,
	}
	if q.previewer != nil {
		p, err := q.previewer.Acquire(e.file.ID, src)
		if err != nil {
			return nil, &ValidationError{Name: src.Name(), Reason: ErrPreviewFailed, Detail: err.Error()}
		}
		e.preview = &onceRelease{Preview: p}
		e.file.PreviewURL = p.URL()
	}
	return e, nil
}

// Remove drops a file and releases its preview. Unknown ids are ignored.
// Files that are currently uploading cannot be removed.
func (q *Queue) Remove(id string) error {
	q.mu.Lock()
	idx := q.indexOf(id)
	if idx < 0 {
		q.mu.Unlock()
		return nil
	}
	e := q.entries[idx]
	if e.file.Status == StatusUploading {
		q.mu.Unlock()
		return ErrFileUploading
	}
	q.entries = slices.Delete(q.entries, idx, idx+1)
	q.mu.Unlock()

	q.release(e)
	return nil
}

// ClearAll releases every preview and empties the queue regardless of status.
func (q *Queue) ClearAll() {
	q.mu.Lock()
	cleared := q.entries
	q.entries = make([]*entry, 0, q.maxFiles)
	q.mu.Unlock()

	for _, e := range cleared {
		q.release(e)
	}
	if len(cleared) > 0 {
		log.Info().Int("cleared", len(cleared)).Msg("pending files cleared")
	}
}

// RetryFailed moves failed files back to pending so the next UploadAllPending
// picks them up. It returns how many files were requeued.
func (q *Queue) RetryFailed() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, e := range q.entries {
		if e.file.Status != StatusFailed {
			continue
		}
		e.file.Status = StatusPending
		e.file.Progress = 0
		e.file.Error = ""
		n++
	}
	return n
}

// Stats counts files per status.
func (q *Queue) Stats() Stats {
	q.mu.RLock()
	defer q.mu.RUnlock()
	s := Stats{Total: len(q.entries)}
	for _, e := range q.entries {
		switch e.file.Status {
		case StatusPending:
			s.Pending++
		case StatusUploading:
			s.Uploading++
		case StatusUploaded:
			s.Uploaded++
		case StatusFailed:
			s.Failed++
		}
	}
	return s
}

// Files returns the staged files in insertion order.
func (q *Queue) Files() []PendingFile {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]PendingFile, 0, len(q.entries))
	for _, e := range q.entries {
		out = append(out, e.file)
	}
	return out
}

// File returns a single staged file by id.
func (q *Queue) File(id string) (PendingFile, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if idx := q.indexOf(id); idx >= 0 {
		return q.entries[idx].file, true
	}
	return PendingFile{}, false
}

// Close cancels in-flight uploads, waits for them to settle and clears the
// queue. Further adds and uploads fail with ErrQueueClosed.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.cancel()
	q.inflight.Wait()
	q.ClearAll()
}

// indexOf must be called with q.mu held.
func (q *Queue) indexOf(id string) int {
	return slices.IndexFunc(q.entries, func(e *entry) bool { return e.file.ID == id })
}

func (q *Queue) release(e *entry) {
	if e.preview == nil {
		return
	}
	if err := e.preview.Release(); err != nil {
		log.Warn().Str("file_id", e.file.ID).Err(err).Msg("release preview failed")
	}
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// onceRelease makes Release idempotent.
type onceRelease struct {
	Preview
	once sync.Once
	err  error
}

func (p *onceRelease) Release() error {
	p.once.Do(func() { p.err = p.Preview.Release() })
	return p.err
}
