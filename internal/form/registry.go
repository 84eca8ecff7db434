// Package form tracks open report forms. Each form owns exactly one
// upload queue for its lifetime; closing the form tears the queue down.
package form

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gatotkota/internal/upload"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type Registry struct {
	mu        sync.RWMutex
	forms     map[string]*Form
	maxOpen   int
	queueOpts upload.Options
	store     SubmissionStore
	now       func() time.Time
}

func NewRegistry(opts Options) *Registry {
	if opts.MaxOpen <= 0 {
		opts.MaxOpen = defaultMaxOpen
	}
	if opts.Store == nil {
		opts.Store = NewFileStore(opts.DataDir)
	}
	return &Registry{
		forms:     make(map[string]*Form),
		maxOpen:   opts.MaxOpen,
		queueOpts: opts.Queue,
		store:     opts.Store,
		now:       time.Now,
	}
}

// IsBusy reports whether the registry is at its open-form limit.
func (r *Registry) IsBusy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.forms) >= r.maxOpen
}

// Create opens a new form with an empty queue.
func (r *Registry) Create() (*Form, error) {
	now := r.now()
	f := &Form{
		ID:        uuid.NewString(),
		CreatedAt: now,
		Queue:     upload.NewQueue(r.queueOpts),
	}
	f.touch(now)

	r.mu.Lock()
	if len(r.forms) >= r.maxOpen {
		r.mu.Unlock()
		f.Queue.Close()
		return nil, ErrBusy
	}
	r.forms[f.ID] = f
	r.mu.Unlock()
	return f, nil
}

// Get returns an open form and marks it active.
func (r *Registry) Get(id string) (*Form, bool) {
	r.mu.RLock()
	f, ok := r.forms[id]
	r.mu.RUnlock()
	if ok {
		f.touch(r.now())
	}
	return f, ok
}

// Close removes the form and closes its queue, cancelling in-flight
// uploads and releasing previews.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	f, ok := r.forms[id]
	delete(r.forms, id)
	r.mu.Unlock()
	if !ok {
		return ErrFormNotFound
	}
	f.Queue.Close()
	log.Info().Str("form_id", id).Msg("form closed")
	return nil
}

// Submit uploads every pending photo and, when all of them are in storage,
// persists the submission manifest and closes the form. A partial upload
// failure keeps the form open so the user can retry or remove files.
func (r *Registry) Submit(ctx context.Context, id string, report Report) (*Submission, error) {
	report = report.Normalize()
	if err := report.Validate(); err != nil {
		return nil, err
	}
	f, ok := r.Get(id)
	if !ok {
		return nil, ErrFormNotFound
	}
	f.submitMu.Lock()
	defer f.submitMu.Unlock()
	if !r.isOpen(f) {
		return nil, ErrFormNotFound
	}
	if _, err := f.Queue.UploadAllPending(ctx); err != nil {
		return nil, err //nolint:wrapcheck
	}

	// A concurrent upload request or a late add leaves files behind the batch
	// above; the manifest must not be written without them.
	attachments := make([]upload.UploadedFile, 0, f.Queue.MaxFiles())
	for _, pf := range f.Queue.Files() {
		switch pf.Status {
		case upload.StatusUploaded:
			attachments = append(attachments, upload.UploadedFile{
				ID: pf.ID, URL: pf.RemoteURL, PublicID: pf.RemoteID,
				Name: pf.Name, Size: pf.Size, Type: pf.ContentType,
			})
		case upload.StatusFailed:
			return nil, ErrUnresolvedFailures
		case upload.StatusPending, upload.StatusUploading:
			return nil, ErrUploadsInFlight
		}
	}

	sub := &Submission{
		ID:          uuid.NewString(),
		FormID:      f.ID,
		Report:      report,
		Attachments: attachments,
		SubmittedAt: r.now().UTC(),
	}
	if err := r.store.SaveSubmission(ctx, sub); err != nil {
		return nil, fmt.Errorf("save submission: %w", err)
	}
	log.Info().Str("form_id", f.ID).Str("submission_id", sub.ID).Int("attachments", len(attachments)).Msg("report submitted")

	if err := r.Close(f.ID); err != nil && !errors.Is(err, ErrFormNotFound) {
		return sub, err
	}
	return sub, nil
}

func (r *Registry) isOpen(f *Form) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.forms[f.ID] == f
}

// LoadSubmission reads a stored manifest.
func (r *Registry) LoadSubmission(ctx context.Context, id string) (*Submission, error) {
	return r.store.LoadSubmission(ctx, id) //nolint:wrapcheck
}

// ExpireIdle closes forms untouched for longer than maxIdle. Forms with
// uploads in flight are kept.
func (r *Registry) ExpireIdle(maxIdle time.Duration) int {
	cutoff := r.now().Add(-maxIdle)
	r.mu.RLock()
	stale := make([]string, 0)
	for id, f := range r.forms {
		if f.LastActive().Before(cutoff) && f.Queue.Stats().Uploading == 0 {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()

	closed := 0
	for _, id := range stale {
		if err := r.Close(id); err == nil {
			closed++
		}
	}
	return closed
}

// CloseAll closes every open form. It returns false if ctx ends first.
func (r *Registry) CloseAll(ctx context.Context) bool {
	r.mu.Lock()
	forms := r.forms
	r.forms = make(map[string]*Form)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, f := range forms {
		f := f
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.Queue.Close()
		}()
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
