package upload

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var errIncompleteRemote = errors.New("storage response missing url or id")

// UploadAllPending uploads every pending file concurrently, at most
// MaxConcurrentUploads at a time. Files in other states are left alone.
// When any file fails the returned error is a *PartialUploadError; files that
// succeeded stay uploaded and are listed in both the result and the error.
func (q *Queue) UploadAllPending(ctx context.Context) ([]UploadedFile, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrQueueClosed
	}
	batch := make([]*entry, 0, len(q.entries))
	for _, e := range q.entries {
		if e.file.Status == StatusPending {
			batch = append(batch, e)
		}
	}
	if len(batch) == 0 {
		q.mu.Unlock()
		return []UploadedFile{}, nil
	}
	if q.uploader == nil {
		q.mu.Unlock()
		return nil, ErrNoUploader
	}
	for _, e := range batch {
		e.file.Status = StatusUploading
		e.file.Progress = 0
	}
	q.inflight.Add(1)
	q.mu.Unlock()
	defer q.inflight.Done()

	// Close cancels the queue's base context; tie it to this batch.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(q.baseCtx, cancel)
	defer stop()

	log.Info().Int("files", len(batch)).Int("concurrency", q.maxConcurrent).Msg("upload batch started")

	failures := make([]error, len(batch))
	var group errgroup.Group
	group.SetLimit(q.maxConcurrent)
	for i, e := range batch {
		i, e := i, e
		group.Go(func() error {
			failures[i] = q.uploadOne(runCtx, e)
			return nil
		})
	}
	_ = group.Wait()

	uploaded := make([]UploadedFile, 0, len(batch))
	var failed []FileFailure
	q.mu.RLock()
	for i, e := range batch {
		if failures[i] != nil {
			failed = append(failed, FileFailure{ID: e.file.ID, Name: e.file.Name, Error: e.file.Error})
			continue
		}
		uploaded = append(uploaded, UploadedFile{
			ID:       e.file.ID,
			URL:      e.file.RemoteURL,
			PublicID: e.file.RemoteID,
			Name:     e.file.Name,
			Size:     e.file.Size,
			Type:     e.file.ContentType,
		})
	}
	q.mu.RUnlock()

	if len(failed) > 0 {
		log.Warn().Int("uploaded", len(uploaded)).Int("failed", len(failed)).Msg("upload batch partially failed")
		return uploaded, &PartialUploadError{Uploaded: uploaded, Failed: failed}
	}
	log.Info().Int("uploaded", len(uploaded)).Msg("upload batch completed")
	return uploaded, nil
}

// uploadOne drives a single file from uploading to uploaded or failed.
func (q *Queue) uploadOne(parent context.Context, e *entry) error {
	ctx, cancel := context.WithTimeout(parent, q.uploadTimeout)
	defer cancel()

	q.setProgress(e, progressStarted)
	remote, err := q.uploader.Upload(ctx, e.source, func(percent int) { q.setProgress(e, percent) })
	if err == nil && (remote.URL == "" || remote.PublicID == "") {
		err = errIncompleteRemote
	}
	if err != nil {
		err = q.classify(ctx, parent, err)
		q.mu.Lock()
		e.file.Status = StatusFailed
		e.file.Error = err.Error()
		q.mu.Unlock()
		log.Warn().Str("file_id", e.file.ID).Str("file", e.file.Name).Err(err).Msg("upload failed")
		return err
	}

	q.mu.Lock()
	e.file.Status = StatusUploaded
	e.file.Progress = 100
	e.file.RemoteURL = remote.URL
	e.file.RemoteID = remote.PublicID
	q.mu.Unlock()
	log.Debug().Str("file_id", e.file.ID).Str("url", remote.URL).Msg("file uploaded")
	return nil
}

// classify maps context termination onto the timeout and cancel kinds.
func (q *Queue) classify(ctx, parent context.Context, err error) error {
	switch {
	case parent.Err() != nil:
		return fmt.Errorf("%w: %w", ErrUploadCanceled, parent.Err())
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w after %s", ErrUploadTimeout, q.uploadTimeout)
	default:
		return err
	}
}

// setProgress only moves forward and never reports completion; 100 is set
// when the storage call returns successfully.
func (q *Queue) setProgress(e *entry, percent int) {
	if percent > 99 {
		percent = 99
	}
	q.mu.Lock()
	if e.file.Status == StatusUploading && percent > e.file.Progress {
		e.file.Progress = percent
	}
	q.mu.Unlock()
}
