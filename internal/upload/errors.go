package upload

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrTypeNotAllowed = errors.New("file type not allowed")
	ErrFileTooLarge   = errors.New("file too large")
	ErrQueueFull      = errors.New("too many files")
	ErrNoFiles        = errors.New("no files provided")
	ErrFileUploading  = errors.New("file is uploading")
	ErrNoUploader     = errors.New("no uploader configured")
	ErrQueueClosed    = errors.New("queue closed")

	ErrPartialUpload  = errors.New("partial upload failure")
	ErrUploadTimeout  = errors.New("upload timed out")
	ErrUploadCanceled = errors.New("upload canceled")
)

// ValidationError rejects a file before it enters the queue.
type ValidationError struct {
	Name   string
	Reason error
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return e.Name + ": " + e.Reason.Error()
	}
	return e.Name + ": " + e.Reason.Error() + " (" + e.Detail + ")"
}

func (e *ValidationError) Unwrap() error { return e.Reason }

// FileFailure is the per-file outcome of a failed upload.
type FileFailure struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Error string `json:"error"`
}

// PartialUploadError is returned by UploadAllPending when at least one file
// failed. Files that succeeded stay uploaded in the queue.
type PartialUploadError struct {
	Uploaded []UploadedFile
	Failed   []FileFailure
}

func (e *PartialUploadError) Error() string {
	names := make([]string, 0, len(e.Failed))
	for _, f := range e.Failed {
		names = append(names, f.Name+": "+f.Error)
	}
	return fmt.Sprintf("%s: %d of %d files failed [%s]",
		ErrPartialUpload, len(e.Failed), len(e.Failed)+len(e.Uploaded), strings.Join(names, "; "))
}

func (e *PartialUploadError) Unwrap() error { return ErrPartialUpload }
