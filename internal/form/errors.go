package form

import "errors"

var (
	ErrBusy               = errors.New("too many open forms")
	ErrFormNotFound       = errors.New("form not found")
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrInvalidReport      = errors.New("invalid report")
	ErrUnresolvedFailures = errors.New("form has failed uploads: retry or remove them")
	ErrUploadsInFlight    = errors.New("form has uploads in flight: wait for them to finish")
)
