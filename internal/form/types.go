package form

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gatotkota/internal/upload"

	"github.com/go-playground/validator/v10"
)

// Form is one in-progress report submission with its own upload queue.
type Form struct {
	ID        string
	CreatedAt time.Time
	Queue     *upload.Queue

	lastActive atomic.Int64
	submitMu   sync.Mutex
}

func (f *Form) touch(now time.Time) { f.lastActive.Store(now.UnixNano()) }

// LastActive reports when the form was last accessed.
func (f *Form) LastActive() time.Time { return time.Unix(0, f.lastActive.Load()) }

// Report is the citizen-facing payload submitted together with the photos.
// The binding tags are enforced by gin when binding requests and by Validate.
type Report struct {
	Title       string  `json:"title" form:"title" binding:"required,max=200"`
	Description string  `json:"description" form:"description" binding:"max=5000"`
	Province    string  `json:"province" form:"province" binding:"max=100"`
	Latitude    float64 `json:"latitude" form:"latitude" binding:"gte=-90,lte=90"`
	Longitude   float64 `json:"longitude" form:"longitude" binding:"gte=-180,lte=180"`
}

var reportValidator = func() *validator.Validate {
	v := validator.New()
	v.SetTagName("binding")
	return v
}()

// Normalize trims the free-text fields.
func (r Report) Normalize() Report {
	r.Title = strings.TrimSpace(r.Title)
	r.Description = strings.TrimSpace(r.Description)
	r.Province = strings.TrimSpace(r.Province)
	return r
}

// Validate checks the binding rules. NaN coordinates fail the range rules.
func (r Report) Validate() error {
	if err := reportValidator.Struct(r); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidReport, err)
	}
	return nil
}

// Submission is the manifest written once every photo reached storage.
type Submission struct {
	ID          string                `json:"id"`
	FormID      string                `json:"form_id"`
	Report      Report                `json:"report"`
	Attachments []upload.UploadedFile `json:"attachments"`
	SubmittedAt time.Time             `json:"submitted_at"`
}

type Options struct {
	DataDir string
	MaxOpen int
	Queue   upload.Options
	// Store defaults to JSON files under DataDir.
	Store SubmissionStore
}

const defaultMaxOpen = 100
