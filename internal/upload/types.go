package upload

import (
	"context"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusUploading Status = "uploading"
	StatusUploaded  Status = "uploaded"
	StatusFailed    Status = "failed"
)

// PendingFile is a snapshot of one staged file. Values returned by the queue
// are copies; mutating them does not affect the queue.
type PendingFile struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	PreviewURL  string    `json:"preview_url,omitempty"`
	Status      Status    `json:"status"`
	Progress    int       `json:"progress"`
	RemoteURL   string    `json:"remote_url,omitempty"`
	RemoteID    string    `json:"remote_id,omitempty"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// UploadedFile describes a file that reached object storage.
type UploadedFile struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	PublicID string `json:"public_id"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Type     string `json:"type"`
}

type Stats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Uploading int `json:"uploading"`
	Uploaded  int `json:"uploaded"`
	Failed    int `json:"failed"`
}

// Remote is what the storage endpoint returns for a stored object.
type Remote struct {
	URL      string
	PublicID string
}

// Uploader sends one file to object storage. onProgress receives values in
// 0..100 and may be called from the uploading goroutine.
type Uploader interface {
	Upload(ctx context.Context, src Source, onProgress func(percent int)) (Remote, error)
}

// Preview is a local, revocable reference used for on-screen display.
type Preview interface {
	URL() string
	Release() error
}

// Previewer allocates a preview for a newly staged file.
type Previewer interface {
	Acquire(id string, src Source) (Preview, error)
}

type Options struct {
	MaxFiles             int
	MaxFileSize          int64
	AllowedTypes         []string
	MaxConcurrentUploads int
	UploadTimeout        time.Duration
	Uploader             Uploader
	Previewer            Previewer
}

const (
	DefaultMaxFiles             = 3
	DefaultMaxFileSize          = 5 << 20
	DefaultMaxConcurrentUploads = 3
	DefaultUploadTimeout        = 30 * time.Second

	// progressStarted is reported as soon as a request is issued, before the
	// transport has reported any bytes.
	progressStarted = 10
)

// DefaultAllowedTypes is the image allow-list used when none is configured.
func DefaultAllowedTypes() []string {
	return []string{"image/jpeg", "image/png"}
}
