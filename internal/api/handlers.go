package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"gatotkota/internal/form"
	"gatotkota/internal/preview"
	"gatotkota/internal/upload"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	filesField     = "files"
	sniffLimit     = 3072
	multipartSlack = 1 << 20
)

type createFormResponse struct {
	FormID   string `json:"form_id"`
	MaxFiles int    `json:"max_files"`
}

type formResponse struct {
	ID        string               `json:"id"`
	CreatedAt string               `json:"created_at"`
	MaxFiles  int                  `json:"max_files"`
	Files     []upload.PendingFile `json:"files"`
	Stats     upload.Stats         `json:"stats"`
}

type addFilesResponse struct {
	Added  []upload.PendingFile `json:"added"`
	Errors []string             `json:"errors,omitempty"`
	Form   formResponse         `json:"form"`
}

type uploadResponse struct {
	Uploaded []upload.UploadedFile `json:"uploaded"`
	Failed   []upload.FileFailure  `json:"failed,omitempty"`
	Error    string                `json:"error,omitempty"`
	Stats    upload.Stats          `json:"stats"`
}

type API struct {
	forms       *form.Registry
	previews    *preview.Store
	maxFileSize int64
}

// NewAPI wires handlers to the form registry. previews may be nil when
// thumbnails are disabled.
func NewAPI(forms *form.Registry, previews *preview.Store, maxFileSize int64) *API {
	if maxFileSize <= 0 {
		maxFileSize = upload.DefaultMaxFileSize
	}
	return &API{forms: forms, previews: previews, maxFileSize: maxFileSize}
}

// RegisterRoutes registers API routes on the provided gin engine
func (a *API) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.POST("/forms", a.CreateForm)
		api.GET("/forms/:id", a.GetForm)
		api.DELETE("/forms/:id", a.CloseForm)
		api.POST("/forms/:id/files", a.AddFiles)
		api.DELETE("/forms/:id/files", a.ClearFiles)
		api.DELETE("/forms/:id/files/:fileID", a.RemoveFile)
		api.POST("/forms/:id/upload", a.UploadAll)
		api.POST("/forms/:id/retry", a.RetryFailed)
		api.POST("/forms/:id/submit", a.Submit)
		api.GET("/submissions/:id", a.GetSubmission)
	}
	router.GET("/previews/:name", a.ServePreview)
}

// CreateForm opens a new report form with an empty upload queue
func (a *API) CreateForm(c *gin.Context) {
	created, err := a.forms.Create()
	if err != nil {
		log.Warn().Err(err).Msg("rejecting form creation")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server busy"})
		return
	}
	log.Info().Str("form_id", created.ID).Time("created_at", created.CreatedAt).Msg("form created")
	c.JSON(http.StatusCreated, createFormResponse{FormID: created.ID, MaxFiles: created.Queue.MaxFiles()})
}

// GetForm returns staged files and stats
func (a *API) GetForm(c *gin.Context) {
	if f, ok := a.lookup(c); ok {
		c.JSON(http.StatusOK, toFormResponse(f))
	}
}

// CloseForm discards the form, cancelling uploads and releasing previews
func (a *API) CloseForm(c *gin.Context) {
	id := c.Param("id")
	if err := a.forms.Close(id); err != nil {
		log.Warn().Str("form_id", id).Msg("form not found on close")
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// AddFiles stages the multipart "files" of the request
func (a *API) AddFiles(c *gin.Context) {
	f, ok := a.lookup(c)
	if !ok {
		return
	}
	added, err := a.addFiles(c, f)
	resp := addFilesResponse{Added: added, Errors: errorMessages(err), Form: toFormResponse(f)}
	if err != nil {
		log.Warn().Str("form_id", f.ID).Err(err).Msg("files rejected")
		c.JSON(http.StatusBadRequest, resp)
		return
	}
	log.Info().Str("form_id", f.ID).Int("files_total", resp.Form.Stats.Total).Msg("files added to form")
	c.JSON(http.StatusOK, resp)
}

// RemoveFile drops one staged file unless it is uploading
func (a *API) RemoveFile(c *gin.Context) {
	f, ok := a.lookup(c)
	if !ok {
		return
	}
	if err := f.Queue.Remove(c.Param("fileID")); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// ClearFiles empties the queue regardless of file status
func (a *API) ClearFiles(c *gin.Context) {
	if f, ok := a.lookup(c); ok {
		f.Queue.ClearAll()
		c.Status(http.StatusNoContent)
	}
}

// UploadAll sends every pending file to object storage
func (a *API) UploadAll(c *gin.Context) {
	f, ok := a.lookup(c)
	if !ok {
		return
	}
	uploaded, err := f.Queue.UploadAllPending(c.Request.Context())
	status, resp := toUploadResponse(uploaded, err)
	resp.Stats = f.Queue.Stats()
	if err != nil {
		log.Warn().Str("form_id", f.ID).Err(err).Msg("upload incomplete")
	}
	c.JSON(status, resp)
}

// RetryFailed moves failed files back to pending
func (a *API) RetryFailed(c *gin.Context) {
	if f, ok := a.lookup(c); ok {
		c.JSON(http.StatusOK, gin.H{"requeued": f.Queue.RetryFailed(), "stats": f.Queue.Stats()})
	}
}

// Submit uploads the remaining files and stores the report manifest
func (a *API) Submit(c *gin.Context) {
	id := c.Param("id")
	var report form.Report
	if err := c.ShouldBindJSON(&report); err != nil {
		log.Warn().Str("form_id", id).Err(err).Msg("invalid submit request")
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Errorf("%w: %w", form.ErrInvalidReport, err).Error()})
		return
	}
	sub, err := a.forms.Submit(c.Request.Context(), id, report)
	if err != nil {
		status, resp := toUploadResponse(nil, err)
		if f, ok := a.forms.Get(id); ok {
			resp.Stats = f.Queue.Stats()
		}
		c.JSON(status, resp)
		return
	}
	c.JSON(http.StatusCreated, sub)
}

// GetSubmission returns a stored submission manifest
func (a *API) GetSubmission(c *gin.Context) {
	sub, err := a.forms.LoadSubmission(c.Request.Context(), c.Param("id"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, form.ErrSubmissionNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sub)
}

// ServePreview streams a thumbnail
func (a *API) ServePreview(c *gin.Context) {
	if a.previews == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "previews disabled"})
		return
	}
	path, err := a.previews.Path(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Header("Cache-Control", "private, max-age=300")
	c.File(path)
}

func (a *API) lookup(c *gin.Context) (*form.Form, bool) {
	id := c.Param("id")
	f, ok := a.forms.Get(id)
	if !ok {
		log.Warn().Str("form_id", id).Str("path", c.FullPath()).Msg("form not found")
		c.JSON(http.StatusNotFound, gin.H{"error": form.ErrFormNotFound.Error()})
	}
	return f, ok
}

// addFiles reads the multipart files of the request and stages them as one batch.
func (a *API) addFiles(c *gin.Context, f *form.Form) ([]upload.PendingFile, error) {
	limit := int64(f.Queue.MaxFiles())*a.maxFileSize + multipartSlack
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	mf, err := c.MultipartForm()
	if err != nil {
		return nil, fmt.Errorf("read multipart form: %w", err)
	}
	headers := mf.File[filesField]
	if len(headers) == 0 {
		return nil, upload.ErrNoFiles
	}
	srcs := make([]upload.Source, 0, len(headers))
	for _, fh := range headers {
		src, err := a.readPart(fh)
		if err != nil {
			return nil, err
		}
		srcs = append(srcs, src)
	}
	return f.Queue.AddBatch(srcs) //nolint:wrapcheck
}

// readPart buffers one uploaded part. Parts over the size limit are only
// sniffed, so the queue can reject them without holding their bytes.
func (a *API) readPart(fh *multipart.FileHeader) (upload.Source, error) { //nolint:ireturn
	part, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open part %s: %w", fh.Filename, err)
	}
	defer func() { _ = part.Close() }()

	if fh.Size > a.maxFileSize {
		mt, err := mimetype.DetectReader(io.LimitReader(part, sniffLimit))
		if err != nil {
			return nil, fmt.Errorf("sniff part %s: %w", fh.Filename, err)
		}
		return oversized{name: fh.Filename, size: fh.Size, contentType: mt.String()}, nil
	}
	data, err := io.ReadAll(part)
	if err != nil {
		return nil, fmt.Errorf("read part %s: %w", fh.Filename, err)
	}
	return upload.NewBytesSource(fh.Filename, data), nil
}

type oversized struct {
	name        string
	size        int64
	contentType string
}

func (o oversized) Name() string        { return o.name }
func (o oversized) Size() int64         { return o.size }
func (o oversized) ContentType() string { return o.contentType }
func (o oversized) Open() (io.ReadCloser, error) {
	return nil, upload.ErrFileTooLarge
}

func toFormResponse(f *form.Form) formResponse {
	return formResponse{
		ID:        f.ID,
		CreatedAt: f.CreatedAt.UTC().Format(time.RFC3339),
		MaxFiles:  f.Queue.MaxFiles(),
		Files:     f.Queue.Files(),
		Stats:     f.Queue.Stats(),
	}
}

// toUploadResponse maps upload and submit errors onto status codes.
func toUploadResponse(uploaded []upload.UploadedFile, err error) (int, uploadResponse) {
	resp := uploadResponse{Uploaded: uploaded}
	if resp.Uploaded == nil {
		resp.Uploaded = []upload.UploadedFile{}
	}
	if err == nil {
		return http.StatusOK, resp
	}
	resp.Error = err.Error()
	var partial *upload.PartialUploadError
	switch {
	case errors.As(err, &partial):
		resp.Uploaded = partial.Uploaded
		resp.Failed = partial.Failed
		return http.StatusBadGateway, resp
	case errors.Is(err, form.ErrFormNotFound), errors.Is(err, upload.ErrQueueClosed):
		return http.StatusNotFound, resp
	case errors.Is(err, form.ErrInvalidReport):
		return http.StatusBadRequest, resp
	case errors.Is(err, form.ErrUnresolvedFailures), errors.Is(err, form.ErrUploadsInFlight):
		return http.StatusConflict, resp
	case errors.Is(err, upload.ErrNoUploader):
		return http.StatusServiceUnavailable, resp
	default:
		return http.StatusInternalServerError, resp
	}
}

// errorMessages flattens joined validation errors into one message each.
func errorMessages(err error) []string {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok { //nolint:errorlint
		msgs := make([]string, 0, len(joined.Unwrap()))
		for _, e := range joined.Unwrap() {
			msgs = append(msgs, e.Error())
		}
		return msgs
	}
	return []string{err.Error()}
}
