package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"gatotkota/internal/upload"
)

var ErrMissingEndpoint = errors.New("storage endpoint not configured")

// PresetUploader posts files to an unsigned upload-preset endpoint as
// multipart form data.
type PresetUploader struct {
	endpoint string
	preset   string
	folder   string
	client   *http.Client
}

type presetResponse struct {
	URL       string `json:"url"`
	SecureURL string `json:"secure_url"`
	PublicID  string `json:"public_id"`
}

type presetErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// NewPresetUploader returns an uploader for endpoint. A nil client uses
// http.DefaultClient; per-request deadlines come from the context.
func NewPresetUploader(endpoint, preset, folder string, client *http.Client) (*PresetUploader, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, ErrMissingEndpoint
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &PresetUploader{endpoint: endpoint, preset: preset, folder: folder, client: client}, nil
}

func (u *PresetUploader) Upload(ctx context.Context, src upload.Source, onProgress func(int)) (upload.Remote, error) {
	body, err := src.Open()
	if err != nil {
		return upload.Remote{}, fmt.Errorf("open source: %w", err)
	}
	defer func() { _ = body.Close() }()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	written := make(chan struct{})
	go func() {
		defer close(written)
		pw.CloseWithError(u.writeForm(mw, src, newProgressReader(body, src.Size(), onProgress)))
	}()
	// The writer must be done with body before the deferred body.Close runs.
	defer func() {
		_ = pr.Close()
		<-written
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint, pr)
	if err != nil {
		return upload.Remote{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := u.client.Do(req)
	if err != nil {
		return upload.Remote{}, fmt.Errorf("post to storage: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return upload.Remote{}, fmt.Errorf("storage http %d: %s", resp.StatusCode, diagnostic(resp.Body))
	}

	var out presetResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return upload.Remote{}, fmt.Errorf("decode storage response: %w", err)
	}
	url := out.SecureURL
	if url == "" {
		url = out.URL
	}
	return upload.Remote{URL: url, PublicID: out.PublicID}, nil
}

func (u *PresetUploader) writeForm(mw *multipart.Writer, src upload.Source, body io.Reader) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, src.Name()))
	h.Set("Content-Type", src.ContentType())
	part, err := mw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create file part: %w", err)
	}
	if _, err := io.Copy(part, body); err != nil {
		return fmt.Errorf("copy file part: %w", err)
	}
	if err := mw.WriteField("upload_preset", u.preset); err != nil {
		return fmt.Errorf("write preset: %w", err)
	}
	if u.folder != "" {
		if err := mw.WriteField("folder", u.folder); err != nil {
			return fmt.Errorf("write folder: %w", err)
		}
	}
	return mw.Close() //nolint:wrapcheck
}

// diagnostic extracts a message from a failed response, if there is one.
func diagnostic(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, diagnosticLimit))
	var e presetErrorResponse
	if err := json.Unmarshal(raw, &e); err == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	if msg := strings.TrimSpace(string(raw)); msg != "" {
		return msg
	}
	return "no diagnostic"
}
