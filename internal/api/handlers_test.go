package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"gatotkota/internal/form"
	"gatotkota/internal/upload"

	"github.com/gin-gonic/gin"
)

var (
	jpegBytes = append([]byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}, make([]byte, 64)...)
	pngBytes  = append([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n'}, make([]byte, 64)...)
)

type uploaderFunc func(ctx context.Context, src upload.Source, onProgress func(int)) (upload.Remote, error)

func (f uploaderFunc) Upload(ctx context.Context, src upload.Source, onProgress func(int)) (upload.Remote, error) {
	return f(ctx, src, onProgress)
}

func failingOn(name string) upload.Uploader {
	return uploaderFunc(func(_ context.Context, src upload.Source, _ func(int)) (upload.Remote, error) {
		if src.Name() == name {
			return upload.Remote{}, errors.New("connection reset")
		}
		return upload.Remote{URL: "https://cdn.example/" + src.Name(), PublicID: "gk/" + src.Name()}, nil
	})
}

type part struct {
	name string
	data []byte
}

func setupRouter(t *testing.T, uploader upload.Uploader) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	testRouter := gin.New()
	forms := form.NewRegistry(form.Options{
		DataDir: t.TempDir(),
		Queue:   upload.Options{Uploader: uploader, UploadTimeout: 2 * time.Second},
	})
	apiHandler := NewAPI(forms, nil, upload.DefaultMaxFileSize)
	apiHandler.RegisterRoutes(testRouter)
	apiHandler.RegisterUIRoutes(testRouter)
	return testRouter
}

func do(t *testing.T, router *gin.Engine, method, path string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func createForm(t *testing.T, router *gin.Engine) string {
	t.Helper()
	w := do(t, router, http.MethodPost, "/api/v1/forms", nil, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d", http.StatusCreated, w.Code)
	}
	var resp createFormResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.FormID == "" {
		t.Fatalf("expected non-empty form_id")
	}
	return resp.FormID
}

func addFiles(t *testing.T, router *gin.Engine, id string, parts ...part) (*httptest.ResponseRecorder, addFilesResponse) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for _, p := range parts {
		fw, err := mw.CreateFormFile(filesField, p.name)
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		_, _ = fw.Write(p.data)
	}
	_ = mw.Close()

	w := do(t, router, http.MethodPost, "/api/v1/forms/"+id+"/files", body, mw.FormDataContentType())
	var resp addFilesResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v (%s)", err, w.Body.String())
	}
	return w, resp
}

func getForm(t *testing.T, router *gin.Engine, id string) formResponse {
	t.Helper()
	w := do(t, router, http.MethodGet, "/api/v1/forms/"+id, nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	var resp formResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	return resp
}

func TestCreateForm(t *testing.T) {
	router := setupRouter(t, failingOn(""))
	id := createForm(t, router)

	resp := getForm(t, router, id)
	if resp.MaxFiles != upload.DefaultMaxFiles || resp.Stats.Total != 0 {
		t.Fatalf("unexpected empty form: %+v", resp)
	}
}

func TestAddFilesAndUpload(t *testing.T) {
	router := setupRouter(t, failingOn(""))
	id := createForm(t, router)

	w, resp := addFiles(t, router, id, part{"pothole.jpg", jpegBytes}, part{"flood.png", pngBytes})
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	if len(resp.Added) != 2 || resp.Form.Stats.Pending != 2 {
		t.Fatalf("expected two pending files, got %+v", resp.Form.Stats)
	}
	if resp.Added[1].ContentType != "image/png" {
		t.Fatalf("expected sniffed png type, got %q", resp.Added[1].ContentType)
	}

	w = do(t, router, http.MethodPost, "/api/v1/forms/"+id+"/upload", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	var up uploadResponse
	if err := json.Unmarshal(w.Body.Bytes(), &up); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if len(up.Uploaded) != 2 || up.Stats.Uploaded != 2 {
		t.Fatalf("expected both files uploaded, got %+v", up)
	}
	if up.Uploaded[0].URL != "https://cdn.example/pothole.jpg" {
		t.Fatalf("unexpected url %q", up.Uploaded[0].URL)
	}
}

func TestAddFilesRejectsInvalidFiles(t *testing.T) {
	router := setupRouter(t, failingOn(""))
	id := createForm(t, router)

	big := append(append([]byte{}, jpegBytes...), make([]byte, 6<<20)...)
	w, resp := addFiles(t, router, id,
		part{"ok.jpg", jpegBytes},
		part{"notes.txt", []byte("just some text")},
		part{"huge.jpg", big},
	)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
	if len(resp.Errors) != 2 {
		t.Fatalf("expected two rejection messages, got %v", resp.Errors)
	}
	if len(resp.Added) != 1 || resp.Form.Stats.Total != 1 {
		t.Fatalf("expected the valid file to be staged, got %+v", resp.Form.Stats)
	}
}

func TestAddFilesRejectsOverCapacity(t *testing.T) {
	router := setupRouter(t, failingOn(""))
	id := createForm(t, router)

	w, resp := addFiles(t, router, id,
		part{"1.jpg", jpegBytes}, part{"2.jpg", jpegBytes},
		part{"3.jpg", jpegBytes}, part{"4.jpg", jpegBytes},
	)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
	if resp.Form.Stats.Total != 0 {
		t.Fatalf("over-capacity batch must not stage anything, got %d", resp.Form.Stats.Total)
	}
}

func TestUploadPartialFailureAndRetry(t *testing.T) {
	router := setupRouter(t, failingOn("b.jpg"))
	id := createForm(t, router)
	addFiles(t, router, id, part{"a.jpg", jpegBytes}, part{"b.jpg", jpegBytes})

	w := do(t, router, http.MethodPost, "/api/v1/forms/"+id+"/upload", nil, "")
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected status %d, got %d", http.StatusBadGateway, w.Code)
	}
	var up uploadResponse
	if err := json.Unmarshal(w.Body.Bytes(), &up); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if len(up.Uploaded) != 1 || len(up.Failed) != 1 || up.Failed[0].Name != "b.jpg" {
		t.Fatalf("unexpected partial result: %+v", up)
	}
	if up.Stats.Uploaded != 1 || up.Stats.Failed != 1 {
		t.Fatalf("unexpected stats: %+v", up.Stats)
	}

	w = do(t, router, http.MethodPost, "/api/v1/forms/"+id+"/retry", nil, "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"requeued":1`) {
		t.Fatalf("expected one requeued file, got %d %s", w.Code, w.Body.String())
	}
	if got := getForm(t, router, id).Stats; got.Pending != 1 || got.Failed != 0 {
		t.Fatalf("unexpected stats after retry: %+v", got)
	}
}

func TestRemoveFileWhileUploading(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	blocking := uploaderFunc(func(ctx context.Context, src upload.Source, _ func(int)) (upload.Remote, error) {
		close(started)
		select {
		case <-release:
			return upload.Remote{URL: "https://cdn.example/" + src.Name(), PublicID: src.Name()}, nil
		case <-ctx.Done():
			return upload.Remote{}, ctx.Err()
		}
	})
	router := setupRouter(t, blocking)
	id := createForm(t, router)
	_, resp := addFiles(t, router, id, part{"a.jpg", jpegBytes})
	fileID := resp.Added[0].ID

	done := make(chan int)
	go func() {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/forms/"+id+"/upload", nil))
		done <- w.Code
	}()
	<-started

	w := do(t, router, http.MethodDelete, "/api/v1/forms/"+id+"/files/"+fileID, nil, "")
	if w.Code != http.StatusConflict {
		t.Fatalf("expected status %d, got %d", http.StatusConflict, w.Code)
	}
	close(release)
	if code := <-done; code != http.StatusOK {
		t.Fatalf("expected upload status %d, got %d", http.StatusOK, code)
	}

	w = do(t, router, http.MethodDelete, "/api/v1/forms/"+id+"/files/"+fileID, nil, "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, w.Code)
	}
	if got := getForm(t, router, id).Stats.Total; got != 0 {
		t.Fatalf("expected empty queue, got %d", got)
	}
}

func TestSubmitAndFetchSubmission(t *testing.T) {
	router := setupRouter(t, failingOn(""))
	id := createForm(t, router)
	addFiles(t, router, id, part{"a.jpg", jpegBytes})

	body := bytes.NewBufferString(`{"title":"Jalan berlubang","province":"Jawa Barat","latitude":-6.9,"longitude":107.6}`)
	w := do(t, router, http.MethodPost, "/api/v1/forms/"+id+"/submit", body, "application/json")
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, w.Code, w.Body.String())
	}
	var sub form.Submission
	if err := json.Unmarshal(w.Body.Bytes(), &sub); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if len(sub.Attachments) != 1 || sub.Report.Title != "Jalan berlubang" {
		t.Fatalf("unexpected submission: %+v", sub)
	}

	if w = do(t, router, http.MethodGet, "/api/v1/submissions/"+sub.ID, nil, ""); w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if w = do(t, router, http.MethodGet, "/api/v1/forms/"+id, nil, ""); w.Code != http.StatusNotFound {
		t.Fatalf("submitted form should be closed, got %d", w.Code)
	}
}

func TestSubmitRejectsMissingTitle(t *testing.T) {
	router := setupRouter(t, failingOn(""))
	id := createForm(t, router)

	w := do(t, router, http.MethodPost, "/api/v1/forms/"+id+"/submit", bytes.NewBufferString(`{"title":" "}`), "application/json")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestUnknownForm(t *testing.T) {
	router := setupRouter(t, failingOn(""))

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/forms/missing"},
		{http.MethodPost, "/api/v1/forms/missing/upload"},
		{http.MethodDelete, "/api/v1/forms/missing"},
		{http.MethodGet, "/api/v1/submissions/missing"},
		{http.MethodGet, "/previews/x.jpg"},
	} {
		if w := do(t, router, tc.method, tc.path, nil, ""); w.Code != http.StatusNotFound {
			t.Fatalf("%s %s: expected status %d, got %d", tc.method, tc.path, http.StatusNotFound, w.Code)
		}
	}
}

func TestUIFormPage(t *testing.T) {
	router := setupRouter(t, failingOn(""))

	w := do(t, router, http.MethodPost, "/ui/forms", nil, "")
	if w.Code != http.StatusFound {
		t.Fatalf("expected status %d, got %d", http.StatusFound, w.Code)
	}
	loc := w.Header().Get("Location")
	if !strings.HasPrefix(loc, "/ui/forms/") {
		t.Fatalf("unexpected redirect %q", loc)
	}

	w = do(t, router, http.MethodGet, loc, nil, "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "0/3 photos") {
		t.Fatalf("unexpected form page: %d %s", w.Code, w.Body.String())
	}
}

func TestUISubmitRejectsNaNCoordinates(t *testing.T) {
	router := setupRouter(t, failingOn(""))
	id := createForm(t, router)
	addFiles(t, router, id, part{"a.jpg", jpegBytes})

	body := bytes.NewBufferString("title=Banjir&latitude=NaN&longitude=106.8")
	w := do(t, router, http.MethodPost, "/ui/forms/"+id+"/submit", body, "application/x-www-form-urlencoded")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
	if got := getForm(t, router, id).Stats; got.Pending != 1 || got.Uploaded != 0 {
		t.Fatalf("invalid report must not upload photos, got %+v", got)
	}
}

func TestUIOpenExistingEscapesID(t *testing.T) {
	router := setupRouter(t, failingOn(""))

	w := do(t, router, http.MethodGet, "/ui/forms?id="+url.QueryEscape("../../admin?x=1"), nil, "")
	if w.Code != http.StatusFound {
		t.Fatalf("expected status %d, got %d", http.StatusFound, w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "/ui/forms/..%2F..%2Fadmin%3Fx=1" {
		t.Fatalf("unexpected redirect %q", loc)
	}
}

func TestSubmitWhileUploadingConflicts(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	blocking := uploaderFunc(func(ctx context.Context, src upload.Source, _ func(int)) (upload.Remote, error) {
		close(started)
		select {
		case <-release:
			return upload.Remote{URL: "https://cdn.example/" + src.Name(), PublicID: src.Name()}, nil
		case <-ctx.Done():
			return upload.Remote{}, ctx.Err()
		}
	})
	router := setupRouter(t, blocking)
	id := createForm(t, router)
	addFiles(t, router, id, part{"a.jpg", jpegBytes})

	done := make(chan int)
	go func() {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/forms/"+id+"/upload", nil))
		done <- w.Code
	}()
	<-started

	body := bytes.NewBufferString(`{"title":"Jalan berlubang"}`)
	w := do(t, router, http.MethodPost, "/api/v1/forms/"+id+"/submit", body, "application/json")
	if w.Code != http.StatusConflict {
		t.Fatalf("expected status %d, got %d", http.StatusConflict, w.Code)
	}
	close(release)
	if code := <-done; code != http.StatusOK {
		t.Fatalf("in-flight upload must finish, got status %d", code)
	}
}
