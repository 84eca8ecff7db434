package api

import (
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"gatotkota/internal/form"
	"gatotkota/internal/upload"

	"github.com/gin-gonic/gin"
)

var uiTemplates = template.Must(template.New("layout").Funcs(template.FuncMap{
	"kb": func(n int64) string { return strconv.FormatInt((n+1023)/1024, 10) + " KB" },
}).Parse(`{{define "layout"}}
<!doctype html>
<html lang="id">
<head>
  <meta charset="utf-8"/>
  <meta name="viewport" content="width=device-width, initial-scale=1"/>
  <title>GatotKota · Lapor</title>
  <style>
    body{font-family:system-ui,-apple-system,Segoe UI,Roboto,Ubuntu,Cantarell,Noto Sans,sans-serif;max-width:880px;margin:32px auto;padding:0 16px;color:#0b0b0b;background:#fafafa}
    header{margin-bottom:24px}
    h1{font-size:22px;margin:0 0 8px}
    a{color:#0b63e5;text-decoration:none}
    .card{background:#fff;border:1px solid #e9e9e9;border-radius:10px;padding:16px;margin:12px 0}
    .row{display:flex;gap:12px;flex-wrap:wrap;align-items:center}
    .btn{display:inline-block;background:#0b63e5;color:#fff;border:none;padding:10px 14px;border-radius:8px;cursor:pointer}
    .btn.secondary{background:#444}
    .btn.danger{background:#b3261e}
    .btn[disabled]{background:#bbb;cursor:not-allowed}
    input[type=text],textarea{padding:9px 10px;border:1px solid #dcdcdc;border-radius:8px;width:100%;box-sizing:border-box}
    .muted{color:#666}
    .mono{font-family:ui-monospace,SFMono-Regular,Menlo,Monaco,Consolas,monospace}
    .thumbs{display:grid;grid-template-columns:repeat(3,1fr);gap:12px}
    .thumb img{width:100%;aspect-ratio:1;object-fit:cover;border-radius:8px;background:#eee}
    .status{display:inline-block;padding:4px 8px;border-radius:6px;background:#efefef;font-size:12px}
    .status.uploaded{background:#dff5e1}
    .status.failed{background:#fde2e0}
    .status.uploading{background:#e3ecff}
    .error{border-color:#f2b8b5;background:#fff6f6}
    footer{margin-top:24px;color:#666;font-size:12px}
  </style>
</head>
<body>
  <header>
    <h1><a href="/">GatotKota</a></h1>
    <div class="muted">Laporan warga dengan lampiran foto</div>
  </header>
  {{range .Errors}}
  <div class="card error"><strong style="color:#b3261e">Error:</strong> <span class="muted">{{.}}</span></div>
  {{end}}
  {{if .Form}}{{template "form-body" .}}{{else}}{{template "home-body" .}}{{end}}
  <footer>
    <div>API base: <span class="mono">/api/v1</span></div>
  </footer>
</body>
</html>
{{end}}

{{define "home-body"}}
  <div class="card">
    <h2>New report</h2>
    <form method="post" action="/ui/forms">
      <button class="btn" type="submit">Start</button>
    </form>
    <div class="muted">POST /api/v1/forms</div>
  </div>

  <div class="card">
    <h2>Continue a report</h2>
    <form method="get" action="/ui/forms">
      <div class="row">
        <input type="text" name="id" placeholder="Form ID" required />
        <button class="btn" type="submit">Open</button>
      </div>
    </form>
  </div>
{{end}}

{{define "form-body"}}
  <div class="card">
    <h2>Form <span class="mono">{{.Form.ID}}</span></h2>
    <div class="muted">Created at: {{.Form.CreatedAt}}</div>
    <div>
      {{.Form.Stats.Total}}/{{.Form.MaxFiles}} photos ·
      pending {{.Form.Stats.Pending}} · uploading {{.Form.Stats.Uploading}} ·
      uploaded {{.Form.Stats.Uploaded}} · failed {{.Form.Stats.Failed}}
    </div>
  </div>

  <div class="card">
    <h3>Photos</h3>
    {{if .Form.Files}}
    <div class="thumbs">
      {{range .Form.Files}}
      <div class="thumb">
        {{if .PreviewURL}}<img src="{{.PreviewURL}}" alt="{{.Name}}"/>{{end}}
        <div class="mono">{{.Name}}</div>
        <div class="muted">{{kb .Size}} · <span class="status {{.Status}}">{{.Status}}{{if eq .Status "uploading"}} {{.Progress}}%{{end}}</span></div>
        {{if .Error}}<div class="muted">error: {{.Error}}</div>{{end}}
        {{if .RemoteURL}}<div><a href="{{.RemoteURL}}" target="_blank">stored copy</a></div>{{end}}
        <form method="post" action="/ui/forms/{{$.Form.ID}}/files/{{.ID}}/remove">
          <button class="btn secondary" type="submit" {{if eq .Status "uploading"}}disabled{{end}}>Remove</button>
        </form>
      </div>
      {{end}}
    </div>
    {{else}}
      <div class="muted">No photos yet</div>
    {{end}}
  </div>

  {{if lt .Form.Stats.Total .Form.MaxFiles}}
  <div class="card">
    <h3>Add photos (JPEG or PNG, up to {{kb .MaxFileSize}})</h3>
    <form method="post" action="/ui/forms/{{.Form.ID}}/files" enctype="multipart/form-data">
      <input type="file" name="files" accept="image/jpeg,image/png" multiple required />
      <button class="btn" type="submit">Add</button>
    </form>
  </div>
  {{end}}

  <div class="card row">
    <form method="post" action="/ui/forms/{{.Form.ID}}/upload"><button class="btn" type="submit" {{if eq .Form.Stats.Pending 0}}disabled{{end}}>Upload pending</button></form>
    <form method="post" action="/ui/forms/{{.Form.ID}}/retry"><button class="btn secondary" type="submit" {{if eq .Form.Stats.Failed 0}}disabled{{end}}>Retry failed</button></form>
    <form method="post" action="/ui/forms/{{.Form.ID}}/clear"><button class="btn danger" type="submit">Clear all</button></form>
    <a class="btn secondary" href="/ui/forms/{{.Form.ID}}">Refresh</a>
  </div>

  <div class="card">
    <h3>Submit report</h3>
    <form method="post" action="/ui/forms/{{.Form.ID}}/submit">
      <p><input type="text" name="title" placeholder="Title" required /></p>
      <p><textarea name="description" rows="4" placeholder="Description"></textarea></p>
      <p><input type="text" name="province" placeholder="Province" /></p>
      <div class="row">
        <input type="text" name="latitude" placeholder="Latitude" style="width:45%"/>
        <input type="text" name="longitude" placeholder="Longitude" style="width:45%"/>
      </div>
      <p><button class="btn" type="submit">Submit</button></p>
    </form>
    <div class="muted">POST /api/v1/forms/{{.Form.ID}}/submit</div>
  </div>
{{end}}
`))

// RegisterUIRoutes registers minimal HTML UI without JS
func (a *API) RegisterUIRoutes(router *gin.Engine) {
	router.SetHTMLTemplate(uiTemplates)
	router.GET("/", a.UIHome)
	router.GET("/ui/forms", a.UIOpenExisting)
	router.POST("/ui/forms", a.UICreateForm)
	router.GET("/ui/forms/:id", a.UIForm)
	router.POST("/ui/forms/:id/files", a.UIAddFiles)
	router.POST("/ui/forms/:id/files/:fileID/remove", a.UIRemoveFile)
	router.POST("/ui/forms/:id/upload", a.UIUpload)
	router.POST("/ui/forms/:id/retry", a.UIRetry)
	router.POST("/ui/forms/:id/clear", a.UIClear)
	router.POST("/ui/forms/:id/submit", a.UISubmit)
}

// UIHome renders the home page
func (a *API) UIHome(c *gin.Context) { c.HTML(http.StatusOK, "layout", gin.H{}) }

// UIOpenExisting redirects to the form page by id
func (a *API) UIOpenExisting(c *gin.Context) {
	id := strings.TrimSpace(c.Query("id"))
	if id == "" {
		c.Redirect(http.StatusFound, "/")
		return
	}
	c.Redirect(http.StatusFound, formPage(id))
}

// UICreateForm opens a form and redirects to its page
func (a *API) UICreateForm(c *gin.Context) {
	f, err := a.forms.Create()
	if err != nil {
		c.HTML(http.StatusServiceUnavailable, "layout", gin.H{"Errors": []string{"server busy: try again later"}})
		return
	}
	c.Redirect(http.StatusFound, formPage(f.ID))
}

// UIForm renders a form page
func (a *API) UIForm(c *gin.Context) {
	if f, ok := a.uiLookup(c); ok {
		a.renderForm(c, http.StatusOK, f, nil)
	}
}

// UIAddFiles stages the selected photos and redirects back
func (a *API) UIAddFiles(c *gin.Context) {
	f, ok := a.uiLookup(c)
	if !ok {
		return
	}
	if _, err := a.addFiles(c, f); err != nil {
		a.renderForm(c, http.StatusBadRequest, f, err)
		return
	}
	c.Redirect(http.StatusFound, formPage(f.ID))
}

// UIRemoveFile drops one photo
func (a *API) UIRemoveFile(c *gin.Context) {
	f, ok := a.uiLookup(c)
	if !ok {
		return
	}
	if err := f.Queue.Remove(c.Param("fileID")); err != nil {
		a.renderForm(c, http.StatusConflict, f, err)
		return
	}
	c.Redirect(http.StatusFound, formPage(f.ID))
}

// UIUpload uploads pending photos; partial failures are shown on the page
func (a *API) UIUpload(c *gin.Context) {
	f, ok := a.uiLookup(c)
	if !ok {
		return
	}
	if _, err := f.Queue.UploadAllPending(c.Request.Context()); err != nil {
		status, _ := toUploadResponse(nil, err)
		a.renderForm(c, status, f, err)
		return
	}
	c.Redirect(http.StatusFound, formPage(f.ID))
}

// UIRetry requeues failed photos
func (a *API) UIRetry(c *gin.Context) {
	if f, ok := a.uiLookup(c); ok {
		f.Queue.RetryFailed()
		c.Redirect(http.StatusFound, formPage(f.ID))
	}
}

// UIClear removes every photo
func (a *API) UIClear(c *gin.Context) {
	if f, ok := a.uiLookup(c); ok {
		f.Queue.ClearAll()
		c.Redirect(http.StatusFound, formPage(f.ID))
	}
}

// UISubmit submits the report and shows the stored manifest
func (a *API) UISubmit(c *gin.Context) {
	f, ok := a.uiLookup(c)
	if !ok {
		return
	}
	var report form.Report
	err := c.ShouldBind(&report)
	if err != nil {
		err = fmt.Errorf("%w: %w", form.ErrInvalidReport, err)
	} else {
		var sub *form.Submission
		sub, err = a.forms.Submit(c.Request.Context(), f.ID, report)
		if err == nil {
			c.Redirect(http.StatusFound, "/api/v1/submissions/"+url.PathEscape(sub.ID))
			return
		}
	}
	status, _ := toUploadResponse(nil, err)
	a.renderForm(c, status, f, err)
}

func (a *API) uiLookup(c *gin.Context) (*form.Form, bool) {
	f, ok := a.forms.Get(c.Param("id"))
	if !ok {
		c.HTML(http.StatusNotFound, "layout", gin.H{"Errors": []string{form.ErrFormNotFound.Error()}})
	}
	return f, ok
}

func (a *API) renderForm(c *gin.Context, status int, f *form.Form, err error) {
	msgs := errorMessages(err)
	var partial *upload.PartialUploadError
	if errors.As(err, &partial) {
		msgs = msgs[:0]
		for _, ff := range partial.Failed {
			msgs = append(msgs, ff.Name+": "+ff.Error)
		}
	}
	c.HTML(status, "layout", gin.H{
		"Form":        toFormResponse(f),
		"MaxFileSize": a.maxFileSize,
		"Errors":      msgs,
	})
}

func formPage(id string) string { return "/ui/forms/" + url.PathEscape(id) }
