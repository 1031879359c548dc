package api

import (
	"html/template"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
)

var uiTemplates = template.Must(template.New("layout").Funcs(template.FuncMap{
	"pathEscape": url.PathEscape,
}).Parse(`{{define "layout"}}
<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8"/>
  <meta name="viewport" content="width=device-width, initial-scale=1"/>
  {{if .Session.Busy}}<meta http-equiv="refresh" content="1"/>{{end}}
  <title>repodocx</title>
  <style>
    body{font-family:system-ui,-apple-system,Segoe UI,Roboto,Ubuntu,Cantarell,Noto Sans,sans-serif;max-width:880px;margin:32px auto;padding:0 16px;color:#0b0b0b;background:#fafafa}
    header{margin-bottom:24px}
    h1{font-size:22px;margin:0 0 8px}
    a{color:#0b63e5;text-decoration:none}
    a:hover{text-decoration:underline}
    .card{background:#fff;border:1px solid #e9e9e9;border-radius:10px;padding:16px;margin:12px 0}
    .btn{display:inline-block;background:#0b63e5;color:#fff;border:none;padding:10px 14px;border-radius:8px;cursor:pointer}
    .btn.secondary{background:#444}
    input[type=text],input[type=password]{padding:9px 10px;border:1px solid #dcdcdc;border-radius:8px;width:100%;margin:4px 0 10px}
    .muted{color:#666}
    .mono{font-family:ui-monospace,SFMono-Regular,Menlo,Monaco,Consolas,monospace}
    .list{margin:0;padding-left:18px}
    .status{display:inline-block;padding:4px 8px;border-radius:6px;background:#efefef;font-size:12px}
    progress{width:100%}
    footer{margin-top:24px;color:#666;font-size:12px}
  </style>
</head>
<body>
  <header>
    <h1><a href="/">repodocx</a></h1>
    <div class="muted">Convert a GitHub repository into Word documents</div>
  </header>
  {{if .Error}}
  <div class="card" style="border-color:#f2b8b5;background:#fff6f6">
    <strong style="color:#b3261e">Error:</strong> <span class="muted">{{.Error}}</span>
  </div>
  {{end}}
  {{template "content" .}}
  <footer>
    <div>API base: <span class="mono">/api/v1</span> · live events: <span class="mono">/api/v1/session/events</span></div>
  </footer>
</body>
</html>
{{end}}

{{define "home"}}
  {{template "layout" .}}
{{end}}

{{define "content"}}
  {{with .Session}}
  {{if eq .State "idle"}}
  <div class="card">
    <h2>New conversion</h2>
    <form method="post" action="/ui/convert">
      <label>Repository URL<input type="text" name="url" placeholder="https://github.com/owner/repo" required/></label>
      <label>Access token <span class="muted">(optional, private repositories)</span><input type="password" name="token" autocomplete="off"/></label>
      <label>File extensions<input type="text" name="extensions" value="{{$.Extensions}}"/></label>
      <button class="btn" type="submit">Convert</button>
    </form>
    <div class="muted">POST /api/v1/session/convert</div>
  </div>
  {{else}}
  <div class="card">
    <h2>Job {{if .Job}}<span class="mono">{{.Job.JobID}}</span>{{end}}</h2>
    {{if .Request}}<div>Repository: <span class="mono">{{.Request.SourceURL}}</span></div>{{end}}
    <div>Status: <span class="status">{{.State}}</span></div>
    {{if .Progress}}
      <div style="margin-top:12px">{{$.PhaseText}}{{if .Progress.Total}} · {{.Progress.Processed}}/{{.Progress.Total}} ({{.Percent}}%){{end}}</div>
      <progress max="100" value="{{.Percent}}"></progress>
      {{if .Progress.CurrentItem}}<div class="muted mono">{{.Progress.CurrentItem}}</div>{{end}}
    {{end}}
    {{if .Error}}<div style="color:#b3261e;margin-top:8px">{{.Error}}</div>{{end}}
    <form method="post" action="/ui/reset" style="margin-top:12px">
      <button class="btn secondary" type="submit">{{if .Busy}}Cancel{{else}}Start over{{end}}</button>
    </form>
  </div>
  {{end}}

  {{if eq .State "completed"}}
  <div class="card">
    <h3>Documents</h3>
    {{if .Artifacts}}
      <ul class="list">
      {{range .Artifacts}}
        <li><a href="/api/v1/session/artifacts/{{pathEscape .Filename}}">{{.Filename}}</a>{{if .Folder}} <span class="muted">· {{.Folder}}</span>{{end}}</li>
      {{end}}
      </ul>
      <div style="margin-top:12px"><a class="btn" href="/api/v1/session/archive">Download all (zip)</a></div>
    {{else}}
      <div class="muted">The job produced no documents</div>
    {{end}}
  </div>
  {{end}}
  {{end}}
{{end}}
`))

// RegisterUIRoutes registers minimal HTML UI without JS
func (a *API) RegisterUIRoutes(router *gin.Engine) {
	router.SetHTMLTemplate(uiTemplates)
	router.GET("/", a.UIHome)
	router.POST("/ui/convert", a.UIConvert)
	router.POST("/ui/reset", a.UIReset)
}

// UIHome renders the session page
func (a *API) UIHome(c *gin.Context) { a.renderHome(c, http.StatusOK, "") }

// UIConvert submits the form and redirects back to the session page
func (a *API) UIConvert(c *gin.Context) {
	body := convertRequest{
		URL:        c.PostForm("url"),
		Token:      c.PostForm("token"),
		Extensions: strings.FieldsFunc(c.PostForm("extensions"), func(r rune) bool { return r == ',' || r == ' ' }),
	}
	if status, err := a.submit(c.Request.Context(), body); err != nil {
		a.renderHome(c, status, err.Error())
		return
	}
	c.Redirect(http.StatusFound, "/")
}

// UIReset abandons the current attempt and redirects back to the form
func (a *API) UIReset(c *gin.Context) {
	a.machine.Reset()
	c.Redirect(http.StatusFound, "/")
}

func (a *API) renderHome(c *gin.Context, status int, errMsg string) {
	snap := a.machine.Snapshot()
	phase := ""
	if snap.Progress != nil {
		phase = snap.Progress.PhaseText()
	}
	c.HTML(status, "home", gin.H{
		"Session":    snap,
		"PhaseText":  phase,
		"Extensions": strings.Join(a.extensions, " "),
		"Error":      errMsg,
	})
}

