package api

import (
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"signclips/internal/task"
)

var uiTemplates = template.Must(template.New("head").Parse(`{{define "head"}}
<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8"/>
  <meta name="viewport" content="width=device-width, initial-scale=1"/>
  {{if .Refresh}}<meta http-equiv="refresh" content="5"/>{{end}}
  <title>signclips</title>
  <style>
    body{font-family:system-ui,-apple-system,Segoe UI,Roboto,Ubuntu,Cantarell,Noto Sans,sans-serif;max-width:880px;margin:32px auto;padding:0 16px;color:#0b0b0b;background:#fafafa}
    header{margin-bottom:24px}
    h1{font-size:22px;margin:0 0 8px}
    a{color:#0b63e5;text-decoration:none}
    a:hover{text-decoration:underline}
    .card{background:#fff;border:1px solid #e9e9e9;border-radius:10px;padding:16px;margin:12px 0}
    .row{display:flex;gap:12px;flex-wrap:wrap}
    .btn{display:inline-block;background:#0b63e5;color:#fff;border:none;padding:10px 14px;border-radius:8px;cursor:pointer}
    .btn.secondary{background:#444}
    .btn.danger{background:#b3261e}
    input[type=text],input[type=number]{padding:9px 10px;border:1px solid #dcdcdc;border-radius:8px}
    input[type=text]{flex:1}
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
    <h1><a href="/">signclips</a></h1>
    <div class="muted">Sign-language clip datasets from video playlists</div>
  </header>
  {{if .Error}}
  <div class="card" style="border-color:#f2b8b5;background:#fff6f6">
    <strong style="color:#b3261e">Error:</strong> <span class="muted">{{.Error}}</span>
  </div>
  {{end}}
{{end}}

{{define "foot"}}
  <footer>
    <div>API base: <span class="mono">/api/v1</span> · <a href="/metrics">metrics</a></div>
  </footer>
</body>
</html>
{{end}}

{{define "home"}}
  {{template "head" .}}
  <div class="card">
    <h2>New task</h2>
    <form method="post" action="/ui/tasks">
      <div class="row">
        <input type="text" name="url" placeholder="https://www.youtube.com/playlist?list=..." required />
        <input type="number" name="max_videos" value="5" min="1" />
        <button class="btn" type="submit">Submit</button>
      </div>
    </form>
    <div class="muted">POST /api/v1/tasks</div>
  </div>

  <div class="card">
    <h2>Tasks</h2>
    {{if .Tasks}}
      <ul class="list">
      {{range .Tasks}}
        <li>
          <a class="mono" href="/ui/tasks/{{.ID}}">{{.ID}}</a>
          <span class="status">{{.Status}}</span> {{.Progress}}%
          <div class="muted">{{.URL}}</div>
        </li>
      {{end}}
      </ul>
    {{else}}
      <div class="muted">No tasks yet</div>
    {{end}}
  </div>
  {{template "foot" .}}
{{end}}

{{define "task"}}
  {{template "head" .}}
  <div class="card">
    <h2>Task <span class="mono">{{.Task.ID}}</span></h2>
    <div class="muted mono">{{.Task.URL}}</div>
    <div>Status: <span class="status">{{.Task.Status}}</span> {{.Task.Message}}</div>
    <progress max="100" value="{{.Task.Progress}}"></progress>
    {{if .Task.Error}}<div style="color:#b3261e">{{.Task.Error}}</div>{{end}}
    <div class="muted">Created at: {{.Task.CreatedAt}}</div>
  </div>

  <div class="card">
    <h3>Videos</h3>
    {{if .Task.Videos}}
      <ul class="list">
      {{range .Task.Videos}}
        <li>
          <span class="mono">{{.TitleSlug}}</span> {{.Title}} <span class="status">{{.Status}}</span>
          {{if .Error}}<div class="muted">{{.Error}}</div>{{end}}
        </li>
      {{end}}
      </ul>
    {{else}}
      <div class="muted">No accepted videos yet</div>
    {{end}}
    {{if .Task.Skipped}}
      <h4>Skipped</h4>
      <ul class="list">
      {{range .Task.Skipped}}<li><span class="mono">{{.SourceID}}</span> {{.Title}} <span class="muted">{{.Reason}}</span></li>{{end}}
      </ul>
    {{end}}
    <div class="muted">{{.Task.ClipCount}} clips · {{.Task.FailedClips}} failed · {{.Task.SignerCount}} signers</div>
  </div>

  <div class="card">
    <div class="row">
      {{if eq .Task.Status "completed"}}
      <a class="btn" href="/api/v1/tasks/{{.Task.ID}}/archive">Download zip</a>
      {{end}}
      {{if .Running}}
      <form method="post" action="/ui/tasks/{{.Task.ID}}/cancel"><button class="btn danger" type="submit">Cancel</button></form>
      {{else}}
      <form method="post" action="/ui/tasks/{{.Task.ID}}/delete"><button class="btn secondary" type="submit">Delete</button></form>
      {{end}}
      <a class="btn secondary" href="/ui/tasks/{{.Task.ID}}">Refresh</a>
    </div>
  </div>
  {{template "foot" .}}
{{end}}
`))

// RegisterUIRoutes registers minimal HTML UI without JS
func (a *API) RegisterUIRoutes(router *gin.Engine) {
	router.SetHTMLTemplate(uiTemplates)
	router.GET("/", a.UIHome)
	router.POST("/ui/tasks", a.UISubmit)
	router.GET("/ui/tasks/:id", a.UITask)
	router.POST("/ui/tasks/:id/cancel", a.UICancel)
	router.POST("/ui/tasks/:id/delete", a.UIDelete)
}

// UIHome renders the submit form and the task list
func (a *API) UIHome(c *gin.Context) {
	c.HTML(http.StatusOK, "home", gin.H{"Tasks": a.taskManager.List()})
}

// UISubmit submits a task from the form and redirects to its page
func (a *API) UISubmit(c *gin.Context) {
	maxVideos, _ := strconv.Atoi(strings.TrimSpace(c.PostForm("max_videos")))
	created, err := a.taskManager.Submit(c.PostForm("url"), maxVideos)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, task.ErrBusy) {
			status = http.StatusServiceUnavailable
		}
		c.HTML(status, "home", gin.H{"Tasks": a.taskManager.List(), "Error": err.Error()})
		return
	}
	c.Redirect(http.StatusFound, "/ui/tasks/"+created.ID)
}

// UITask renders a task page; running tasks refresh themselves
func (a *API) UITask(c *gin.Context) {
	t, err := a.taskManager.Status(c.Param("id"))
	if err != nil {
		c.HTML(http.StatusNotFound, "home", gin.H{"Tasks": a.taskManager.List(), "Error": err.Error()})
		return
	}
	running := !t.Status.Terminal()
	c.HTML(http.StatusOK, "task", gin.H{"Task": t, "Running": running, "Refresh": running})
}

func (a *API) UICancel(c *gin.Context) {
	id := c.Param("id")
	if err := a.taskManager.Cancel(id); err != nil {
		c.HTML(http.StatusNotFound, "home", gin.H{"Tasks": a.taskManager.List(), "Error": err.Error()})
		return
	}
	c.Redirect(http.StatusFound, "/ui/tasks/"+id)
}

func (a *API) UIDelete(c *gin.Context) {
	id := c.Param("id")
	if err := a.taskManager.Delete(id); err != nil {
		if t, statusErr := a.taskManager.Status(id); statusErr == nil {
			c.HTML(http.StatusConflict, "task", gin.H{"Task": t, "Running": !t.Status.Terminal(), "Error": err.Error()})
			return
		}
		c.HTML(http.StatusNotFound, "home", gin.H{"Tasks": a.taskManager.List(), "Error": err.Error()})
		return
	}
	c.Redirect(http.StatusFound, "/")
}
