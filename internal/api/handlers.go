package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"signclips/internal/domain"
	"signclips/internal/task"
	"signclips/internal/telemetry"
)

type createTaskRequest struct {
	URL       string `json:"url" binding:"required"`
	MaxVideos int    `json:"max_videos"`
}

type createTaskResponse struct {
	TaskID string      `json:"task_id"`
	Status task.Status `json:"status"`
}

type taskResponse struct {
	ID          string               `json:"id"`
	URL         string               `json:"url"`
	MaxVideos   int                  `json:"max_videos"`
	Status      task.Status          `json:"status"`
	Progress    int                  `json:"progress"`
	Message     string               `json:"message"`
	Videos      []domain.VideoRecord `json:"videos"`
	Skipped     []domain.Skip        `json:"skipped,omitempty"`
	ClipCount   int                  `json:"clip_count"`
	FailedClips int                  `json:"failed_clips"`
	SignerCount int                  `json:"signer_count"`
	Error       string               `json:"error,omitempty"`
	CreatedAt   string               `json:"created_at"`
	CompletedAt string               `json:"completed_at,omitempty"`
	ArchiveURL  string               `json:"archive_url,omitempty"`
}

type API struct {
	taskManager *task.Manager
}

func NewAPI(taskManager *task.Manager) *API {
	return &API{taskManager: taskManager}
}

// RegisterRoutes registers API routes on the provided gin engine
func (a *API) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", a.Health)
	router.GET("/metrics", gin.WrapH(telemetry.Handler()))

	api := router.Group("/api/v1")
	{
		api.POST("/tasks", a.CreateTask)
		api.GET("/tasks", a.ListTasks)
		api.GET("/tasks/:id", a.GetTask)
		api.POST("/tasks/:id/cancel", a.CancelTask)
		api.DELETE("/tasks/:id", a.DeleteTask)
		api.GET("/tasks/:id/archive", a.DownloadArchive)
	}
}

func (a *API) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "busy": a.taskManager.IsBusy()})
}

// CreateTask submits a new task and answers before processing starts
func (a *API) CreateTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn().Err(err).Msg("invalid create task request")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	created, err := a.taskManager.Submit(req.URL, req.MaxVideos)
	if err != nil {
		if errors.Is(err, task.ErrBusy) {
			log.Warn().Msg("rejecting task creation: server is at max concurrency")
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, createTaskResponse{TaskID: created.ID, Status: created.Status})
}

func (a *API) ListTasks(c *gin.Context) {
	tasks := a.taskManager.List()
	out := make([]taskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, toTaskResponse(t))
	}
	c.JSON(http.StatusOK, gin.H{"tasks": out})
}

// GetTask returns task status
func (a *API) GetTask(c *gin.Context) {
	id := c.Param("id")
	found, err := a.taskManager.Status(id)
	if err != nil {
		log.Warn().Str("task_id", id).Msg("task not found on get")
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTaskResponse(found))
}

func (a *API) CancelTask(c *gin.Context) {
	id := c.Param("id")
	if err := a.taskManager.Cancel(id); err != nil {
		writeError(c, err)
		return
	}
	found, err := a.taskManager.Status(id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, toTaskResponse(found))
}

func (a *API) DeleteTask(c *gin.Context) {
	id := c.Param("id")
	if err := a.taskManager.Delete(id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DownloadArchive serves the archive file when ready
func (a *API) DownloadArchive(c *gin.Context) {
	id := c.Param("id")
	path, err := a.taskManager.ArchivePath(id)
	if err != nil {
		log.Warn().Str("task_id", id).Err(err).Msg("archive not available")
		writeError(c, err)
		return
	}
	log.Info().Str("task_id", id).Str("path", path).Msg("serving archive download")
	c.FileAttachment(path, "signclips-"+id+".zip")
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, task.ErrInvalidURL):
		status = http.StatusBadRequest
	case errors.Is(err, task.ErrTaskNotFound):
		status = http.StatusNotFound
	case errors.Is(err, task.ErrBusy):
		status = http.StatusServiceUnavailable
	case errors.Is(err, task.ErrTaskNotTerminal), errors.Is(err, task.ErrArchiveNotReady):
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func toTaskResponse(t *task.Task) taskResponse {
	resp := taskResponse{
		ID:          t.ID,
		URL:         t.URL,
		MaxVideos:   t.MaxVideos,
		Status:      t.Status,
		Progress:    t.Progress,
		Message:     t.Message,
		Videos:      t.Videos,
		Skipped:     t.Skipped,
		ClipCount:   t.ClipCount,
		FailedClips: t.FailedClips,
		SignerCount: t.SignerCount,
		Error:       t.Error,
		CreatedAt:   t.CreatedAt.UTC().Format(time.RFC3339),
	}
	if t.CompletedAt != nil {
		resp.CompletedAt = t.CompletedAt.UTC().Format(time.RFC3339)
	}
	// The link only resolves once the archive exists.
	if t.Status == task.StatusCompleted && t.ArchivePath != "" {
		resp.ArchiveURL = "/api/v1/tasks/" + t.ID + "/archive"
	}
	return resp
}
