package api

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"repodocx/internal/archive"
	"repodocx/internal/conversion"
	fileutil "repodocx/internal/file"
	"repodocx/internal/job"
)

const docxContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

const (
	eventWriteTimeout = 5 * time.Second
	healthTimeout     = 5 * time.Second
)

// Remote is the part of the conversion service the web front talks to directly.
type Remote interface {
	archive.Source
	Health(ctx context.Context) (string, error)
}

type convertRequest struct {
	URL        string   `json:"url"`
	Token      string   `json:"token"`
	Extensions []string `json:"extensions"`
}

type sessionResponse struct {
	job.Snapshot
	PhaseText  string `json:"phase_text,omitempty"`
	ArchiveURL string `json:"archive_url,omitempty"`
}

type API struct {
	machine    *job.Machine
	remote     Remote
	extensions []string
	upgrader   websocket.Upgrader
}

// NewAPI exposes one client session. defaultExtensions is used when a
// convert request carries no filters.
func NewAPI(machine *job.Machine, remote Remote, defaultExtensions []string) *API {
	return &API{
		machine:    machine,
		remote:     remote,
		extensions: append([]string(nil), defaultExtensions...),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// RegisterRoutes registers API routes on the provided gin engine
func (a *API) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.GET("/health", a.Health)
		api.GET("/session", a.GetSession)
		api.POST("/session/convert", a.Convert)
		api.POST("/session/reset", a.Reset)
		api.GET("/session/events", a.Events)
		api.GET("/session/artifacts", a.ListArtifacts)
		api.GET("/session/artifacts/:filename", a.DownloadArtifact)
		api.GET("/session/archive", a.DownloadArchive)
	}
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Health reports whether the conversion service is reachable.
func (a *API) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()
	msg, err := a.remote.Health(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("conversion service health check failed")
		c.JSON(http.StatusBadGateway, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "remote": msg})
}

// GetSession returns the current session snapshot
func (a *API) GetSession(c *gin.Context) {
	c.JSON(http.StatusOK, toSessionResponse(a.machine.Snapshot()))
}

// Convert validates the request and submits it. It answers once the remote
// service acknowledged or rejected the job.
func (a *API) Convert(c *gin.Context) {
	var body convertRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		log.Warn().Err(err).Msg("invalid convert request")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	status, err := a.submit(c.Request.Context(), body)
	if err != nil {
		c.JSON(status, gin.H{"error": err.Error(), "session": toSessionResponse(a.machine.Snapshot())})
		return
	}
	c.JSON(status, toSessionResponse(a.machine.Snapshot()))
}

func (a *API) submit(ctx context.Context, body convertRequest) (int, error) {
	extensions := body.Extensions
	if len(extensions) == 0 {
		extensions = a.extensions
	}
	req, err := conversion.Build(body.URL, body.Token, extensions)
	if err != nil {
		return http.StatusBadRequest, err
	}
	if _, err := a.machine.Submit(ctx, req); err != nil {
		var subErr *job.SubmissionError
		switch {
		case errors.Is(err, job.ErrNotIdle), errors.Is(err, job.ErrAbandoned):
			return http.StatusConflict, err
		case errors.As(err, &subErr):
			return http.StatusBadGateway, subErr
		default:
			return http.StatusInternalServerError, err
		}
	}
	return http.StatusAccepted, nil
}

// Reset abandons the current attempt
func (a *API) Reset(c *gin.Context) {
	a.machine.Reset()
	c.JSON(http.StatusOK, toSessionResponse(a.machine.Snapshot()))
}

// ListArtifacts returns the artifacts of the completed job
func (a *API) ListArtifacts(c *gin.Context) {
	results, err := a.machine.Results(nil)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": results.Handle(), "artifacts": results.Artifacts()})
}

// DownloadArtifact streams one artifact from the conversion service
func (a *API) DownloadArtifact(c *gin.Context) {
	filename := c.Param("filename")
	results, err := a.machine.Results(job.RetrieverFunc(func(ctx context.Context, h job.Handle, art job.ArtifactRef) error {
		body, err := a.remote.Download(ctx, h, art.Filename)
		if err != nil {
			return err
		}
		defer body.Close()
		c.Header("Content-Type", docxContentType)
		c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
			"filename": fileutil.SanitizeFilename(art.Filename),
		}))
		c.Status(http.StatusOK)
		_, err = io.Copy(c.Writer, body)
		return err
	}))
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	err = results.RetrieveOne(c.Request.Context(), filename)
	var notFound *job.NotFoundError
	switch {
	case err == nil:
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": notFound.Error()})
	case c.Writer.Written():
		log.Warn().Str("filename", filename).Err(err).Msg("artifact stream interrupted")
	default:
		c.Writer.Header().Del("Content-Type")
		c.Writer.Header().Del("Content-Disposition")
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}

// DownloadArchive streams every artifact of the completed job as one zip
func (a *API) DownloadArchive(c *gin.Context) {
	name := "repodocx.zip"
	if snap := a.machine.Snapshot(); snap.Job != nil {
		name = "repodocx-" + fileutil.SanitizeFilename(snap.Job.JobID) + ".zip"
	}
	header := c.Writer.Header()
	header.Set("Content-Type", "application/zip")
	header.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))

	results, err := archive.WriteArchive(c.Request.Context(), c.Writer, a.remote, a.machine)
	if err != nil && !c.Writer.Written() {
		header.Del("Content-Type")
		header.Del("Content-Disposition")
		status := http.StatusBadGateway
		if errors.Is(err, job.ErrNotCompleted) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		log.Warn().Err(err).Int("artifacts", len(results)).Msg("archive built with failures")
	}
}

// Events streams a snapshot on every session change over a websocket.
func (a *API) Events(c *gin.Context) {
	conn, err := a.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer func() { _ = conn.Close() }()

	updates, unsubscribe := a.machine.Subscribe()
	defer unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(snap job.Snapshot) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
		return conn.WriteJSON(toSessionResponse(snap)) == nil
	}
	if !send(a.machine.Snapshot()) {
		return
	}
	for {
		select {
		case <-closed:
			return
		case snap := <-updates:
			if !send(snap) {
				return
			}
		}
	}
}

func toSessionResponse(snap job.Snapshot) sessionResponse {
	resp := sessionResponse{Snapshot: snap}
	if snap.Progress != nil {
		resp.PhaseText = snap.Progress.PhaseText()
	}
	if snap.State == job.StateCompleted {
		resp.ArchiveURL = "/api/v1/session/archive"
	}
	return resp
}
