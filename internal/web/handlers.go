package web

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/sitewatch/sitewatch/internal/alerts"
	"github.com/sitewatch/sitewatch/internal/batch"
	"github.com/sitewatch/sitewatch/internal/notify"
	"github.com/sitewatch/sitewatch/internal/pipeline"
	"github.com/sitewatch/sitewatch/internal/registry"
	"github.com/sitewatch/sitewatch/internal/stream"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// API is served on the local network only.
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	running := 0
	for _, st := range s.supervisor.StatusAll() {
		if !st.State.Terminal() {
			running++
		}
	}

	activeJobs := 0
	for _, job := range s.runner.List() {
		if !job.State.Terminal() {
			activeJobs++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"version":           s.version,
		"uptime":            time.Since(s.startTime).String(),
		"active_streams":    running,
		"active_jobs":       activeJobs,
		"alert_clients":     s.hub.ClientCount(notify.ChannelAlerts),
		"dashboard_clients": s.hub.ClientCount(notify.ChannelDashboard),
	})
}

// Camera registry handlers.

type createCameraRequest struct {
	Name      string `json:"name" binding:"required"`
	Location  string `json:"location"`
	StreamURL string `json:"stream_url" binding:"required"`
}

type updateCameraRequest struct {
	Name      *string `json:"name"`
	Location  *string `json:"location"`
	StreamURL *string `json:"stream_url"`
	Enabled   *bool   `json:"enabled"`
}

func (s *Server) handleListCameras(c *gin.Context) {
	cameras, err := s.registry.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cameras": cameras, "count": len(cameras)})
}

func (s *Server) handleCreateCamera(c *gin.Context) {
	var req createCameraRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	camera, err := s.registry.Create(c.Request.Context(), req.Name, req.Location, req.StreamURL)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, camera)
}

func (s *Server) handleGetCamera(c *gin.Context) {
	camera, err := s.registry.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "camera not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, camera)
}

func (s *Server) handleUpdateCamera(c *gin.Context) {
	var req updateCameraRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	camera, err := s.registry.Update(c.Request.Context(), c.Param("id"), req.Name, req.Location, req.StreamURL, req.Enabled)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "camera not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, camera)
}

func (s *Server) handleDeleteCamera(c *gin.Context) {
	cameraID := c.Param("id")

	// An active stream goes down with its camera.
	if err := s.supervisor.Stop(c.Request.Context(), cameraID); err != nil && !errors.Is(err, stream.ErrNotActive) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if err := s.registry.Delete(c.Request.Context(), cameraID); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "camera not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": cameraID})
}

// Stream handlers.

func (s *Server) handleListStreams(c *gin.Context) {
	statuses := s.supervisor.StatusAll()
	c.JSON(http.StatusOK, gin.H{"streams": statuses, "count": len(statuses)})
}

func (s *Server) handleGetStream(c *gin.Context) {
	status, err := s.supervisor.Status(c.Param("camera_id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "stream not active"})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleStartStream(c *gin.Context) {
	cameraID := c.Param("camera_id")

	camera, err := s.registry.Get(c.Request.Context(), cameraID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "camera not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !camera.Enabled {
		c.JSON(http.StatusConflict, gin.H{"error": "camera is disabled"})
		return
	}

	status, err := s.supervisor.Start(c.Request.Context(), camera)
	if err != nil {
		switch {
		case errors.Is(err, stream.ErrAlreadyActive), errors.Is(err, pipeline.ErrCameraBusy):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, stream.ErrUnreachable):
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleStopStream(c *gin.Context) {
	if err := s.supervisor.Stop(c.Request.Context(), c.Param("camera_id")); err != nil {
		if errors.Is(err, stream.ErrNotActive) {
			c.JSON(http.StatusNotFound, gin.H{"error": "stream not active"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stopped": c.Param("camera_id")})
}

// Batch job handlers.

type submitJobRequest struct {
	CameraID string `json:"camera_id" binding:"required"`
	FilePath string `json:"file_path" binding:"required"`
}

func (s *Server) handleListJobs(c *gin.Context) {
	jobs := s.runner.List()
	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "count": len(jobs)})
}

func (s *Server) handleSubmitJob(c *gin.Context) {
	var req submitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, err := s.registry.Get(c.Request.Context(), req.CameraID); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "camera not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	job, err := s.runner.Submit(req.CameraID, req.FilePath)
	if err != nil {
		if errors.Is(err, batch.ErrCameraBusy) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, job)
}

func (s *Server) handleGetJob(c *gin.Context) {
	job, err := s.runner.Status(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) handleCancelJob(c *gin.Context) {
	if err := s.runner.Cancel(c.Param("id")); err != nil {
		switch {
		case errors.Is(err, batch.ErrJobNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		case errors.Is(err, batch.ErrJobFinished):
			c.JSON(http.StatusConflict, gin.H{"error": "job already finished"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": c.Param("id")})
}

// Alert handlers.

type updateAlertRequest struct {
	Status     string  `json:"status"`
	Assignee   *string `json:"assignee"`
	Resolution string  `json:"resolution_notes"`
}

func (s *Server) handleListAlerts(c *gin.Context) {
	filter := alerts.Filter{
		CameraID:      c.Query("camera_id"),
		ViolationType: c.Query("violation_type"),
		Severity:      c.Query("severity"),
		Status:        c.Query("status"),
	}

	if v := c.Query("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since timestamp"})
			return
		}
		filter.Since = t
	}
	if v := c.Query("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid until timestamp"})
			return
		}
		filter.Until = t
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		filter.Limit = n
	}
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offset"})
			return
		}
		filter.Offset = n
	}

	list, err := s.alertStore.List(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": list, "count": len(list)})
}

func (s *Server) handleGetAlert(c *gin.Context) {
	alert, err := s.alertStore.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, alerts.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, alert)
}

func (s *Server) handleUpdateAlert(c *gin.Context) {
	var req updateAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	id := c.Param("id")

	var alert *alerts.Alert
	var err error
	switch {
	case req.Assignee != nil:
		alert, err = s.alertStore.Assign(ctx, id, *req.Assignee)
	case alerts.Status(req.Status) == alerts.StatusResolved:
		alert, err = s.alertStore.Resolve(ctx, id, req.Resolution)
	case alerts.Status(req.Status) == alerts.StatusDismissed:
		alert, err = s.alertStore.Dismiss(ctx, id, req.Resolution)
	case req.Status != "":
		alert, err = s.alertStore.UpdateStatus(ctx, id, alerts.Status(req.Status))
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "nothing to update"})
		return
	}
	if err != nil {
		switch {
		case errors.Is(err, alerts.ErrInvalidStatus):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, alerts.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, alert)
}

func (s *Server) handleAlertStats(c *gin.Context) {
	stats, err := s.alertStore.GetStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Websocket handler.

func (s *Server) handleWebsocket(c *gin.Context) {
	channel := c.Param("channel")
	if !notify.ValidChannel(channel) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown channel"})
		return
	}

	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", "channel", channel, "error", err)
		return
	}

	s.hub.Register(channel, conn)
	go s.hub.Serve(channel, conn)
}
