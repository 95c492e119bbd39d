package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"jettyreport/internal/archive"
	"jettyreport/internal/config"
	"jettyreport/internal/logger"
	"jettyreport/internal/models"
	"jettyreport/internal/pipeline"
	"jettyreport/internal/progress"
	"jettyreport/internal/redis"
	"jettyreport/internal/report"
	"jettyreport/internal/service/artifact"
	"jettyreport/internal/upload"
	"jettyreport/internal/worker"
)

// Dispatcher runs the processing jobs of an upload session one at a time.
type Dispatcher interface {
	Submit(ctx context.Context, sessionID string, fn worker.JobFunc) error
	CancelSession(sessionID string)
}

// Options configures a Handler.
type Options struct {
	WorkDir            string
	MaxPartSize        int64
	AvoidFileConflicts bool
	ProgressInterval   time.Duration

	Hub *progress.Hub
	// Events defaults to Hub; set it to a RedisRelay to fan progress out to every instance.
	Events     progress.Broadcaster
	Dispatcher Dispatcher
	Processor  *pipeline.Processor
	Artifacts  *artifact.Service
	// Cache, when set, shares upload id claims between instances.
	Cache    *redis.Client
	ClaimTTL time.Duration
}

// Handler wires HTTP routes to the upload tracker, the processing pipeline and the
// report registry.
type Handler struct {
	opts     Options
	sessions sessionRegistry
	now      func() time.Time
}

// NewHandler constructs a Handler instance.
func NewHandler(opts Options) *Handler {
	if opts.Events == nil {
		opts.Events = opts.Hub
	}
	if opts.MaxPartSize <= 0 {
		opts.MaxPartSize = config.DefaultMaxPartSize
	}
	return &Handler{
		opts:     opts,
		sessions: newSessionRegistry(opts.Cache, opts.ClaimTTL),
		now:      time.Now,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.GET("/health", h.health)
	api.POST("/uploads/sessions", h.createSession)
	api.POST("/uploads", h.filesUpload)
	api.GET("/uploads/:id/progress", h.streamProgress)
	api.GET("/reports/:token", h.reportByToken)
	api.GET("/reports", h.reportByName)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) createSession(c *gin.Context) {
	id := uuid.NewString()
	if err := h.sessions.Create(c.Request.Context(), id); err != nil {
		logger.Errorf("[api] create upload session: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create upload session failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"uploadId": id})
}

type fileResponse struct {
	Field        string `json:"field"`
	OriginalName string `json:"originalName"`
	StoredName   string `json:"storedName"`
	Size         int64  `json:"size"`
}

type reportResponse struct {
	Token       string   `json:"token"`
	Name        string   `json:"name"`
	SheetCount  int      `json:"sheetCount"`
	Sheets      []string `json:"sheets"`
	DownloadURL string   `json:"downloadUrl"`
}

func (h *Handler) filesUpload(c *gin.Context) {
	sessionID := strings.TrimSpace(c.Query("uploadId"))
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "uploadId is required"})
		return
	}
	declared := max(c.Request.ContentLength, 0)
	if declared > h.opts.MaxPartSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "upload too large"})
		return
	}
	reader, err := c.Request.MultipartReader()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
		return
	}
	ctx := c.Request.Context()
	if err := h.sessions.Claim(ctx, sessionID); err != nil {
		if errors.Is(err, errSessionReused) {
			c.JSON(http.StatusConflict, gin.H{"error": "uploadId already used"})
			return
		}
		logger.Errorf("[api] claim upload session %s: %v", sessionID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "claim upload session failed"})
		return
	}

	now := h.now()
	session := models.UploadSession{
		ID:           sessionID,
		Token:        upload.NewToken(now),
		StartedAt:    now,
		DeclaredSize: declared,
		MaxPartSize:  h.opts.MaxPartSize,
	}
	h.opts.Hub.Open(sessionID)
	defer h.opts.Events.Finish(sessionID)

	batch := h.opts.Processor.NewBatch(session)
	tracker := upload.NewTracker(session, upload.Options{
		WorkDir:            h.opts.WorkDir,
		MaxPartSize:        h.opts.MaxPartSize,
		AvoidFileConflicts: h.opts.AvoidFileConflicts,
		ProgressInterval:   h.opts.ProgressInterval,
		Publisher:          h.opts.Events,
		OnComplete: func(ctx context.Context, done models.CompletedUpload) error {
			return h.opts.Dispatcher.Submit(ctx, sessionID, func(jobCtx context.Context) error {
				return batch.Dispatch(jobCtx, done)
			})
		},
	})

	var files []fileResponse
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			h.opts.Dispatcher.CancelSession(sessionID)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
			return
		}
		if part.FileName() == "" {
			// plain form values carry nothing to process
			part.Close()
			continue
		}
		stored, err := tracker.Accept(ctx, upload.Part{
			FieldName: part.FormName(),
			Filename:  part.FileName(),
			SizeHint:  partSize(part.Header.Get("Content-Length")),
			Body:      part,
		})
		part.Close()
		if stored != nil {
			if _, recErr := h.opts.Artifacts.RecordUpload(ctx, sessionID, session.Token, *stored); recErr != nil {
				logger.Warnf("[api] record upload %s: %v", stored.Path, recErr)
			}
			files = append(files, fileResponse{
				Field:        stored.FieldName,
				OriginalName: stored.OriginalName,
				StoredName:   stored.StoredName,
				Size:         stored.Size,
			})
		}
		if err != nil {
			h.opts.Dispatcher.CancelSession(sessionID)
			h.failUpload(c, sessionID, err)
			return
		}
	}
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}

	var rep *reportResponse
	result, err := batch.Flush(ctx)
	switch {
	case errors.Is(err, pipeline.ErrEmptyReport):
		logger.Infof("[api] session %s produced no report", sessionID)
	case err != nil:
		h.failUpload(c, sessionID, err)
		return
	default:
		art := &models.ReportArtifact{
			Token:          session.Token,
			SessionID:      sessionID,
			UploadFilename: result.ReportName,
			ReportName:     result.ReportName,
			Path:           result.Path,
			SheetCount:     result.SheetCount,
		}
		if err := h.opts.Artifacts.RecordReport(ctx, art); err != nil {
			h.failUpload(c, sessionID, fmt.Errorf("%w: %v", report.ErrStorageFailure, err))
			return
		}
		rep = &reportResponse{
			Token:       art.Token,
			Name:        art.ReportName,
			SheetCount:  result.SheetCount,
			Sheets:      result.Labels,
			DownloadURL: "/api/reports/" + art.Token,
		}
	}

	c.JSON(http.StatusCreated, gin.H{
		"uploadId": sessionID,
		"token":    session.Token,
		"files":    files,
		"report":   rep,
	})
}

func (h *Handler) failUpload(c *gin.Context, sessionID string, err error) {
	status, msg := uploadStatus(err)
	entry := logger.WithFields(map[string]any{"upload_id": sessionID, "status": status})
	if status >= http.StatusInternalServerError {
		entry.Errorf("[api] upload failed: %v", err)
	} else {
		entry.Warnf("[api] upload rejected: %v", err)
	}
	c.JSON(status, gin.H{"error": msg})
}

func uploadStatus(err error) (int, string) {
	switch {
	case errors.Is(err, upload.ErrSizeExceeded):
		return http.StatusRequestEntityTooLarge, "upload too large"
	case errors.Is(err, worker.ErrDispatcherBusy):
		return http.StatusTooManyRequests, "server is busy, please retry"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout, "upload cancelled"
	case errors.Is(err, archive.ErrExtractionFailure):
		return http.StatusInternalServerError, "archive extraction failed"
	case errors.Is(err, upload.ErrStorageFailure), errors.Is(err, report.ErrStorageFailure):
		return http.StatusInternalServerError, "storage failure"
	default:
		return http.StatusInternalServerError, "upload failed"
	}
}

func partSize(header string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(header), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func (h *Handler) streamProgress(c *gin.Context) {
	sessionID := c.Param("id")
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}
	events, cancel := h.opts.Hub.Subscribe(c.Request.Context(), sessionID)
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	flusher.Flush()

	sendEvent := func(event string, payload interface{}) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(c.Writer, "event: %s\n", event); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}
	for ev := range events {
		if err := sendEvent("progress", ev); err != nil {
			return
		}
	}
	if c.Request.Context().Err() != nil {
		return
	}
	if !h.opts.Hub.Opened(sessionID) {
		_ = sendEvent("error", gin.H{"uploadId": sessionID, "error": "unknown upload session"})
		return
	}
	_ = sendEvent("done", gin.H{"uploadId": sessionID})
}

func (h *Handler) reportByToken(c *gin.Context) {
	art, err := h.opts.Artifacts.ReportByToken(c.Request.Context(), c.Param("token"))
	h.serveReport(c, art, err)
}

// reportByName looks the report up by download name, falling back to <token>.xlsx.
func (h *Handler) reportByName(c *gin.Context) {
	name := strings.TrimSpace(c.Query("filename"))
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "filename is required"})
		return
	}
	ctx := c.Request.Context()
	art, err := h.opts.Artifacts.ReportByName(ctx, name)
	if errors.Is(err, artifact.ErrNotFound) && strings.HasSuffix(name, ".xlsx") {
		art, err = h.opts.Artifacts.ReportByToken(ctx, strings.TrimSuffix(name, ".xlsx"))
	}
	h.serveReport(c, art, err)
}

func (h *Handler) serveReport(c *gin.Context, art *models.ReportArtifact, err error) {
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "report not found"})
			return
		}
		logger.Errorf("[api] lookup report: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup report failed"})
		return
	}
	if _, err := os.Stat(art.Path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "report not found"})
		return
	}
	c.FileAttachment(art.Path, art.ReportName)
}
