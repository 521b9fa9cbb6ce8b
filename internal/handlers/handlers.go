// Package handlers exposes the upload flow, the result page, the dashboard and the
// JSON APIs over gin.
package handlers

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/boneguard/internal/classifier"
	"github.com/example/boneguard/internal/dashboard"
	"github.com/example/boneguard/internal/presenter"
	"github.com/example/boneguard/internal/ratelimit"
	"github.com/example/boneguard/internal/repository"
	"github.com/example/boneguard/internal/session"
	"github.com/example/boneguard/internal/upload"
	"github.com/example/boneguard/internal/usecase"
)

// MaxUploadSize is the default cap on an uploaded image.
const MaxUploadSize = 10 << 20

// multipartOverhead leaves room for boundaries and part headers on top of the image.
const multipartOverhead = 64 << 10

//go:embed templates/*.tmpl
var templateFS embed.FS

// User facing failure messages.
const (
	MessageNetwork     = "Failed to analyze image. Make sure the backend is running."
	MessageHTTPPrefix  = "Backend error: "
	MessageMalformed   = "Invalid JSON received from backend."
	MessageInFlight    = "An analysis is already in progress."
	MessageRateLimited = "Too many analyses from this address. Please wait a moment and try again."
	MessageTooLarge    = "The selected file is too large."
)

// Operations is the audit side of the use case served to operators.
type Operations interface {
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
	GetAnalysis(ctx context.Context, requestID string) (*repository.AnalysisLog, error)
}

// Handler carries the dependencies shared by every route.
type Handler struct {
	sessions      *session.Store
	newController session.Factory
	operations    Operations
	dashboard     *dashboard.Dashboard
	limiter       ratelimit.Limiter
	logger        *zap.Logger
	maxUpload     int64
	secureCookies bool
}

// Config groups the constructor arguments. Operations and Limiter may be nil.
type Config struct {
	Sessions       *session.Store
	NewController  session.Factory
	Operations     Operations
	Dashboard      *dashboard.Dashboard
	Limiter        ratelimit.Limiter
	Logger         *zap.Logger
	MaxUploadBytes int64
	SecureCookies  bool
}

// New builds a Handler.
func New(cfg Config) *Handler {
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = MaxUploadSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		sessions:      cfg.Sessions,
		newController: cfg.NewController,
		operations:    cfg.Operations,
		dashboard:     cfg.Dashboard,
		limiter:       cfg.Limiter,
		logger:        logger.Named("handlers"),
		maxUpload:     maxUpload,
		secureCookies: cfg.SecureCookies,
	}
}

// RegisterRoutes wires the HTTP handlers to the Gin router. Operator routes are only
// mounted when authMiddleware is non-nil.
func RegisterRoutes(router *gin.Engine, h *Handler, authMiddleware gin.HandlerFunc) {
	router.SetHTMLTemplate(template.Must(template.New("").Funcs(templateFuncs).ParseFS(templateFS, "templates/*.tmpl")))
	router.MaxMultipartMemory = h.maxUpload

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/", h.landing)
	router.GET("/about", h.about)
	router.GET("/results", h.results)

	pages := router.Group("/analyze", h.sessionMiddleware())
	pages.GET("", h.analyzePage)
	pages.POST("/select", h.selectFile)
	pages.POST("/clear", h.clearSelection)
	pages.POST("/submit", h.submit)

	api := router.Group("/api")
	api.GET("/dashboard", func(c *gin.Context) {
		c.JSON(http.StatusOK, h.dashboard)
	})
	if h.limiter != nil {
		api.POST("/predict", ratelimit.Middleware(h.limiter, h.logger), h.predict)
	} else {
		api.POST("/predict", h.predict)
	}

	if authMiddleware != nil {
		ops := api.Group("", authMiddleware)
		ops.GET("/metrics", h.metrics)
		ops.GET("/analyses/:id", h.getAnalysis)
	}
}

// UserMessage turns a submission failure into the text shown to the user.
func UserMessage(err error) string {
	if errors.Is(err, upload.ErrSubmitInFlight) {
		return MessageInFlight
	}
	switch classifier.Kind(err) {
	case classifier.KindHTTP:
		var httpErr *classifier.HTTPError
		errors.As(err, &httpErr)
		return MessageHTTPPrefix + httpErr.Body
	case classifier.KindMalformed:
		return MessageMalformed
	default:
		return MessageNetwork
	}
}

func statusFor(err error) int {
	if errors.Is(err, upload.ErrSubmitInFlight) {
		return http.StatusConflict
	}
	if classifier.Kind(err) == classifier.KindNetwork && errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

// readUpload pulls the image part out of a multipart request. tooLarge is set when
// the body or the part exceeds the upload cap.
func (h *Handler) readUpload(c *gin.Context) (candidate upload.Candidate, tooLarge bool, err error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload+multipartOverhead)

	file, err := c.FormFile(classifier.FormField)
	if err != nil {
		var maxErr *http.MaxBytesError
		return upload.Candidate{}, errors.As(err, &maxErr), err
	}
	if file.Size > h.maxUpload {
		return upload.Candidate{}, true, errors.New("file exceeds upload limit")
	}

	data, err := readPart(file)
	if err != nil {
		return upload.Candidate{}, false, err
	}
	return upload.Candidate{
		Name:        file.Filename,
		ContentType: file.Header.Get("Content-Type"),
		Data:        data,
	}, false, nil
}

func readPart(file *multipart.FileHeader) ([]byte, error) {
	src, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return io.ReadAll(src)
}

func (h *Handler) predict(c *gin.Context) {
	candidate, tooLarge, err := h.readUpload(c)
	if tooLarge {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": MessageTooLarge})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
		return
	}

	controller := h.newController()
	if !controller.SelectFile(candidate) {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "only image/jpeg and image/png are accepted"})
		return
	}

	handoff, err := controller.Submit(c.Request.Context())
	if err != nil {
		c.JSON(statusFor(err), gin.H{
			"error": UserMessage(err),
			"kind":  classifier.Kind(err),
		})
		return
	}

	view := presenter.Render(handoff)
	c.JSON(http.StatusOK, gin.H{
		"result":             handoff.Result,
		"confidence_percent": view.ConfidencePercent,
		"critical":           view.Critical,
	})
}

func (h *Handler) metrics(c *gin.Context) {
	if h.operations == nil {
		h.writeOperationsError(c, usecase.ErrAuditDisabled)
		return
	}
	summary, err := h.operations.GetMetricsSummary(c.Request.Context())
	if err != nil {
		h.writeOperationsError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) getAnalysis(c *gin.Context) {
	requestID := c.Param("id")
	if requestID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
		return
	}
	if h.operations == nil {
		h.writeOperationsError(c, usecase.ErrAuditDisabled)
		return
	}

	log, err := h.operations.GetAnalysis(c.Request.Context(), requestID)
	if err != nil {
		h.writeOperationsError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"request_id":   log.RequestID,
		"file_name":    log.FileName,
		"content_type": log.ContentType,
		"size_bytes":   log.SizeBytes,
		"sha1":         log.SHA1Hash,
		"outcome":      log.Outcome,
		"prediction":   log.Prediction,
		"positive":     log.Positive,
		"confidence":   log.Confidence,
		"latency_ms":   log.LatencyMs,
		"created_at":   log.CreatedAt,
	})
}

func (h *Handler) writeOperationsError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, usecase.ErrAuditDisabled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit log is not configured"})
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "analysis not found"})
	default:
		h.logger.Error("operator query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
