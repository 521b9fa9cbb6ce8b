package handlers

import (
	"html/template"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/boneguard/internal/dashboard"
	"github.com/example/boneguard/internal/presenter"
	"github.com/example/boneguard/internal/ratelimit"
	"github.com/example/boneguard/internal/upload"
)

// SessionCookie carries the browser's session id.
const SessionCookie = "boneguard_session"

const controllerKey = "uploadController"

var templateFuncs = template.FuncMap{
	"polyline": dashboard.Polyline,
	"percent": func(v float64) string {
		return strconv.FormatFloat(v, 'f', 2, 64) + "%"
	},
}

type analyzeView struct {
	FileName    string
	ContentType string
	Preview     template.URL
	HasFile     bool
	InFlight    bool
	Error       string
}

type resultView struct {
	presenter.View
	ImageURL template.URL
}

// sessionMiddleware attaches the caller's upload controller, creating a session on
// first contact.
func (h *Handler) sessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, _ := c.Cookie(SessionCookie)
		id, controller, created := h.sessions.GetOrCreate(id)
		if created {
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(SessionCookie, id, 0, "/", "", h.secureCookies, true)
		}
		c.Set(controllerKey, controller)
		c.Next()
	}
}

func controllerFrom(c *gin.Context) *upload.Controller {
	return c.MustGet(controllerKey).(*upload.Controller)
}

func (h *Handler) landing(c *gin.Context) {
	c.HTML(http.StatusOK, "index.tmpl", h.dashboard)
}

func (h *Handler) about(c *gin.Context) {
	c.HTML(http.StatusOK, "about.tmpl", h.dashboard)
}

// results is reached by direct navigation only, so there is never a handoff.
func (h *Handler) results(c *gin.Context) {
	c.HTML(http.StatusOK, "results.tmpl", resultView{View: presenter.Render(nil)})
}

func (h *Handler) analyzePage(c *gin.Context) {
	h.renderAnalyze(c, http.StatusOK, controllerFrom(c), "")
}

func (h *Handler) renderAnalyze(c *gin.Context, status int, controller *upload.Controller, message string) {
	view := analyzeView{InFlight: controller.InFlight(), Error: message}
	if selection, ok := controller.Selection(); ok {
		view.HasFile = true
		view.FileName = selection.FileName
		view.ContentType = selection.MediaType()
		preview, err := controller.Preview(c.Request.Context())
		if err != nil {
			h.logger.Debug("preview unavailable", zap.Error(err))
		}
		view.Preview = template.URL(preview)
	}
	c.HTML(status, "analyze.tmpl", view)
}

func (h *Handler) selectFile(c *gin.Context) {
	controller := controllerFrom(c)
	candidate, tooLarge, err := h.readUpload(c)
	if tooLarge {
		h.renderAnalyze(c, http.StatusRequestEntityTooLarge, controller, MessageTooLarge)
		return
	}
	if err == nil {
		controller.SelectFile(candidate)
	}
	c.Redirect(http.StatusSeeOther, presenter.UploadPath)
}

func (h *Handler) clearSelection(c *gin.Context) {
	controllerFrom(c).ClearSelection()
	c.Redirect(http.StatusSeeOther, presenter.UploadPath)
}

func (h *Handler) submit(c *gin.Context) {
	controller := controllerFrom(c)
	if _, ok := controller.Selection(); !ok {
		c.Redirect(http.StatusSeeOther, presenter.UploadPath)
		return
	}
	if h.limiter != nil && !ratelimit.Check(c, h.limiter, h.logger) {
		h.renderAnalyze(c, http.StatusTooManyRequests, controller, MessageRateLimited)
		return
	}

	handoff, err := controller.Submit(c.Request.Context())
	if err != nil {
		h.renderAnalyze(c, statusFor(err), controller, UserMessage(err))
		return
	}
	if handoff == nil {
		c.Redirect(http.StatusSeeOther, presenter.UploadPath)
		return
	}

	view := presenter.Render(handoff)
	c.HTML(http.StatusOK, "results.tmpl", resultView{View: view, ImageURL: template.URL(view.Image)})
}
