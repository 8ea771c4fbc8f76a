package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/dubinc/dub-sub034/internal/services/clicks"
	"github.com/dubinc/dub-sub034/internal/services/links"
	"github.com/gin-gonic/gin"
)

// RedirectHandler serves the hot redirect path
type RedirectHandler struct {
	links    *links.Service
	recorder *clicks.Recorder
}

// NewRedirectHandler creates a new redirect handler
func NewRedirectHandler(linkSvc *links.Service, recorder *clicks.Recorder) *RedirectHandler {
	return &RedirectHandler{
		links:    linkSvc,
		recorder: recorder,
	}
}

// Redirect resolves the link for the request's host and path and issues a
// 302. Click recording is fire and forget: a rejected or failed record never
// delays or blocks the redirect.
func (h *RedirectHandler) Redirect(c *gin.Context) {
	domain := hostWithoutPort(c.Request.Host)
	key := strings.Trim(c.Param("key"), "/")
	if key == "" {
		key = "_root"
	}

	view, err := h.links.Resolve(c.Request.Context(), domain, key)
	if err != nil {
		if errors.Is(err, links.ErrLinkNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "link not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve link"})
		return
	}

	clickID, err := h.recorder.Record(c.Request.Context(), view, clicks.RequestMetadata{
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		Referrer:  c.Request.Referer(),
	})
	if err == nil {
		c.SetCookie("dub_id", clickID, 3600, "/", domain, false, true)
	}

	c.Redirect(http.StatusFound, view.URL)
}

// hostWithoutPort strips the port from a Host header value
func hostWithoutPort(host string) string {
	if i := strings.LastIndex(host, ":"); i > 0 {
		return strings.ToLower(host[:i])
	}
	return strings.ToLower(host)
}
