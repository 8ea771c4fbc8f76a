package handlers

import (
	"errors"
	"net/http"

	"github.com/dubinc/dub-sub034/internal/services/attribution"
	"github.com/dubinc/dub-sub034/internal/services/clicks"
	"github.com/dubinc/dub-sub034/internal/services/links"
	"github.com/gin-gonic/gin"
)

// TrackHandler handles the public conversion-tracking endpoints
type TrackHandler struct {
	links       *links.Service
	recorder    *clicks.Recorder
	attribution *attribution.Service
}

// NewTrackHandler creates a new track handler
func NewTrackHandler(linkSvc *links.Service, recorder *clicks.Recorder, attributionSvc *attribution.Service) *TrackHandler {
	return &TrackHandler{
		links:       linkSvc,
		recorder:    recorder,
		attribution: attributionSvc,
	}
}

// TrackClickRequest represents a request to record a click for a link
type TrackClickRequest struct {
	Domain   string `json:"domain" binding:"required"`
	Key      string `json:"key" binding:"required"`
	ClickID  string `json:"click_id"`
	Referrer string `json:"referrer"`
}

// TrackClick resolves the link and enqueues a click event. The response
// returns as soon as the click is queued; durable recording happens in the
// background workers.
func (h *TrackHandler) TrackClick(c *gin.Context) {
	var req TrackClickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	view, err := h.links.Resolve(c.Request.Context(), req.Domain, req.Key)
	if err != nil {
		if errors.Is(err, links.ErrLinkNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "link not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve link"})
		return
	}

	clickID, err := h.recorder.Record(c.Request.Context(), view, clicks.RequestMetadata{
		ClickID:   req.ClickID,
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		Referrer:  req.Referrer,
	})
	if err != nil {
		if errors.Is(err, clicks.ErrDeniedReferrer) {
			c.JSON(http.StatusForbidden, gin.H{"error": "referrer not allowed"})
			return
		}
		if errors.Is(err, clicks.ErrRateLimited) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record click"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"click_id": clickID,
	})
}

// TrackLeadRequest represents a lead conversion reported against a click id
type TrackLeadRequest struct {
	ClickID       string                 `json:"click_id" binding:"required"`
	EventName     string                 `json:"event_name" binding:"required"`
	ExternalID    string                 `json:"external_id" binding:"required"`
	CustomerName  string                 `json:"customer_name"`
	CustomerEmail string                 `json:"customer_email"`
	Metadata      map[string]interface{} `json:"metadata"`
	Quantity      int64                  `json:"quantity"`
}

// TrackLead records a lead conversion. An unresolvable click id is a soft
// outcome reported as success with no lead attached.
func (h *TrackHandler) TrackLead(c *gin.Context) {
	var req TrackLeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	lead, err := h.attribution.TrackLead(c.Request.Context(), attribution.LeadRequest{
		ClickID:       req.ClickID,
		EventName:     req.EventName,
		ExternalID:    req.ExternalID,
		CustomerName:  req.CustomerName,
		CustomerEmail: req.CustomerEmail,
		Metadata:      req.Metadata,
		Quantity:      req.Quantity,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to track lead"})
		return
	}

	if lead == nil {
		// The click belongs to nothing we track
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"lead":   lead,
	})
}

// TrackSaleRequest represents a sale conversion reported against a click id
type TrackSaleRequest struct {
	ClickID          string `json:"click_id" binding:"required"`
	EventName        string `json:"event_name"`
	ExternalID       string `json:"external_id" binding:"required"`
	Amount           int64  `json:"amount" binding:"required,gt=0"`
	Currency         string `json:"currency"`
	PaymentProcessor string `json:"payment_processor" binding:"required"`
	InvoiceID        string `json:"invoice_id" binding:"required"`
	Recurring        bool   `json:"recurring"`
}

// TrackSale records a sale conversion. A duplicate (processor, invoice id)
// pair is a no-op success; an unresolvable click id is a 404 so the caller
// can retry once the click lands.
func (h *TrackHandler) TrackSale(c *gin.Context) {
	var req TrackSaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sale, err := h.attribution.TrackSale(c.Request.Context(), attribution.SaleRequest{
		ClickID:          req.ClickID,
		EventName:        req.EventName,
		ExternalID:       req.ExternalID,
		Amount:           req.Amount,
		Currency:         req.Currency,
		PaymentProcessor: req.PaymentProcessor,
		InvoiceID:        req.InvoiceID,
		Recurring:        req.Recurring,
	})
	if err != nil {
		if errors.Is(err, attribution.ErrDuplicateSale) {
			c.JSON(http.StatusOK, gin.H{"status": "duplicate"})
			return
		}
		if errors.Is(err, attribution.ErrClickNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "click not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to track sale"})
		return
	}

	if sale == nil {
		// Conversion tracking is off for the click's link
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"sale":   sale,
	})
}
