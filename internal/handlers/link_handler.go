package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/dubinc/dub-sub034/internal/models"
	"github.com/dubinc/dub-sub034/internal/services/links"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LinkHandler handles link management requests
type LinkHandler struct {
	db    *gorm.DB
	links *links.Service
}

// NewLinkHandler creates a new link handler
func NewLinkHandler(db *gorm.DB, linkSvc *links.Service) *LinkHandler {
	return &LinkHandler{
		db:    db,
		links: linkSvc,
	}
}

// CreateLinkRequest represents a request to create a link
type CreateLinkRequest struct {
	WorkspaceID     uuid.UUID  `json:"workspace_id" binding:"required"`
	Domain          string     `json:"domain" binding:"required"`
	Key             string     `json:"key" binding:"required"`
	URL             string     `json:"url" binding:"required,url"`
	ProgramID       *uuid.UUID `json:"program_id"`
	PartnerID       *uuid.UUID `json:"partner_id"`
	FolderID        *uuid.UUID `json:"folder_id"`
	ExpiresAt       *time.Time `json:"expires_at"`
	TrackConversion bool       `json:"track_conversion"`
}

// CreateLink creates a new link
func (h *LinkHandler) CreateLink(c *gin.Context) {
	var req CreateLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	link := models.Link{
		WorkspaceID:     req.WorkspaceID,
		Domain:          req.Domain,
		Key:             req.Key,
		URL:             req.URL,
		ProgramID:       req.ProgramID,
		PartnerID:       req.PartnerID,
		FolderID:        req.FolderID,
		ExpiresAt:       req.ExpiresAt,
		TrackConversion: req.TrackConversion,
	}

	if err := h.links.CreateLink(c.Request.Context(), &link); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			c.JSON(http.StatusConflict, gin.H{"error": "link already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"status": "success",
		"link":   link,
	})
}

// UpdateLinkRequest represents a request to update a link
type UpdateLinkRequest struct {
	URL             *string    `json:"url"`
	ExpiresAt       *time.Time `json:"expires_at"`
	TrackConversion *bool      `json:"track_conversion"`
}

// UpdateLink updates an existing link
func (h *LinkHandler) UpdateLink(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid link ID"})
		return
	}

	var req UpdateLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var link models.Link
	if err := h.db.First(&link, "id = ?", id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "link not found"})
		return
	}

	if req.URL != nil {
		link.URL = *req.URL
	}
	if req.ExpiresAt != nil {
		link.ExpiresAt = req.ExpiresAt
	}
	if req.TrackConversion != nil {
		link.TrackConversion = *req.TrackConversion
	}

	if err := h.links.UpdateLink(c.Request.Context(), &link); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"link":   link,
	})
}

// DeleteLink deletes a link
func (h *LinkHandler) DeleteLink(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid link ID"})
		return
	}

	if err := h.links.DeleteLink(c.Request.Context(), id); err != nil {
		if errors.Is(err, links.ErrLinkNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "link not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// TransferDomainRequest represents a request to move all links from one
// domain to another
type TransferDomainRequest struct {
	OldDomain string `json:"old_domain" binding:"required"`
	NewDomain string `json:"new_domain" binding:"required"`
}

// TransferDomain moves every link on the old domain to the new domain,
// paging through the store until the source domain is empty.
func (h *LinkHandler) TransferDomain(c *gin.Context) {
	var req TransferDomainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	total := 0
	for {
		moved, err := h.links.TransferDomain(c.Request.Context(), req.OldDomain, req.NewDomain)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if moved == 0 {
			break
		}
		total += moved
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      "success",
		"transferred": total,
	})
}
