package routes

import (
	"github.com/dubinc/dub-sub034/internal/handlers"
	"github.com/dubinc/dub-sub034/internal/middleware"
	"github.com/gin-gonic/gin"
)

// SetupRoutes configures all API routes
func SetupRoutes(
	router *gin.Engine,
	redirectHandler *handlers.RedirectHandler,
	trackHandler *handlers.TrackHandler,
	linkHandler *handlers.LinkHandler,
	rateLimiter *middleware.RateLimiter,
) {
	// Public tracking surface, rate limited per IP
	trackGroup := router.Group("/track")
	trackGroup.Use(rateLimiter.IPRateLimiterMiddleware())
	{
		trackGroup.POST("/click", trackHandler.TrackClick)
		trackGroup.POST("/lead", trackHandler.TrackLead)
		trackGroup.POST("/sale", trackHandler.TrackSale)
	}

	// Link management API
	linkGroup := router.Group("/api/links")
	{
		linkGroup.POST("", linkHandler.CreateLink)
		linkGroup.PATCH("/:id", linkHandler.UpdateLink)
		linkGroup.DELETE("/:id", linkHandler.DeleteLink)
		linkGroup.POST("/transfer-domain", linkHandler.TransferDomain)
	}

	// The redirect path matches everything else by host and key
	router.GET("/:key", redirectHandler.Redirect)
	router.GET("/", redirectHandler.Redirect)
}
