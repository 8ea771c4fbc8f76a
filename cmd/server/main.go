package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"github.com/dubinc/dub-sub034/internal/config"
	"github.com/dubinc/dub-sub034/internal/database"
	"github.com/dubinc/dub-sub034/internal/events"
	"github.com/dubinc/dub-sub034/internal/handlers"
	"github.com/dubinc/dub-sub034/internal/jobs"
	"github.com/dubinc/dub-sub034/internal/linkcache"
	"github.com/dubinc/dub-sub034/internal/middleware"
	"github.com/dubinc/dub-sub034/internal/queue"
	"github.com/dubinc/dub-sub034/internal/routes"
	"github.com/dubinc/dub-sub034/internal/services/attribution"
	"github.com/dubinc/dub-sub034/internal/services/clicks"
	"github.com/dubinc/dub-sub034/internal/services/commission"
	"github.com/dubinc/dub-sub034/internal/services/links"
	"github.com/dubinc/dub-sub034/internal/services/rewards"
	"github.com/dubinc/dub-sub034/internal/webhook"
)

func main() {
	// Initialize configuration
	cfg := config.LoadConfig()

	// Initialize database
	db, err := database.InitDB(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Test Redis connection
	ctx := context.Background()
	if _, err := redisClient.Ping(ctx).Result(); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}

	// Create Redis-backed queue instance
	redisQueue := queue.NewRedisQueue(redisClient, db)

	// Initialize the link cache and event sink
	linkCache := linkcache.NewCache(redisClient, cfg.Cache.TTL)
	sink := events.NewRedisSink(redisClient, cfg.Sink.Retention)

	// Initialize services
	linkService := links.NewService(db, linkCache, redisQueue, cfg.Cache.LookupTimeout, cfg.Cache.StoreTimeout)
	clickRecorder := clicks.NewRecorder(redisQueue, cfg.Track.DeniedReferrers, cfg.Track.ClicksPerSecond, cfg.Track.ClickBurst)
	attributionService := attribution.NewService(db, sink, redisQueue, linkService)
	rewardResolver := rewards.NewResolver(db)
	commissionEngine := commission.NewEngine(db, rewardResolver)
	dispatcher := webhook.NewDispatcher(db, cfg.Webhook.Timeout)

	// Register all job handlers and start the workers
	workerManager := queue.NewWorkerManager(redisQueue)
	jobs.RegisterAllJobHandlers(workerManager, db, sink, linkService, commissionEngine, dispatcher, redisQueue, cfg.Queue.Workers)
	workerManager.StartAll()

	// Schedule recurring jobs
	if err := jobs.ScheduleRecurringJobs(redisQueue); err != nil {
		log.Fatalf("Failed to schedule recurring jobs: %v", err)
	}

	// Initialize handlers
	redirectHandler := handlers.NewRedirectHandler(linkService, clickRecorder)
	trackHandler := handlers.NewTrackHandler(linkService, clickRecorder, attributionService)
	linkHandler := handlers.NewLinkHandler(db, linkService)

	// Initialize middleware
	rateLimiter := middleware.NewRateLimiter(cfg.Track.IPRequestsPerSecond, cfg.Track.IPBurst)

	// Initialize Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(cors.Default())

	// Setup routes
	routes.SetupRoutes(router, redirectHandler, trackHandler, linkHandler, rateLimiter)

	// Start server
	srv := startServer(router, cfg.Server.Port)

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Stop background processing
	workerManager.StopAll()
	clickRecorder.Stop()
	rateLimiter.Stop()

	// Create a deadline to wait for
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Shutdown server
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exiting")
}

// startServer starts the HTTP server
func startServer(router *gin.Engine, port string) *http.Server {
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	log.Printf("Server started on port %s", port)
	return srv
}
