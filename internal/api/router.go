package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/absens/internal/api/handlers"
	"github.com/your-org/absens/internal/api/ws"
	"github.com/your-org/absens/internal/auth"
)

type RouterConfig struct {
	APIKey        string
	Tokens        *auth.TokenService
	MaxPhotoBytes int64

	Ingest     handlers.Submitter
	Records    handlers.RecordReader
	Matcher    handlers.MatchFinder
	Lifecycle  handlers.Transitioner
	Photos     handlers.PhotoReader
	Reconciler handlers.JobReconciler
	Checks     []handlers.Check
	Hub        *ws.Hub
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggingMiddleware())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Authorization", "Idempotency-Key", "X-API-Key"},
		ExposeHeaders:   []string{"X-Request-ID"},
	}))

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.Checks...)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (bearer auth)
	v1 := r.Group("/v1")
	v1.Use(auth.BearerMiddleware(cfg.Tokens))

	if cfg.Hub != nil {
		v1.GET("/ws", cfg.Hub.HandleWS)
	}

	recordH := handlers.NewRecordHandler(cfg.Ingest, cfg.Records, cfg.Matcher, cfg.Lifecycle, cfg.MaxPhotoBytes)
	v1.POST("/records/:kind", recordH.Create)
	v1.GET("/records/:kind", recordH.List)
	v1.GET("/records/:kind/:id", recordH.Get)
	v1.POST("/records/:kind/matches", recordH.Matches)
	v1.PATCH("/records/:kind/:id/status", recordH.UpdateStatus)

	photoH := handlers.NewPhotoHandler(cfg.Photos)
	v1.GET("/photos/*key", photoH.Get)

	// Operator endpoints (API key)
	admin := r.Group("/v1/admin")
	admin.Use(auth.APIKeyMiddleware(cfg.APIKey))
	adminH := handlers.NewAdminHandler(cfg.Reconciler)
	admin.GET("/index-jobs", adminH.ListJobs)
	admin.POST("/index-jobs/retry-failed", adminH.RetryFailed)
	admin.POST("/index-jobs/:id/retry", adminH.RetryJob)

	return r
}
