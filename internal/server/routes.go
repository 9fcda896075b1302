package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	authH "github.com/driftbox/driftbox/internal/server/handlers/auth"
	filesH "github.com/driftbox/driftbox/internal/server/handlers/files"
	syncH "github.com/driftbox/driftbox/internal/server/handlers/syncapi"
	"github.com/driftbox/driftbox/internal/server/middlewares"
	"github.com/driftbox/driftbox/internal/version"
)

func SetupRoutes(config *Config, svc *Services) http.Handler {
	r := gin.New()
	r.MaxMultipartMemory = 8 << 20 // 8 MiB

	authHandler := authH.New(svc.Auth)
	filesHandler := filesH.New(svc.Metadata, svc.Content, svc.Reconcile, svc.Chunks, config.Storage.MaxFileSize)
	syncHandler := syncH.New(svc.Metadata)

	r.Use(middlewares.Logger())
	r.Use(gin.Recovery())
	r.Use(middlewares.GZIP())
	r.Use(middlewares.CORS())
	r.Use(middlewares.SecurityHeaders())

	r.GET("/", IndexHandler)
	r.GET("/healthz", HealthHandler)

	// credential endpoints sit behind a tighter rate limit
	authRoutes := r.Group("/auth", middlewares.RateLimiter("30-M"))
	{
		authRoutes.POST("/register", authHandler.Register)
		authRoutes.POST("/login", authHandler.Login)
		authRoutes.POST("/refresh", authHandler.Refresh)
	}

	// the push channel authenticates via its CONNECT frame, not the JWT header
	r.GET("/ws/sync", svc.Hub.WebsocketHandler)

	authed := r.Group("/")
	authed.Use(middlewares.JWTAuth(svc.Auth))
	{
		authed.POST("/auth/logout", authHandler.Logout)

		files := authed.Group("/files")
		{
			files.GET("/", filesHandler.List)
			files.POST("/upload", filesHandler.Upload)
			files.POST("/upload/initiate-chunked", filesHandler.InitiateChunked)
			files.POST("/upload/chunk", filesHandler.UploadChunk)
			files.GET("/upload/status/:sessionId", filesHandler.ChunkStatus)
			files.DELETE("/upload/cancel/:sessionId", filesHandler.CancelChunked)
			files.GET("/upload/sessions", filesHandler.ListChunkSessions)
			files.GET("/:fileId/download", filesHandler.Download)
			files.GET("/:fileId/download-chunked", filesHandler.DownloadChunked)
			files.GET("/:fileId/versions", filesHandler.Versions)
			files.GET("/:fileId/metadata", filesHandler.Metadata)
			files.PUT("/:fileId", filesHandler.Replace)
			files.DELETE("/:fileId", filesHandler.Delete)
		}

		sync := authed.Group("/sync")
		{
			sync.GET("/changes", syncHandler.Changes)
			sync.POST("/heartbeat", syncHandler.Heartbeat)
		}
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "method not allowed"})
	})

	return r.Handler()
}

func IndexHandler(ctx *gin.Context) {
	ctx.String(http.StatusOK, version.DetailedWithApp())
}

func HealthHandler(ctx *gin.Context) {
	ctx.PureJSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": version.Version,
	})
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}
