package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/instalite-chat/internal/auth"
	"github.com/vovakirdan/instalite-chat/internal/config"
	"github.com/vovakirdan/instalite-chat/internal/core"
	"github.com/vovakirdan/instalite-chat/internal/service/messages"
	"github.com/vovakirdan/instalite-chat/internal/store"
	"github.com/vovakirdan/instalite-chat/internal/upload"
)

// Deps are the collaborators served over HTTP.
type Deps struct {
	Hub      core.Hub
	Auth     *auth.Service
	Users    store.UserStore
	Messages *messages.Service
	Uploads  *upload.Store
}

// NewServer builds the HTTP server with REST, upload and WebSocket routes.
func NewServer(deps Deps, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	router.GET("/health", healthHandler)
	router.GET("/debug/stats", statsHandler(deps.Hub, logger))
	router.Static("/uploads", deps.Uploads.Dir())

	apiHandlers := NewAPIHandlers(deps.Auth, logger)
	userHandlers := NewUserHandlers(deps.Users, logger)
	messageHandlers := NewMessageHandlers(deps.Messages, logger)
	uploadHandlers := NewUploadHandlers(deps.Uploads, cfg.MaxUploadBytes, logger)

	api := router.Group("/api")
	api.POST("/auth/register", apiHandlers.Register)
	api.POST("/auth/login", apiHandlers.Login)

	protected := api.Group("")
	protected.Use(AuthMiddleware(deps.Auth, logger))
	protected.GET("/users/me", userHandlers.Me)
	protected.GET("/users/search", userHandlers.SearchUsers)
	protected.GET("/messages/:roomId", messageHandlers.History)
	protected.POST("/upload", uploadHandlers.Upload)

	// The WebSocket handler hijacks the connection after writing the
	// upgrade response, which gin's response writer refuses.
	mux := stdhttp.NewServeMux()
	mux.Handle("/ws", NewWSHandler(deps.Hub, deps.Auth, cfg, logger))
	mux.Handle("/", router)

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}

func statsHandler(hub core.Hub, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := hub.Stats(c.Request.Context())
		if err != nil {
			logger.Warn().Err(err).Msg("hub stats unavailable")
			c.JSON(stdhttp.StatusServiceUnavailable, ErrorResponse{Error: "hub unavailable"})
			return
		}
		c.JSON(stdhttp.StatusOK, stats)
	}
}
