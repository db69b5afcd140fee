package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/neosu-project/neosu/internal/bancho"
	"github.com/neosu-project/neosu/internal/config"
	"github.com/neosu-project/neosu/internal/connector"
	"github.com/neosu-project/neosu/internal/db"
	"github.com/neosu-project/neosu/internal/events"
	"github.com/neosu-project/neosu/internal/telemetry"
)

// Server is the local REST API of the client daemon. Every handler that
// touches the session goes through bancho.Client.Do.
type Server struct {
	cfg    *config.Config
	bus    *events.EventBus
	client *bancho.Client

	vars    *config.Vars
	scores  *db.ScoreDatabase
	avatars *connector.AvatarStore
	metrics *telemetry.Metrics

	httpServer *http.Server
	router     *gin.Engine
}

// Deps are the optional collaborators of the API server.
type Deps struct {
	Vars    *config.Vars
	Scores  *db.ScoreDatabase
	Avatars *connector.AvatarStore
	Metrics *telemetry.Metrics
}

// NewServer creates a new API server.
func NewServer(cfg *config.Config, bus *events.EventBus, client *bancho.Client, deps Deps) *Server {
	if cfg.GetApplicationData().Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:     cfg,
		bus:     bus,
		client:  client,
		vars:    deps.Vars,
		scores:  deps.Scores,
		avatars: deps.Avatars,
		metrics: deps.Metrics,
	}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	apiCfg := s.cfg.GetApplicationData().API
	addr := net.JoinHostPort(apiCfg.ListenAddress, strconv.Itoa(apiCfg.Port))

	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: 30 * time.Second,
		// no write timeout: /api/events is a long-lived websocket
		IdleTimeout: 120 * time.Second,
	}
	if apiCfg.TLSEnabled {
		s.httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	log.Info().Str("addr", addr).Bool("tls", apiCfg.TLSEnabled).Msg("REST API server starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	if apiCfg.TLSEnabled {
		err = s.httpServer.ServeTLS(ln, apiCfg.TLSCertFile, apiCfg.TLSKeyFile)
	} else {
		err = s.httpServer.Serve(ln)
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	apiCfg := s.cfg.GetApplicationData().API
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := apiCfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	router.Use(NewRateLimiter(apiCfg.RateLimitRPS).Middleware())

	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{})))
	}

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/version", s.handleGetVersion)
		public.GET("/system", s.handleGetSystemInfo)
		public.GET("/oauth/callback", s.handleOAuthCallback)
	}

	protected := router.Group("/api")
	protected.Use(NewAuthMiddleware(apiCfg.AuthToken).RequireAuth())

	protected.GET("/status", s.handleGetStatus)
	protected.GET("/events", s.handleEvents)

	session := protected.Group("/session")
	{
		session.POST("/login", s.handleLogin)
		session.POST("/logout", s.handleLogout)
		session.POST("/oauth", s.handleBeginOAuth)
	}

	users := protected.Group("/users")
	{
		users.GET("", s.handleGetUsers)
		users.GET("/:id", s.handleGetUser)
		users.GET("/:id/avatar", s.handleGetAvatar)
		users.POST("/:id/friend", s.handleAddFriend)
		users.DELETE("/:id/friend", s.handleRemoveFriend)
		users.POST("/:id/spectate", s.handleStartSpectating)
	}
	protected.DELETE("/spectate", s.handleStopSpectating)

	chat := protected.Group("/chat")
	{
		chat.GET("/channels", s.handleGetChannels)
		chat.GET("/history", s.handleGetHistory)
		chat.POST("/join", s.handleJoinChannel)
		chat.POST("/part", s.handlePartChannel)
		chat.POST("/send", s.handleSendMessage)
		chat.POST("/read", s.handleMarkAsRead)
	}

	lobby := protected.Group("/lobby")
	{
		lobby.GET("", s.handleGetLobby)
		lobby.POST("/join", s.handleJoinLobby)
		lobby.POST("/exit", s.handleExitLobby)
	}

	room := protected.Group("/room")
	{
		room.GET("", s.handleGetRoom)
		room.POST("/create", s.handleCreateRoom)
		room.POST("/join", s.handleJoinRoom)
		room.POST("/leave", s.handleLeaveRoom)
		room.POST("/action/:action", s.handleRoomAction)
	}

	configure := protected.Group("/config")
	{
		configure.GET("", s.handleGetConfig)
		configure.GET("/vars", s.handleGetVars)
		configure.PUT("/vars/:name", s.handleSetVar)
		configure.PUT("/application", s.handleSetAppData)
	}

	leaderboards := protected.Group("/leaderboards")
	{
		leaderboards.GET("/:md5", s.handleGetLeaderboard)
		leaderboards.POST("/:md5/fetch", s.handleFetchLeaderboard)
	}

	replays := protected.Group("/replays")
	{
		replays.GET("", s.handleGetReplays)
		replays.POST("/:score_id", s.handleDownloadReplay)
	}

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "neosu client API is running"})
	})

	return router
}

// do runs fn on the session loop and writes an error response if it
// fails. It reports whether fn succeeded.
func (s *Server) do(c *gin.Context, fn func(*bancho.State) error) bool {
	err := s.client.Do(c.Request.Context(), fn)
	if err == nil {
		return true
	}
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
	return false
}

// snapshot writes an error response if the session loop is gone.
func (s *Server) snapshot(c *gin.Context) (bancho.Snapshot, bool) {
	snap, err := s.client.Snapshot(c.Request.Context())
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return snap, false
	}
	return snap, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, bancho.ErrOffline), errors.Is(err, bancho.ErrNotInRoom):
		return http.StatusConflict
	case errors.Is(err, config.ErrVarProtected):
		return http.StatusForbidden
	case errors.Is(err, config.ErrUnknownVar):
		return http.StatusNotFound
	case errors.Is(err, config.ErrVarType):
		return http.StatusBadRequest
	case errors.Is(err, bancho.ErrClientStopped), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
