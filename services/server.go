package services

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/codescribe/backend/repository"
	"github.com/codescribe/backend/storage"
	ws "github.com/codescribe/backend/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Server holds all server dependencies
type Server struct {
	config *Config
	gormDB *repository.GORMRepository
	rawDB  *gorm.DB
	redis  *redis.Client
	cancel context.CancelFunc

	authService        *AuthService
	authEndpoints      *AuthEndpoints
	pipelineEndpoints  *PipelineEndpoints
	diagramEndpoints   *DiagramEndpoints
	repoEndpoints      *RepoEndpoints
	interviewEndpoints *InterviewEndpoints
	wsHub              *ws.Hub
	upgrader           websocket.Upgrader
}

// NewServer creates a new server instance
func NewServer(config *Config) *Server {
	return &Server{
		config: config,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return CheckOrigin(r, config.WebSocket.AllowedOrigins)
			},
		},
	}
}

// SetDatabase sets the database connection
func (s *Server) SetDatabase(db *repository.GORMRepository, rawDB *gorm.DB) {
	s.gormDB = db
	s.rawDB = rawDB
}

// InitializeServices wires every service from config. Optional integrations
// that are not configured leave their routes unmounted or answering 503.
func (s *Server) InitializeServices(ctx context.Context) error {
	if s.gormDB == nil {
		slog.Warn("Database not configured, API routes disabled")
		return nil
	}
	ctx, s.cancel = context.WithCancel(ctx)

	var llm TextGenerator
	if s.config.Gemini.APIKey != "" {
		gemini, err := NewGeminiService(ctx, s.config.Gemini.APIKey, s.config.Gemini.Model)
		if err != nil {
			return err
		}
		llm = gemini
		slog.Info("Gemini service initialized", "model", s.config.Gemini.Model)
	} else {
		slog.Warn("GEMINI_API_KEY not set, generation routes disabled")
	}

	github, err := NewGitHubService(s.config.GitHub)
	if err != nil {
		return err
	}

	uploader, err := s.newUploader(ctx)
	if err != nil {
		return err
	}

	ledger := NewCreditLedger(s.gormDB, s.config.Credits)
	var analyzer *FileAnalyzer
	if llm != nil {
		analyzer = NewFileAnalyzer(llm, github, s.config.Pipeline.FileConcurrency)
	}
	s.repoEndpoints = NewRepoEndpoints(github, analyzer, ledger)

	if llm != nil {
		pipeline := NewDocumentPipeline(s.gormDB, ledger, llm, s.config.Pipeline.LLMTimeout)
		s.pipelineEndpoints = NewPipelineEndpoints(pipeline)

		if uploader != nil {
			renderer := NewMermaidInkRenderer(s.config.Diagram.RenderURL)
			generator := NewDiagramGenerator(llm, renderer, uploader, s.gormDB, s.config.Pipeline.LLMTimeout)
			s.diagramEndpoints = NewDiagramEndpoints(generator)
			slog.Info("Diagram generator initialized", "provider", s.config.CDN.Provider)
		}
	}

	var tokens TokenIssuer
	if s.config.Realtime.APIKey != "" {
		tokens = NewRealtimeService(s.config.Realtime)
		slog.Info("Realtime voice service initialized", "model", s.config.Realtime.Model)
	}
	interviews := NewInterviewService(s.gormDB, ledger, tokens, llm)

	go NewInterviewSweeper(s.gormDB).Run(ctx)

	s.wsHub = ws.NewHub()
	go s.wsHub.Run()
	s.interviewEndpoints = NewInterviewEndpoints(interviews, s.wsHub, s.upgrader)

	var limiter RateLimiter = NewDBRateLimiter(s.gormDB)
	if s.config.Redis.Addr != "" {
		s.redis = redis.NewClient(&redis.Options{
			Addr:     s.config.Redis.Addr,
			Password: s.config.Redis.Password,
		})
		if err := s.redis.Ping(ctx).Err(); err != nil {
			slog.Warn("Redis unavailable, falling back to database rate limits", "error", err)
			s.redis.Close()
			s.redis = nil
		} else {
			limiter = NewRedisRateLimiter(s.redis)
			slog.Info("Redis rate limiter initialized", "addr", s.config.Redis.Addr)
		}
	}
	verification := NewVerificationService(s.gormDB, limiter, LogMailer{})

	if s.config.JWT.Secret == "" {
		slog.Warn("JWT secret not configured, authentication disabled")
		return nil
	}
	s.authService = NewAuthService(s.gormDB, s.config.JWT.Secret, s.config.IsProduction())
	s.authEndpoints = NewAuthEndpoints(s.authService, verification)
	slog.Info("Authentication service initialized")

	return nil
}

// newUploader picks the diagram store from cdn.provider. A nil uploader
// with a nil error means none is configured.
func (s *Server) newUploader(ctx context.Context) (storage.Uploader, error) {
	switch s.config.CDN.Provider {
	case "s3":
		c := s.config.CDN.S3
		if c.Bucket == "" {
			return nil, nil
		}
		return storage.NewS3Uploader(ctx, storage.S3Config{
			Region:    c.Region,
			AccessKey: c.AccessKey,
			SecretKey: c.SecretKey,
			Bucket:    c.Bucket,
		})
	default:
		c := s.config.CDN.Minio
		if c.Endpoint == "" {
			return nil, nil
		}
		return storage.NewMinioUploader(storage.MinioConfig{
			Endpoint:  c.Endpoint,
			AccessKey: c.AccessKey,
			SecretKey: c.SecretKey,
			Bucket:    c.Bucket,
			UseSSL:    c.UseSSL,
			PublicURL: c.PublicURL,
		})
	}
}

// SetupRoutes configures all HTTP routes
func (s *Server) SetupRoutes() *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))
	r.Use(MetricsMiddleware)

	r.Get("/health", s.healthHandler)
	r.Handle("/metrics", MetricsHandler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", s.apiV1Handler)
		if s.authService == nil {
			return
		}

		s.authEndpoints.RegisterRoutes(r)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authService.Middleware)
			s.repoEndpoints.RegisterRoutes(r)
			if s.pipelineEndpoints != nil {
				s.pipelineEndpoints.RegisterRoutes(r)
			}
			if s.diagramEndpoints != nil {
				s.diagramEndpoints.RegisterRoutes(r)
			}
		})

		// Interviews work signed in or anonymous
		r.Group(func(r chi.Router) {
			r.Use(s.authService.OptionalMiddleware)
			s.interviewEndpoints.RegisterRoutes(r)
		})
	})

	return r
}

// Start starts the HTTP server
func (s *Server) Start() {
	port := s.config.Server.Port
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: s.SetupRoutes(),
	}

	// Graceful shutdown
	go func() {
		slog.Info("Starting server", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.redis != nil {
		s.redis.Close()
	}

	slog.Info("Server exited")
}

// CheckOrigin validates the origin of WebSocket connections to prevent CSRF attacks
func CheckOrigin(r *http.Request, allowedOriginsStr string) bool {
	origin := r.Header.Get("Origin")

	// If no allowed origins are configured, deny all requests for security
	if allowedOriginsStr == "" {
		slog.Warn("WebSocket connection rejected: no allowed origins configured", "origin", origin)
		return false
	}

	for _, allowed := range splitList(allowedOriginsStr) {
		if allowed == origin {
			return true
		}
	}

	slog.Warn("WebSocket connection rejected: origin not allowed", "origin", origin, "allowed_origins", allowedOriginsStr)
	return false
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	dbStatus := "not configured"

	if s.rawDB != nil {
		if sqlDB, err := s.rawDB.DB(); err == nil && sqlDB.PingContext(r.Context()) == nil {
			dbStatus = "up"
		} else {
			dbStatus = "down"
			status = "degraded"
		}
	}

	resp := map[string]interface{}{"status": status, "database": dbStatus}
	if s.redis != nil {
		if err := s.redis.Ping(r.Context()).Err(); err != nil {
			resp["redis"] = "down"
			resp["status"] = "degraded"
		} else {
			resp["redis"] = "up"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) apiV1Handler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "API v1",
		"version": "1.0.0",
		"features": map[string]bool{
			"pipeline":   s.pipelineEndpoints != nil,
			"diagrams":   s.diagramEndpoints != nil,
			"interviews": s.interviewEndpoints != nil,
		},
	})
}
