package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/retasync-go/internal/config"
	"github.com/rmacdonaldsmith/retasync-go/internal/contract"
	"github.com/rmacdonaldsmith/retasync-go/internal/fanout"
	"github.com/rmacdonaldsmith/retasync-go/internal/logging"
	"github.com/rmacdonaldsmith/retasync-go/pkg/meshnode"
	storepkg "github.com/rmacdonaldsmith/retasync-go/pkg/store"
)

// Node is what the API needs from the orchestrator.
type Node interface {
	meshnode.MeshNode
	Settings() config.Dynamic
	UpdateSettings(ctx context.Context, patch config.DynamicPatch) (config.Dynamic, *storepkg.ConfigRevision, error)
	AddAclEntry(ctx context.Context, list storepkg.AclList, identity, note string) (*storepkg.AclEntry, error)
	RemoveAclEntry(ctx context.Context, list storepkg.AclList, identity string) error
	ListAclEntries(ctx context.Context, list storepkg.AclList) ([]storepkg.AclEntry, error)
}

// Deps are the components the handlers read from.
type Deps struct {
	Node     Node
	Store    storepkg.Store
	Hub      *fanout.Hub
	Logs     *logging.Buffer
	Contract *contract.Document
	Logger   *zap.Logger
}

// Config holds server configuration
type Config struct {
	Bind string
	// AuthToken is the HS256 secret. Empty disables authentication.
	AuthToken         string
	SubmitRate        float64
	SubmitBurst       int
	MaxBodyBytes      int64
	ReadTimeout       time.Duration
	KeepaliveInterval time.Duration
	Version           string
}

func (c *Config) setDefaults() {
	if c.Bind == "" {
		c.Bind = "127.0.0.1:8787"
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 16 << 20
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = 15 * time.Second
	}
	if c.Version == "" {
		c.Version = "dev"
	}
}

// Server represents the HTTP API server
type Server struct {
	jwtAuth    *JWTAuth
	handlers   *Handlers
	middleware *Middleware
	server     *http.Server
	logger     *zap.Logger
}

// NewServer creates a new HTTP API server
func NewServer(deps Deps, cfg Config) *Server {
	cfg.setDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("http")
	deps.Logger = logger

	var jwtAuth *JWTAuth
	if cfg.AuthToken != "" {
		jwtAuth = NewJWTAuth(cfg.AuthToken)
	}

	server := &Server{
		jwtAuth:    jwtAuth,
		handlers:   NewHandlers(deps, cfg),
		middleware: NewMiddleware(jwtAuth, cfg.SubmitRate, cfg.SubmitBurst, logger),
		logger:     logger,
	}

	// WriteTimeout stays zero so the push stream can stay open.
	server.server = &http.Server{
		Addr:              cfg.Bind,
		Handler:           server.setupRoutes(),
		ReadHeaderTimeout: cfg.ReadTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
	}
	return server
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Auth returns the token handler, or nil when authentication is disabled.
func (s *Server) Auth() *JWTAuth {
	return s.jwtAuth
}

// Start listens on the configured bind address and serves until Stop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on ln until Stop. It returns nil after a graceful shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("http api listening", zap.String("addr", ln.Addr().String()), zap.Bool("auth", s.jwtAuth != nil))
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() http.Handler {
	h, m := s.handlers, s.middleware

	r := chi.NewRouter()
	r.Use(middleware.RequestID, m.Recovery, m.Logging)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, ReasonNotFound, "no route for "+r.URL.Path, "")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ReasonNotFound, "method not allowed", "")
	})

	// Health endpoints (no auth required)
	r.Get("/health/live", h.Live)
	r.Get("/health/ready", h.Ready)

	r.Route("/v1", func(r chi.Router) {
		r.Use(m.Authenticate)

		r.Get("/node/status", h.NodeStatus)
		r.Get("/node/config", h.GetConfig)
		r.With(m.AdminRequired).Put("/node/config", h.UpdateConfig)
		r.Get("/contracts/asyncapi", h.Contract)

		r.Group(func(r chi.Router) {
			r.Use(m.RateLimit)
			r.Post("/jobs/commands/{operation}", h.SubmitCommand)
			r.Post("/jobs/transfers/upload", h.SubmitUpload)
			r.Post("/events/{event}", h.PublishEvent)
		})

		r.Get("/jobs/{job_id}", h.GetJob)
		r.Get("/jobs/{job_id}/result", h.GetJobResult)
		r.Get("/jobs/{job_id}/attempts", h.GetJobAttempts)
		r.Get("/transfers/{transfer_id}", h.GetTransfer)

		r.Get("/cache/events", h.CachedEvents)
		r.Get("/cache/messages", h.CachedMessages)

		r.Get("/logs", h.Logs)
		r.Get("/logs/stream", h.Stream)

		for path, list := range map[string]storepkg.AclList{"allowlist": storepkg.AclAllow, "denylist": storepkg.AclDeny} {
			r.Route("/security/"+path, func(r chi.Router) {
				r.Get("/", h.ListAcl(list))
				r.With(m.AdminRequired).Post("/", h.AddAcl(list))
				r.With(m.AdminRequired).Delete("/{identity_hash}", h.RemoveAcl(list))
			})
		}
	})

	return r
}
