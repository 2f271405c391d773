package web

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/patrickspencer/hydranotify/internal/web/api"
)

// Server is the HTTP server for the daemon API.
type Server struct {
	httpServer *http.Server
	logger     *zap.SugaredLogger
}

// NewServer creates a new Server serving a on addr.
func NewServer(addr string, a *api.API, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(a, log),
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: log,
	}
}

// NewRouter builds the chi router with middleware and API routes.
func NewRouter(a *api.API, log *zap.SugaredLogger) chi.Router {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if a.Logger == nil {
		a.Logger = log
	}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	a.RegisterRoutes(r)
	return r
}

// requestLogger logs each request once it completes.
func requestLogger(log *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				fields := []any{
					"request_id", middleware.GetReqID(r.Context()),
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"duration_ms", time.Since(start).Milliseconds(),
				}
				if ww.Status() >= 500 {
					log.Errorw("web: request completed", fields...)
				} else {
					log.Debugw("web: request completed", fields...)
				}
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// Start begins listening and serving HTTP requests.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	s.logger.Infow("web: http server listening", "addr", ln.Addr().String())
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
