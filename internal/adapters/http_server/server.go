package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

type Server struct{ mux *chi.Mux }

type options struct{ trustProxy bool }

type Option func(*options)

// TrustProxyHeaders rewrites RemoteAddr from X-Forwarded-For / X-Real-IP.
// Only set it when every request arrives through a proxy that overwrites
// those headers; otherwise clients choose their own address.
func TrustProxyHeaders(trust bool) Option {
	return func(o *options) { o.trustProxy = trust }
}

func New(opts ...Option) *Server {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	m := chi.NewRouter()

	// Middlewares must be registered before any route.
	if o.trustProxy {
		m.Use(chimw.RealIP)
	}
	m.Use(chimw.RequestID)
	m.Use(chimw.Recoverer)
	m.Use(Timeout(15 * time.Second))
	m.Use(Metrics)
	m.Use(Tracing)
	m.Use(Logger(log.Logger))

	return &Server{mux: m}
}

func (s *Server) Mux() http.Handler { return s.mux }

// Mount attaches any extra handler (e.g., /metrics) to the router.
func (s *Server) Mount(path string, h http.Handler) {
	s.mux.Handle(path, h)
}
