package api

import (
	"context"
	"net/http"
	"reflect"
	"strings"
	"time"

	"activation-service/internal/domain/ports/adapter"
	"activation-service/internal/infra/metrics"
	"activation-service/internal/usecase"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// Pinger reports store reachability for /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	APIKey         string
	AllowedOrigins []string
	RequestTimeout time.Duration
	RatePeriod     time.Duration // advertised in Retry-After
	DefaultLength  int
}

// Server exposes the activation code lifecycle over JSON/HTTP.
type Server struct {
	codes    usecase.ActivationCodeUseCase
	limiter  adapter.RateLimiter
	health   Pinger
	opts     Options
	validate *validator.Validate
	log      *zerolog.Logger
	now      func() time.Time
}

func NewServer(codes usecase.ActivationCodeUseCase, limiter adapter.RateLimiter, health Pinger, opts Options, logger *zerolog.Logger) *Server {
	if opts.DefaultLength <= 0 {
		opts.DefaultLength = 16
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}

	v := validator.New()
	// Use JSON tag names in error messages
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	srvLog := logger.With().Str("component", "http").Logger()
	return &Server{
		codes:    codes,
		limiter:  limiter,
		health:   health,
		opts:     opts,
		validate: v,
		log:      &srvLog,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Router builds the chi route tree. /health and /metrics bypass both the rate
// limiter and the API key.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RealIP,
		TraceID(),
		RequestLog(s.log),
		Recover(s.log),
		Timeout(s.opts.RequestTimeout),
		cors.Handler(cors.Options{
			AllowedOrigins:   s.opts.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			ExposedHeaders:   []string{headerTraceID, headerBatchID, "Retry-After"},
			AllowCredentials: true,
			MaxAge:           300,
		}),
	)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeDetail(w, r, http.StatusNotFound, "Not Found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeDetail(w, r, http.StatusMethodNotAllowed, "Method Not Allowed")
	})

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(RateLimit(s.limiter, s.opts.RatePeriod, s.log))

		r.Post("/bind", s.handleBind)
		r.Post("/validate", s.handleValidate)

		r.Group(func(r chi.Router) {
			r.Use(APIKey(s.opts.APIKey, s.log))

			r.Post("/generate", s.handleGenerate)
			r.Post("/bulk_generate", s.handleBulkGenerate)
			r.Post("/revoke", s.handleRevoke)
			r.Post("/unbind", s.handleUnbind)
			r.Post("/delete", s.handleDelete)
			r.Get("/list_codes", s.handleList)
			r.Get("/codes/{code}", s.handleGet)
		})
	})
	return r
}
