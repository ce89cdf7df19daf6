package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"sorastudio/internal/http/handlers"
	"sorastudio/internal/middleware"
)

// Options carries the request-pipeline configuration.
type Options struct {
	Logger         zerolog.Logger
	JWTSecret      string
	AllowedOrigins []string
	RateLimit      int
	RateWindow     time.Duration
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
		middleware.Metrics(),
		middleware.CORS(opts.AllowedOrigins),
		middleware.OptionalAuth(opts.JWTSecret),
	)
	if opts.RateLimit > 0 {
		r.Use(middleware.RateLimit(opts.RateLimit, opts.RateWindow))
	}

	r.Get("/health", app.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/videos", func(r chi.Router) {
			r.Post("/", app.CreateVideo)
			r.Get("/", app.ListVideos)
			r.Get("/stats", app.VideoStats)
			r.Get("/{id}", app.GetVideo)
			r.Delete("/{id}", app.DeleteVideo)
			r.Get("/{id}/download", app.DownloadVideo)
			r.Post("/{id}/remix", app.RemixVideo)
			r.Get("/{id}/events", app.VideoEvents)
		})

		r.Get("/events", app.OwnerEvents)
		r.Get("/quota", app.GetQuota)
		r.Get("/quota/check", app.CheckQuota)
	})

	return r
}
