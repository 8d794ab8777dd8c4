package httpapi

import (
	stdhttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"mediagen/internal/http/handlers"
	"mediagen/internal/infra"
	"mediagen/internal/middleware"
)

// RouterOptions tunes the middleware stack.
type RouterOptions struct {
	Logger *infra.Logger
	// RateLimitPerMin caps requests per caller; zero disables the limiter.
	RateLimitPerMin int
}

func NewRouter(app *handlers.App, opts RouterOptions) stdhttp.Handler {
	logger := infra.LoggerOrNop(opts.Logger)
	r := chi.NewRouter()
	r.Use(middleware.Correlate(*logger), chimw.RealIP, chimw.Recoverer, middleware.Logger(*logger))

	r.Get("/healthz", app.Health)
	r.Get("/status/{job_id}", app.Status)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Identity)
		if opts.RateLimitPerMin > 0 {
			r.Use(middleware.RateLimit(opts.RateLimitPerMin, time.Minute))
		}
		r.Post("/generate/{kind}", app.Generate)
		r.Post("/cancel/{job_id}", app.Cancel)
		r.Get("/history", app.History)
	})

	return r
}
