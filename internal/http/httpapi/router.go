package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"server/internal/http/handlers"
	"server/internal/middleware"
)

// RouterOptions carries the knobs the router needs beyond the handlers.
type RouterOptions struct {
	Logger             zerolog.Logger
	CORSOrigins        []string
	RateLimitPerMinute int
}

// NewRouter wires all routes and middleware.
func NewRouter(app *handlers.App, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
		middleware.CORS(opts.CORSOrigins),
	)
	if opts.RateLimitPerMinute > 0 {
		r.Use(middleware.RateLimit(opts.RateLimitPerMinute, time.Minute))
	}

	r.Get("/healthz", app.Healthz)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/rows/{row_id}", func(r chi.Router) {
			r.Post("/jobs", app.CreateJob)
		})

		r.Post("/dispatch", app.TriggerDispatch)
		r.Post("/cleanup", app.RunCleanup)
		r.Post("/cleanup/reset", app.RunReset)

		r.Route("/prompt-jobs", func(r chi.Router) {
			r.Post("/", app.EnqueuePrompt)
			r.Post("/enhance", app.EnqueuePromptEnhancement)
			r.Get("/stats", app.QueueStats)
			r.Get("/{prompt_job_id}", app.PromptStatus)
			r.Delete("/{prompt_job_id}", app.CancelPrompt)
		})
	})

	return r
}
