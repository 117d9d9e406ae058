package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"atelier/internal/http/handlers"
	"atelier/internal/middleware"
)

// Options carries everything the router wires around the handlers.
type Options struct {
	App            *handlers.App
	Logger         zerolog.Logger
	JWTSecret      string
	AllowedOrigins []string
	RateLimiter    *middleware.RateLimiter

	// StaticDir, when set, is served under /static so file-store URLs
	// resolve without a separate file server.
	StaticDir string
}

func NewRouter(opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimiddleware.RealIP,
		chimiddleware.Recoverer,
		middleware.Logger(opts.Logger),
		middleware.CORS(opts.AllowedOrigins),
	)

	r.Get("/v1/healthz", opts.App.Health)

	if opts.StaticDir != "" {
		fs := http.StripPrefix("/static/", http.FileServer(http.Dir(opts.StaticDir)))
		r.Get("/static/*", fs.ServeHTTP)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.AuthJWT(opts.JWTSecret))
		if opts.RateLimiter != nil {
			r.Use(opts.RateLimiter.Handler)
		}

		r.Route("/customizations", func(r chi.Router) {
			r.Post("/design", opts.App.DesignGenerate)
			r.Post("/garment", opts.App.GarmentGenerate)
			r.Get("/{job_id}", opts.App.JobStatus)
			r.Post("/{job_id}/apply", opts.App.DesignApply)
			r.Post("/{job_id}/tryon", opts.App.TryOnStart)
		})
		r.Get("/tryon/status/{tryon_job_id}", opts.App.TryOnStatus)
	})

	return r
}
