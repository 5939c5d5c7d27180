package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wakala/loanengine/internal/ingestion"
	"github.com/wakala/loanengine/internal/logging"
	"github.com/wakala/loanengine/internal/servicing"
)

// NewRouter creates the Chi router with all API routes mounted. limiter may
// be nil to disable rate limiting.
func NewRouter(
	loans *servicing.Service,
	ingestionSvc *ingestion.Service,
	snapshots SnapshotReader,
	limiter *RateLimiter,
	logger *slog.Logger,
) http.Handler {
	log := logging.Component(logger, "api")
	h := &Handlers{
		loans:     loans,
		ingestion: ingestionSvc,
		snapshots: snapshots,
		log:       log,
	}

	r := chi.NewRouter()

	// Middleware.
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if limiter != nil {
			r.Use(limiter.Middleware)
		}

		// Stateless calculators.
		r.Post("/risk/assess", h.AssessRisk)
		r.Post("/terms/quote", h.QuoteTerms)
		r.Post("/terms/schedule", h.BuildSchedule)

		// Loans.
		r.Post("/loans", h.ApplyForLoan)
		r.Get("/loans", h.ListLoans)
		r.Route("/loans/{id}", func(r chi.Router) {
			r.Get("/", h.GetLoan)
			r.Post("/collateral/confirm", h.ConfirmCollateral)
			r.Post("/repayments", h.SubmitRepayment)
			r.Get("/repayments", h.ListRepayments)
			r.Get("/schedule", h.LoanSchedule)
			r.Get("/payoff", h.PayoffQuote)
			r.Get("/delinquency", h.Delinquency)
			r.Get("/intents", h.ListIntents)
		})

		// Collateral oracle.
		r.Post("/collateral/feeds", h.IngestFeed)
		r.Get("/collateral/feeds", h.ListFeeds)
		r.Get("/collateral/{asset}", h.LatestSnapshot)
	})

	return r
}
