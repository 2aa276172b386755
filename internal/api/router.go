package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/capcall/riskengine/internal/ingestion"
	"github.com/capcall/riskengine/internal/repository"
	"github.com/capcall/riskengine/internal/workflow"
)

// Deps are the services the HTTP layer calls.
type Deps struct {
	Workflow    *workflow.Service
	Ingestion   *ingestion.Service
	Calls       *repository.CapitalCallRepo
	Assessments *repository.AssessmentRepo
	Payments    *repository.PaymentRepo

	// RateLimit is the sustained requests per second across /api/v1.
	// Zero disables limiting.
	RateLimit float64
	RateBurst int
}

// NewRouter creates the Chi router with all API routes mounted.
func NewRouter(d Deps, log zerolog.Logger) http.Handler {
	h := &Handlers{
		workflow:    d.Workflow,
		ingestion:   d.Ingestion,
		calls:       d.Calls,
		assessments: d.Assessments,
		payments:    d.Payments,
	}

	r := chi.NewRouter()

	// Middleware.
	r.Use(middleware.RequestID)
	r.Use(requestLogger(log.With().Str("component", "api").Logger()))
	r.Use(middleware.Recoverer)
	r.Use(middleware.SetHeader("Content-Type", "application/json"))

	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		if d.RateLimit > 0 {
			r.Use(rateLimit(d.RateLimit, d.RateBurst))
		}

		// Capital calls.
		r.Post("/capital-calls", h.CreateCapitalCall)
		r.Get("/capital-calls", h.ListCapitalCalls)
		r.Get("/capital-calls/{id}", h.GetCapitalCall)
		r.Post("/capital-calls/{id}/assess", h.AssessCapitalCall)

		// Assessments.
		r.Get("/assessments", h.ListAssessments)
		r.Get("/assessments/summary", h.GetAssessmentSummary)

		// Payments.
		r.Post("/payments/match", h.MatchPayment)
		r.Post("/payments/rank", h.RankPayment)
		r.Post("/payments/reconcile", h.ReconcilePayments)
		r.Post("/payments/import", h.ImportStatement)
		r.Get("/payments/matches", h.ListMatches)
	})

	return r
}

// requestLogger attaches log to the request context and writes one line per
// request once the handler returns.
func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			reqLog := log.With().Str("request_id", middleware.GetReqID(r.Context())).Logger()
			next.ServeHTTP(ww, r.WithContext(reqLog.WithContext(r.Context())))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			ev := reqLog.Info()
			if status >= http.StatusInternalServerError {
				ev = reqLog.Error()
			}
			ev.Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("Request handled")
		})
	}
}
