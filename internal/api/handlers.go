// Package api serves the outcome recording HTTP interface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"control-tower/internal/domain"
	"control-tower/internal/observability"
	"control-tower/internal/outcome"
	"control-tower/internal/reporting"
	"control-tower/internal/storage"
	"control-tower/internal/submission"
)

const maxBodyBytes = 1 << 20

// Submitter persists outcomes.
type Submitter interface {
	RecordFinalOutcome(ctx context.Context, in submission.FinalOutcome) (*domain.OutcomeRecord, error)
	ScheduleFollowup(ctx context.Context, in submission.Followup) (*domain.OutcomeRecord, error)
}

// Handler holds the API dependencies. Facts, Feed, Limiter and Status are optional.
type Handler struct {
	Submitter  Submitter
	Store      storage.OutcomeStore
	Facts      storage.OutcomeFactStore
	Classifier outcome.Classifier
	Feed       http.Handler
	Limiter    *rate.Limiter
	Status     func() any
	Logger     zerolog.Logger
	Now        func() time.Time
}

// Routes returns the API mux.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("POST /v1/outcomes", h.limited(h.RecordOutcome))
	mux.Handle("POST /v1/followups", h.limited(h.ScheduleFollowup))
	mux.HandleFunc("POST /v1/outcomes/preview", h.Preview)
	mux.HandleFunc("GET /v1/outcomes/{id}", h.GetOutcome)
	mux.HandleFunc("GET /v1/alerts/{alertID}/outcomes", h.AlertOutcomes)
	mux.HandleFunc("GET /v1/followups/due", h.DueFollowups)
	if h.Facts != nil {
		mux.HandleFunc("GET /v1/analytics/decision-types", h.DecisionTypeAnalytics)
		mux.HandleFunc("GET /v1/analytics/decision-types/{type}", h.DecisionTypeAnalytics)
	}
	if h.Feed != nil {
		mux.Handle("GET /v1/feed", h.Feed)
	}

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", observability.Handler())
	mux.HandleFunc("GET /status", h.handleStatus)

	return mux
}

func (h *Handler) limited(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.Limiter != nil && !h.Limiter.Allow() {
			observability.RecordRejected("rate_limited")
			writeError(w, http.StatusTooManyRequests, "too many submissions, retry shortly")
			return
		}
		next(w, r)
	})
}

// RecordOutcome handles POST /v1/outcomes.
func (h *Handler) RecordOutcome(w http.ResponseWriter, r *http.Request) {
	var req FinalOutcomeRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ActualImpactAmount == nil {
		writeError(w, http.StatusBadRequest, submission.ErrNotMeasurable.Error())
		return
	}

	verdict := req.OutcomeVerdict
	if verdict == "" {
		a, ok := h.Classifier.Assess(req.PredictedImpactAmount, req.ActualImpactAmount)
		if !ok {
			writeError(w, http.StatusBadRequest, submission.ErrNotMeasurable.Error())
			return
		}
		verdict = a.Suggested
	}

	rec, err := h.Submitter.RecordFinalOutcome(r.Context(), submission.FinalOutcome{
		Decision: submission.Decision{
			AlertID:               req.AlertID,
			DecisionTitle:         req.DecisionTitle,
			DecisionType:          req.DecisionType,
			PredictedImpactAmount: req.PredictedImpactAmount,
		},
		ActualImpactAmount: *req.ActualImpactAmount,
		OutcomeVerdict:     verdict,
		OutcomeNotes:       req.OutcomeNotes,
		RecordedBy:         req.RecordedBy,
	})
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, outcome.NewRecordView(rec))
}

// ScheduleFollowup handles POST /v1/followups.
func (h *Handler) ScheduleFollowup(w http.ResponseWriter, r *http.Request) {
	var req FollowupRequest
	if !decode(w, r, &req) {
		return
	}

	rec, err := h.Submitter.ScheduleFollowup(r.Context(), submission.Followup{
		Decision: submission.Decision{
			AlertID:               req.AlertID,
			DecisionTitle:         req.DecisionTitle,
			DecisionType:          req.DecisionType,
			PredictedImpactAmount: req.PredictedImpactAmount,
		},
		FollowupDueDate: req.FollowupDueDate,
		OutcomeNotes:    req.OutcomeNotes,
		RecordedBy:      req.RecordedBy,
	})
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, outcome.NewRecordView(rec))
}

// Preview handles POST /v1/outcomes/preview.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if !decode(w, r, &req) {
		return
	}

	a, ok := h.Classifier.Assess(req.PredictedImpactAmount, req.ActualImpactAmount)
	if !ok {
		writeJSON(w, http.StatusOK, PreviewResponse{Measurable: false})
		return
	}

	variance := a.Variance
	pct := a.VariancePct
	acc := a.Accuracy
	writeJSON(w, http.StatusOK, PreviewResponse{
		Measurable:       true,
		Variance:         &variance,
		VariancePct:      &pct,
		AccuracyPct:      &acc,
		SuggestedVerdict: a.Suggested,
	})
}

// GetOutcome handles GET /v1/outcomes/{id}. The id may be a record id or a
// short reference.
func (h *Handler) GetOutcome(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	rec, err := h.Store.GetByID(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		rec, err = h.Store.GetByShortRef(r.Context(), id)
	}
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome.NewRecordView(rec))
}

// AlertOutcomes handles GET /v1/alerts/{alertID}/outcomes.
func (h *Handler) AlertOutcomes(w http.ResponseWriter, r *http.Request) {
	alertID := r.PathValue("alertID")

	records, err := h.Store.GetByAlertID(r.Context(), alertID)
	if err != nil {
		h.writeErr(w, err)
		return
	}

	resp := AlertOutcomesResponse{
		AlertID: alertID,
		History: outcome.NewRecordViews(records),
	}
	if latest := domain.Latest(records); latest != nil {
		v := outcome.NewRecordView(latest)
		resp.Effective = &v
	}
	writeJSON(w, http.StatusOK, resp)
}

// DueFollowups handles GET /v1/followups/due with an optional as_of (RFC3339).
func (h *Handler) DueFollowups(w http.ResponseWriter, r *http.Request) {
	asOf := h.now()
	if v := r.URL.Query().Get("as_of"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "as_of must be RFC3339")
			return
		}
		asOf = t.UTC()
	}

	records, err := h.Store.GetDueFollowups(r.Context(), asOf)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DueFollowupsResponse{AsOf: asOf, Followups: outcome.NewRecordViews(records)})
}

// DecisionTypeAnalytics handles GET /v1/analytics/decision-types and
// GET /v1/analytics/decision-types/{type} from the analytics fact store.
func (h *Handler) DecisionTypeAnalytics(w http.ResponseWriter, r *http.Request) {
	typ := r.PathValue("type")

	var (
		facts []*domain.OutcomeFact
		err   error
	)
	switch typ {
	case "":
		facts, err = h.Facts.GetAll(r.Context())
	case reporting.UntypedDecision:
		facts, err = h.Facts.GetByDecisionType(r.Context(), "")
	default:
		facts, err = h.Facts.GetByDecisionType(r.Context(), typ)
	}
	if err != nil {
		h.writeErr(w, err)
		return
	}

	summaries := reporting.SummarizeFacts(facts)
	if typ != "" && len(summaries) == 0 {
		writeError(w, http.StatusNotFound, "no outcomes for decision type "+typ)
		return
	}
	writeJSON(w, http.StatusOK, AnalyticsResponse{DecisionTypes: summaries})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if h.Status == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "running"})
		return
	}
	writeJSON(w, http.StatusOK, h.Status())
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now().UTC()
}

// writeErr maps domain errors to status codes.
func (h *Handler) writeErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.Logger.Error().Err(err).Msg("request failed")
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, submission.ErrSubmissionInFlight),
		errors.Is(err, storage.ErrDuplicateKey):
		return http.StatusConflict
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, submission.ErrNotMeasurable),
		errors.Is(err, submission.ErrVerdictNotFinal),
		errors.Is(err, submission.ErrFollowupInPast),
		errors.Is(err, submission.ErrMissingAlert),
		errors.Is(err, storage.ErrInvalidInput),
		errors.Is(err, domain.ErrInvalidRecord):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}
