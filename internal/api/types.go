package api

import (
	"time"

	"github.com/shopspring/decimal"

	"control-tower/internal/domain"
	"control-tower/internal/outcome"
	"control-tower/internal/reporting"
)

// FinalOutcomeRequest records a measured outcome. An empty OutcomeVerdict
// takes the suggested verdict for the variance.
type FinalOutcomeRequest struct {
	AlertID               string           `json:"alert_id"`
	DecisionTitle         string           `json:"decision_title"`
	DecisionType          string           `json:"decision_type"`
	PredictedImpactAmount decimal.Decimal  `json:"predicted_impact_amount"`
	ActualImpactAmount    *decimal.Decimal `json:"actual_impact_amount"`
	OutcomeVerdict        domain.Verdict   `json:"outcome_verdict,omitempty"`
	OutcomeNotes          string           `json:"outcome_notes,omitempty"`
	RecordedBy            string           `json:"recorded_by,omitempty"`
}

// FollowupRequest defers measurement. A nil FollowupDueDate uses the default window.
type FollowupRequest struct {
	AlertID               string          `json:"alert_id"`
	DecisionTitle         string          `json:"decision_title"`
	DecisionType          string          `json:"decision_type"`
	PredictedImpactAmount decimal.Decimal `json:"predicted_impact_amount"`
	FollowupDueDate       *time.Time      `json:"followup_due_date,omitempty"`
	OutcomeNotes          string          `json:"outcome_notes,omitempty"`
	RecordedBy            string          `json:"recorded_by,omitempty"`
}

// PreviewRequest asks for the variance badge of a candidate actual value.
type PreviewRequest struct {
	PredictedImpactAmount decimal.Decimal  `json:"predicted_impact_amount"`
	ActualImpactAmount    *decimal.Decimal `json:"actual_impact_amount"`
}

// PreviewResponse is the variance badge. Only Measurable is set when the
// actual value is missing or not positive.
type PreviewResponse struct {
	Measurable       bool             `json:"measurable"`
	Variance         *decimal.Decimal `json:"variance,omitempty"`
	VariancePct      *float64         `json:"variance_pct,omitempty"`
	AccuracyPct      *float64         `json:"accuracy_pct,omitempty"`
	SuggestedVerdict domain.Verdict   `json:"suggested_verdict,omitempty"`
}

// AlertOutcomesResponse is the outcome history of one alert.
type AlertOutcomesResponse struct {
	AlertID   string               `json:"alert_id"`
	Effective *outcome.RecordView  `json:"effective"`
	History   []outcome.RecordView `json:"history"`
}

// DueFollowupsResponse lists overdue follow-ups.
type DueFollowupsResponse struct {
	AsOf      time.Time            `json:"as_of"`
	Followups []outcome.RecordView `json:"followups"`
}

// AnalyticsResponse is the per decision type view of the analytics facts.
type AnalyticsResponse struct {
	DecisionTypes []reporting.FactSummary `json:"decision_types"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}
