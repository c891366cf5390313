package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"control-tower/internal/api"
	"control-tower/internal/domain"
	"control-tower/internal/outcome"
	"control-tower/internal/submission"
)

// apiError is a non-2xx response from the service.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Is maps conflict responses to the in-flight error so callers can match it.
func (e *apiError) Is(target error) bool {
	return target == submission.ErrSubmissionInFlight && e.Status == http.StatusConflict &&
		strings.Contains(e.Message, submission.ErrSubmissionInFlight.Error())
}

// apiClient talks to the outcome HTTP API. It satisfies wizard.Submitter.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(base string, timeout time.Duration) *apiClient {
	return &apiClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

func (c *apiClient) RecordFinalOutcome(ctx context.Context, in submission.FinalOutcome) (*domain.OutcomeRecord, error) {
	actual := in.ActualImpactAmount
	req := api.FinalOutcomeRequest{
		AlertID:               in.AlertID,
		DecisionTitle:         in.DecisionTitle,
		DecisionType:          in.DecisionType,
		PredictedImpactAmount: in.PredictedImpactAmount,
		ActualImpactAmount:    &actual,
		OutcomeVerdict:        in.OutcomeVerdict,
		OutcomeNotes:          in.OutcomeNotes,
		RecordedBy:            in.RecordedBy,
	}
	var view outcome.RecordView
	if err := c.do(ctx, http.MethodPost, "/v1/outcomes", req, &view); err != nil {
		return nil, err
	}
	return viewToRecord(view), nil
}

func (c *apiClient) ScheduleFollowup(ctx context.Context, in submission.Followup) (*domain.OutcomeRecord, error) {
	req := api.FollowupRequest{
		AlertID:               in.AlertID,
		DecisionTitle:         in.DecisionTitle,
		DecisionType:          in.DecisionType,
		PredictedImpactAmount: in.PredictedImpactAmount,
		FollowupDueDate:       in.FollowupDueDate,
		OutcomeNotes:          in.OutcomeNotes,
		RecordedBy:            in.RecordedBy,
	}
	var view outcome.RecordView
	if err := c.do(ctx, http.MethodPost, "/v1/followups", req, &view); err != nil {
		return nil, err
	}
	return viewToRecord(view), nil
}

func (c *apiClient) Get(ctx context.Context, idOrRef string) (outcome.RecordView, error) {
	var view outcome.RecordView
	err := c.do(ctx, http.MethodGet, "/v1/outcomes/"+url.PathEscape(idOrRef), nil, &view)
	return view, err
}

func (c *apiClient) History(ctx context.Context, alertID string) (api.AlertOutcomesResponse, error) {
	var resp api.AlertOutcomesResponse
	err := c.do(ctx, http.MethodGet, "/v1/alerts/"+url.PathEscape(alertID)+"/outcomes", nil, &resp)
	return resp, err
}

func (c *apiClient) DueFollowups(ctx context.Context, asOf *time.Time) (api.DueFollowupsResponse, error) {
	path := "/v1/followups/due"
	if asOf != nil {
		path += "?as_of=" + url.QueryEscape(asOf.UTC().Format(time.RFC3339))
	}
	var resp api.DueFollowupsResponse
	err := c.do(ctx, http.MethodGet, path, nil, &resp)
	return resp, err
}

// Analytics returns fact summaries for one decision type, or all when empty.
func (c *apiClient) Analytics(ctx context.Context, decisionType string) (api.AnalyticsResponse, error) {
	path := "/v1/analytics/decision-types"
	if decisionType != "" {
		path += "/" + url.PathEscape(decisionType)
	}
	var resp api.AnalyticsResponse
	err := c.do(ctx, http.MethodGet, path, nil, &resp)
	return resp, err
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode >= 300 {
		var e api.ErrorResponse
		if json.Unmarshal(data, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(data))
		}
		return &apiError{Status: resp.StatusCode, Message: e.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parsing JSON: %w", err)
	}
	return nil
}

func viewToRecord(v outcome.RecordView) *domain.OutcomeRecord {
	return &domain.OutcomeRecord{
		ID:                    v.ID,
		ShortRef:              v.ShortRef,
		AlertID:               v.AlertID,
		DecisionTitle:         v.DecisionTitle,
		DecisionType:          v.DecisionType,
		PredictedImpactAmount: v.PredictedImpactAmount,
		ActualImpactAmount:    v.ActualImpactAmount,
		OutcomeVerdict:        v.OutcomeVerdict,
		OutcomeNotes:          v.OutcomeNotes,
		FollowupDueDate:       v.FollowupDueDate,
		RecordedAt:            v.RecordedAt,
		RecordedBy:            v.RecordedBy,
	}
}

// isNotFound reports a 404 from the service.
func isNotFound(err error) bool {
	var e *apiError
	return errors.As(err, &e) && e.Status == http.StatusNotFound
}
