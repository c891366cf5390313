// Package followup reminds about deferred outcomes whose follow-up date has passed.
package followup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"control-tower/internal/domain"
	"control-tower/internal/observability"
	"control-tower/internal/storage"
)

// DefaultInterval is the scan period when none is configured.
const DefaultInterval = 15 * time.Minute

// Notifier receives each overdue follow-up once.
type Notifier interface {
	PublishDue(ctx context.Context, r *domain.OutcomeRecord) error
}

// Options configures a Scheduler.
type Options struct {
	Store    storage.OutcomeStore
	Notifier Notifier // optional
	Interval time.Duration
	Logger   zerolog.Logger
	Now      func() time.Time
}

// Status is a snapshot of scheduler activity.
type Status struct {
	Running  bool      `json:"running"`
	LastScan time.Time `json:"last_scan,omitempty"`
	Scans    int       `json:"scans"`
	Reminded int       `json:"reminded"`
	Due      int       `json:"due"`
}

// Scheduler periodically scans for overdue follow-ups.
type Scheduler struct {
	store    storage.OutcomeStore
	notifier Notifier
	interval time.Duration
	logger   zerolog.Logger
	now      func() time.Time

	mu       sync.Mutex
	notified map[string]struct{} // record ids already reminded
	running  bool
	lastScan time.Time
	scans    int
	reminded int
	due      int
}

// New creates a Scheduler.
func New(opts Options) *Scheduler {
	s := &Scheduler{
		store:    opts.Store,
		notifier: opts.Notifier,
		interval: opts.Interval,
		logger:   opts.Logger.With().Str("component", "followup").Logger(),
		now:      opts.Now,
		notified: make(map[string]struct{}),
	}
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// Run scans immediately and then on every tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info().Dur("interval", s.interval).Msg("starting follow-up scheduler")

	s.scanAndLog(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.scanAndLog(ctx)
		}
	}
}

func (s *Scheduler) scanAndLog(ctx context.Context) {
	if _, err := s.Scan(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error().Err(err).Msg("follow-up scan failed")
	}
}

// Scan loads overdue follow-ups and notifies those not yet reminded in this
// process. It returns the records newly reminded.
func (s *Scheduler) Scan(ctx context.Context) ([]*domain.OutcomeRecord, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Debug().Msg("scan already running, skipping")
		return nil, nil
	}
	s.running = true
	s.mu.Unlock()

	asOf := s.now()
	var (
		due      []*domain.OutcomeRecord
		reminded []*domain.OutcomeRecord
		err      error
	)

	defer func() {
		s.mu.Lock()
		s.running = false
		s.lastScan = asOf
		s.scans++
		s.reminded += len(reminded)
		s.due = len(due)
		s.mu.Unlock()
		observability.RecordFollowupScan(len(due), len(reminded), err)
	}()

	due, err = s.store.GetDueFollowups(ctx, asOf)
	if err != nil {
		err = fmt.Errorf("load due follow-ups: %w", err)
		return nil, err
	}

	for _, r := range due {
		s.mu.Lock()
		_, seen := s.notified[r.ID]
		s.mu.Unlock()
		if seen {
			continue
		}

		if s.notifier != nil {
			if nerr := s.notifier.PublishDue(ctx, r); nerr != nil {
				// Retried on the next scan.
				s.logger.Warn().Err(nerr).Str("alert_id", r.AlertID).Msg("follow-up notification failed")
				continue
			}
		}

		s.mu.Lock()
		s.notified[r.ID] = struct{}{}
		s.mu.Unlock()
		reminded = append(reminded, r)

		s.logger.Info().
			Str("alert_id", r.AlertID).
			Str("ref", r.ShortRef).
			Str("decision_type", r.DecisionType).
			Time("due", *r.FollowupDueDate).
			Msg("follow-up due")
	}

	if len(due) > 0 {
		s.logger.Info().Int("due", len(due)).Int("reminded", len(reminded)).Msg("follow-up scan complete")
	}
	return reminded, nil
}

// Status returns a snapshot of scheduler activity.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Running:  s.running,
		LastScan: s.lastScan,
		Scans:    s.scans,
		Reminded: s.reminded,
		Due:      s.due,
	}
}
