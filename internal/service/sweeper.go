package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kursadbilgin/grant-engine/internal/clock"
	"github.com/kursadbilgin/grant-engine/internal/domain"
	"github.com/kursadbilgin/grant-engine/internal/observability"
	"github.com/kursadbilgin/grant-engine/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultSweepInterval    = 30 * time.Second
	defaultSweepBatchSize   = 100
	defaultSweepConcurrency = 4
)

// GrantExpirer expires a single overdue grant and runs its fallback.
type GrantExpirer interface {
	Expire(ctx context.Context, grantID string) (ExpireResult, error)
}

type SweepFailure struct {
	GrantID string `json:"grantId"`
	Error   string `json:"error"`
}

// SweepReport summarizes one sweep. Expired counts every grant moved out of
// OFFERED; Reissued and Exhausted break down the fallback that followed.
type SweepReport struct {
	Scanned   int            `json:"scanned"`
	Expired   int            `json:"expired"`
	Reissued  int            `json:"reissued"`
	Exhausted int            `json:"exhausted"`
	Skipped   int            `json:"skipped"`
	Failed    int            `json:"failed"`
	Failures  []SweepFailure `json:"failures,omitempty"`
}

type SweeperConfig struct {
	Interval    time.Duration
	BatchSize   int
	Concurrency int
}

// Sweeper periodically expires OFFERED grants whose deadline has passed.
type Sweeper struct {
	grants  repository.GrantRepository
	expirer GrantExpirer
	clock   clock.Clock
	metrics *observability.Metrics
	logger  *zap.Logger

	interval    time.Duration
	batchSize   int
	concurrency int
}

func NewSweeper(
	grants repository.GrantRepository,
	expirer GrantExpirer,
	c clock.Clock,
	cfg SweeperConfig,
	metrics *observability.Metrics,
	logger *zap.Logger,
) (*Sweeper, error) {
	if grants == nil {
		return nil, fmt.Errorf("grant repository is required")
	}
	if expirer == nil {
		return nil, fmt.Errorf("grant expirer is required")
	}
	if c == nil {
		c = clock.Real()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultSweepInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultSweepBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultSweepConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Sweeper{
		grants:      grants,
		expirer:     expirer,
		clock:       c,
		metrics:     metrics,
		logger:      logger,
		interval:    cfg.Interval,
		batchSize:   cfg.BatchSize,
		concurrency: cfg.Concurrency,
	}, nil
}

// Start sweeps once immediately and then on every interval until ctx is done.
func (s *Sweeper) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.Sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs once and logs the outcome instead of returning it.
func (s *Sweeper) Sweep(ctx context.Context) {
	report, err := s.Run(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("sweep failed", zap.Error(err))
		}
		return
	}
	if report.Scanned > 0 {
		s.logger.Info("sweep completed",
			zap.Int("scanned", report.Scanned),
			zap.Int("expired", report.Expired),
			zap.Int("reissued", report.Reissued),
			zap.Int("exhausted", report.Exhausted),
			zap.Int("skipped", report.Skipped),
			zap.Int("failed", report.Failed),
		)
	}
}

// Run expires every grant that was overdue when the run started, paging
// through them batchSize at a time. A failure on one grant is recorded in the
// report and never stops the others.
func (s *Sweeper) Run(ctx context.Context) (SweepReport, error) {
	started := time.Now()
	before := s.clock.Now()

	var (
		report SweepReport
		cursor *repository.ExpiredCursor
	)
	for {
		page, err := s.grants.ListExpired(ctx, before, cursor, s.batchSize)
		if err != nil {
			s.metrics.ObserveSweep("error", time.Since(started), nil)
			return report, fmt.Errorf("failed to list expired grants: %w", err)
		}

		report.Scanned += len(page)
		s.expirePage(ctx, page, &report)

		if len(page) < s.batchSize {
			break
		}
		if err := ctx.Err(); err != nil {
			s.metrics.ObserveSweep("error", time.Since(started), nil)
			return report, fmt.Errorf("sweep interrupted: %w", err)
		}
		cursor = repository.CursorAfter(page[len(page)-1])
	}

	s.metrics.ObserveSweep("success", time.Since(started), map[string]int{
		string(ExpireExpired):   report.Expired,
		string(ExpireReissued):  report.Reissued,
		string(ExpireExhausted): report.Exhausted,
		string(ExpireSkipped):   report.Skipped,
		"failed":                report.Failed,
	})

	return report, nil
}

func (s *Sweeper) expirePage(ctx context.Context, page []domain.Grant, report *SweepReport) {
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i := range page {
		grantID := page[i].ID
		g.Go(func() error {
			result, err := s.expirer.Expire(gctx, grantID)

			mu.Lock()
			defer mu.Unlock()
			report.record(grantID, result, err)
			if err != nil {
				s.logger.Error("failed to expire grant", zap.String("grantId", grantID), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (r *SweepReport) record(grantID string, result ExpireResult, err error) {
	switch result.Outcome {
	case ExpireExpired:
		r.Expired++
	case ExpireReissued:
		r.Expired++
		r.Reissued++
	case ExpireExhausted:
		r.Expired++
		r.Exhausted++
	case ExpireSkipped:
		if err == nil {
			r.Skipped++
		}
	}

	if err != nil {
		r.Failed++
		r.Failures = append(r.Failures, SweepFailure{GrantID: grantID, Error: err.Error()})
	}
}
