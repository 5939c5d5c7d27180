package servicing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wakala/loanengine/internal/domain"
	"github.com/wakala/loanengine/internal/lifecycle"
)

type SweepResult struct {
	Overdue   int `json:"overdue"`
	Defaulted int `json:"defaulted"`
	Skipped   int `json:"skipped"`
}

// SweepDelinquent defaults every active loan whose missed payment is at least
// the configured number of days old. A loan that changed while the sweep was
// running is skipped and picked up again on the next sweep.
func (s *Service) SweepDelinquent(ctx context.Context) (SweepResult, error) {
	var res SweepResult

	now := s.now()
	overdue, err := s.loans.ListOverdue(ctx, now)
	if err != nil {
		return res, fmt.Errorf("list overdue: %w", err)
	}
	res.Overdue = len(overdue)

	for _, candidate := range overdue {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if lifecycle.DaysPastDue(candidate, now) < s.defaultAfterDays {
			continue
		}

		defaulted, err := s.sweepOne(ctx, candidate.ID, now)
		switch {
		case err == nil && defaulted:
			res.Defaulted++
		case err == nil:
			res.Skipped++
		case errors.Is(err, domain.ErrVersionConflict), errors.Is(err, domain.ErrInvalidState):
			res.Skipped++
		default:
			return res, err
		}
	}

	s.metrics.ObserveSweep()
	s.log.Info("delinquency sweep finished",
		slog.Int("overdue", res.Overdue),
		slog.Int("defaulted", res.Defaulted),
		slog.Int("skipped", res.Skipped),
	)
	return res, nil
}

// sweepOne re-reads the loan under its lock, since a payment may have landed
// after the overdue listing.
func (s *Service) sweepOne(ctx context.Context, loanID string, asOf time.Time) (bool, error) {
	unlock := s.locks.lock(loanID)
	defer unlock()

	loan, err := s.loans.Get(ctx, loanID)
	if err != nil {
		return false, err
	}
	if lifecycle.DaysPastDue(loan, asOf) < s.defaultAfterDays {
		return false, nil
	}
	if _, err := s.defaultLocked(ctx, loan); err != nil {
		return false, err
	}
	return true, nil
}

// RunSweeper sweeps once immediately and then every interval until ctx is
// cancelled.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.SweepDelinquent(ctx); err != nil && ctx.Err() == nil {
			s.log.Error("delinquency sweep failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
