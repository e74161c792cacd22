// Package admission decides whether a request may consume quota.
package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kailas-cloud/promptgate/internal/domain"
	"github.com/kailas-cloud/promptgate/internal/domain/account"
	"github.com/kailas-cloud/promptgate/internal/domain/plan"
)

const dateLayout = "2006-01-02"

// Rejection is the structured limit-exceeded outcome. The caller UI renders
// it, so it carries the full plan and usage figures rather than a bare error.
type Rejection struct {
	Message         string
	Plan            plan.Tier
	PlanLabel       string
	TokensUsedToday int64
	TokensLimit     int64
	UpgradeURL      string
}

// Decision is the admission outcome: either admitted with a usage snapshot
// or rejected with the structured rejection payload.
type Decision struct {
	Admitted  bool
	Snapshot  account.Usage
	Plan      plan.Plan
	Rejection *Rejection
}

// Service is the admission gate.
type Service struct {
	ledger     Ledger
	catalog    plan.Catalog
	clock      domain.Clock
	loc        *time.Location
	upgradeURL string
}

// New creates an admission service. loc decides where midnight falls for the
// daily rollover.
func New(ledger Ledger, catalog plan.Catalog, clock domain.Clock, loc *time.Location, upgradeURL string) *Service {
	return &Service{
		ledger:     ledger,
		catalog:    catalog,
		clock:      clock,
		loc:        loc,
		upgradeURL: upgradeURL,
	}
}

// Today returns the current calendar date in the rollover timezone.
func (s *Service) Today() string {
	return s.clock.Now().In(s.loc).Format(dateLayout)
}

// Snapshot reads the account's usage record, creating it for new accounts and
// repairing a stale reset date before anything evaluates the counter.
func (s *Service) Snapshot(ctx context.Context, acct account.Account) (account.Usage, error) {
	today := s.Today()

	usage, err := s.ledger.Read(ctx, acct.ID)
	if errors.Is(err, domain.ErrAccountNotFound) {
		return s.ledger.Create(ctx, acct, today)
	}
	if err != nil {
		return account.Usage{}, fmt.Errorf("read usage: %w", err)
	}

	if usage.ResetDate != today {
		if err := s.ledger.Reset(ctx, acct.ID, today); err != nil {
			return account.Usage{}, fmt.Errorf("reset usage: %w", err)
		}
		usage.TokensUsedToday = 0
		usage.ResetDate = today
	}

	return usage, nil
}

// Admit evaluates the daily quota for the account. The check and the eventual
// commit are separate reads; concurrent requests admitted together may jointly
// exceed the budget by a bounded amount (soft limit).
func (s *Service) Admit(ctx context.Context, acct account.Account) (Decision, error) {
	usage, err := s.Snapshot(ctx, acct)
	if err != nil {
		return Decision{}, err
	}

	p := s.catalog.Get(usage.Plan)

	if usage.TokensUsedToday >= p.TokensPerDay {
		return Decision{
			Snapshot: usage,
			Plan:     p,
			Rejection: &Rejection{
				Message: fmt.Sprintf(
					"Daily limit of %d tokens for the %s plan exceeded. The limit resets at midnight.",
					p.TokensPerDay, p.Label,
				),
				Plan:            usage.Plan,
				PlanLabel:       p.Label,
				TokensUsedToday: usage.TokensUsedToday,
				TokensLimit:     p.TokensPerDay,
				UpgradeURL:      s.upgradeURL,
			},
		}, nil
	}

	return Decision{Admitted: true, Snapshot: usage, Plan: p}, nil
}
