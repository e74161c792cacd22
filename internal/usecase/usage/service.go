// Package usage builds the account usage report for the user endpoint.
package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/kailas-cloud/promptgate/internal/domain"
	"github.com/kailas-cloud/promptgate/internal/domain/account"
	"github.com/kailas-cloud/promptgate/internal/domain/plan"
)

// PlanInfo describes one catalog entry in the report.
type PlanInfo struct {
	ID           plan.Tier `json:"id"`
	Label        string    `json:"label"`
	Price        string    `json:"price"`
	TokensPerDay int64     `json:"tokensPerDay"`
	Color        string    `json:"color"`
	Badge        string    `json:"badge"`
	IsCurrent    bool      `json:"isCurrent"`
}

// Report is the account usage snapshot returned by the user endpoint.
type Report struct {
	Email           string     `json:"email"`
	Plan            plan.Tier  `json:"plan"`
	PlanLabel       string     `json:"planLabel"`
	PlanPrice       string     `json:"planPrice"`
	PlanColor       string     `json:"planColor"`
	PlanBadge       string     `json:"planBadge"`
	TokensUsedToday int64      `json:"tokensUsedToday"`
	TokensLimit     int64      `json:"tokensLimit"`
	TokensLeft      int64      `json:"tokensLeft"`
	UsagePercent    int        `json:"usagePercent"`
	ResetsIn        string     `json:"resetsIn"`
	AllPlans        []PlanInfo `json:"allPlans"`
}

// Service assembles usage reports.
type Service struct {
	snapshots Snapshotter
	catalog   plan.Catalog
	clock     domain.Clock
	loc       *time.Location
}

// New creates a usage report service.
func New(snapshots Snapshotter, catalog plan.Catalog, clock domain.Clock, loc *time.Location) *Service {
	return &Service{snapshots: snapshots, catalog: catalog, clock: clock, loc: loc}
}

// GetReport reads (and repairs, if stale) the account's usage record and
// returns the rendered report.
func (s *Service) GetReport(ctx context.Context, acct account.Account) (Report, error) {
	usage, err := s.snapshots.Snapshot(ctx, acct)
	if err != nil {
		return Report{}, fmt.Errorf("usage snapshot: %w", err)
	}

	p := s.catalog.Get(usage.Plan)

	percent := 0
	if p.TokensPerDay > 0 {
		percent = int(usage.TokensUsedToday * 100 / p.TokensPerDay)
		if percent > 100 {
			percent = 100
		}
	}

	all := s.catalog.All()
	plans := make([]PlanInfo, len(all))
	for i, pl := range all {
		plans[i] = PlanInfo{
			ID:           pl.Tier,
			Label:        pl.Label,
			Price:        pl.Price,
			TokensPerDay: pl.TokensPerDay,
			Color:        pl.Color,
			Badge:        pl.Badge,
			IsCurrent:    pl.Tier == usage.Plan,
		}
	}

	return Report{
		Email:           acct.Email,
		Plan:            usage.Plan,
		PlanLabel:       p.Label,
		PlanPrice:       p.Price,
		PlanColor:       p.Color,
		PlanBadge:       p.Badge,
		TokensUsedToday: usage.TokensUsedToday,
		TokensLimit:     p.TokensPerDay,
		TokensLeft:      usage.Remaining(p),
		UsagePercent:    percent,
		ResetsIn:        s.resetsIn(),
		AllPlans:        plans,
	}, nil
}

// resetsIn renders the time until the next midnight rollover as "{h}h {m}min".
func (s *Service) resetsIn() string {
	now := s.clock.Now().In(s.loc)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc).AddDate(0, 0, 1)
	left := midnight.Sub(now)
	hours := int(left.Hours())
	minutes := int(left.Minutes()) % 60
	return fmt.Sprintf("%dh %dmin", hours, minutes)
}
