package admission

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kailas-cloud/promptgate/internal/domain"
	"github.com/kailas-cloud/promptgate/internal/domain/account"
	"github.com/kailas-cloud/promptgate/internal/domain/plan"
)

// --- Mocks ---

type mockLedger struct {
	usage   account.Usage
	readErr error

	created bool
	resets  []string
}

func (m *mockLedger) Read(_ context.Context, _ string) (account.Usage, error) {
	if m.readErr != nil {
		return account.Usage{}, m.readErr
	}
	return m.usage, nil
}

func (m *mockLedger) Create(_ context.Context, _ account.Account, today string) (account.Usage, error) {
	m.created = true
	return account.Usage{Plan: plan.TierFree, TokensUsedToday: 0, ResetDate: today}, nil
}

func (m *mockLedger) Reset(_ context.Context, _ string, today string) error {
	m.resets = append(m.resets, today)
	return nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func newService(ledger Ledger) *Service {
	clock := fixedClock{t: time.Date(2026, 8, 29, 15, 30, 0, 0, time.UTC)}
	return New(ledger, plan.NewCatalog(), clock, time.UTC, "/pricing")
}

var acct = account.Account{ID: "acc1", Email: "a@example.com"}

// --- Tests ---

func TestAdmit_UnderLimit(t *testing.T) {
	ledger := &mockLedger{usage: account.Usage{
		Plan: plan.TierFree, TokensUsedToday: 99_999, ResetDate: "2026-08-29",
	}}

	d, err := newService(ledger).Admit(context.Background(), acct)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Admitted {
		t.Fatal("expected admission below the limit")
	}
	if d.Snapshot.TokensUsedToday != 99_999 {
		t.Errorf("snapshot mismatch: %d", d.Snapshot.TokensUsedToday)
	}
}

func TestAdmit_AtLimit(t *testing.T) {
	ledger := &mockLedger{usage: account.Usage{
		Plan: plan.TierFree, TokensUsedToday: 100_000, ResetDate: "2026-08-29",
	}}

	d, err := newService(ledger).Admit(context.Background(), acct)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Admitted {
		t.Fatal("counter at the limit must be rejected")
	}
	rej := d.Rejection
	if rej == nil {
		t.Fatal("expected rejection payload")
	}
	if rej.TokensLimit != 100_000 || rej.TokensUsedToday != 100_000 {
		t.Errorf("rejection figures mismatch: %+v", rej)
	}
	if rej.UpgradeURL != "/pricing" {
		t.Errorf("expected upgrade URL, got %q", rej.UpgradeURL)
	}
	if !strings.Contains(rej.Message, "Daily limit of 100000 tokens") {
		t.Errorf("unexpected message: %q", rej.Message)
	}
}

func TestAdmit_StaleDateResetsBeforeCheck(t *testing.T) {
	// Yesterday's counter is over the limit; the rollover must happen before
	// the comparison, so the request is admitted.
	ledger := &mockLedger{usage: account.Usage{
		Plan: plan.TierFree, TokensUsedToday: 100_000, ResetDate: "2026-08-28",
	}}

	d, err := newService(ledger).Admit(context.Background(), acct)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Admitted {
		t.Fatal("expected admission after the daily rollover")
	}
	if d.Snapshot.TokensUsedToday != 0 {
		t.Errorf("snapshot must reflect the reset counter, got %d", d.Snapshot.TokensUsedToday)
	}
	if len(ledger.resets) != 1 || ledger.resets[0] != "2026-08-29" {
		t.Errorf("expected one reset to today, got %v", ledger.resets)
	}
}

func TestAdmit_NewAccountCreated(t *testing.T) {
	ledger := &mockLedger{readErr: domain.ErrAccountNotFound}

	d, err := newService(ledger).Admit(context.Background(), acct)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ledger.created {
		t.Fatal("first sight of an account must create its record")
	}
	if !d.Admitted {
		t.Fatal("fresh account must be admitted")
	}
	if d.Plan.Tier != plan.TierFree {
		t.Errorf("fresh account must start on the free tier, got %q", d.Plan.Tier)
	}
}

func TestAdmit_UnknownTierTreatedAsFree(t *testing.T) {
	ledger := &mockLedger{usage: account.Usage{
		Plan: "enterprise_gold", TokensUsedToday: 100_000, ResetDate: "2026-08-29",
	}}

	d, err := newService(ledger).Admit(context.Background(), acct)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Admitted {
		t.Fatal("unknown tier must degrade to the free limit and reject")
	}
	if d.Rejection.TokensLimit != 100_000 {
		t.Errorf("expected the free limit, got %d", d.Rejection.TokensLimit)
	}
}

func TestAdmit_LedgerFailure(t *testing.T) {
	ledger := &mockLedger{readErr: errors.New("store down")}

	if _, err := newService(ledger).Admit(context.Background(), acct); err == nil {
		t.Fatal("ledger failure must surface as an error")
	}
}

func TestToday_UsesRolloverTimezone(t *testing.T) {
	// 23:30 UTC on the 29th is already the 30th in Warsaw.
	warsaw, err := time.LoadLocation("Europe/Warsaw")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	clock := fixedClock{t: time.Date(2026, 8, 29, 23, 30, 0, 0, time.UTC)}
	svc := New(&mockLedger{}, plan.NewCatalog(), clock, warsaw, "/pricing")

	if got := svc.Today(); got != "2026-08-30" {
		t.Errorf("expected 2026-08-30, got %s", got)
	}
}
