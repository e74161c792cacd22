package health

import (
	"context"
	"errors"
	"testing"
)

type mockPinger struct{ err error }

func (m *mockPinger) Ping(_ context.Context) error { return m.err }

func TestCheck_Healthy(t *testing.T) {
	svc := New(&mockPinger{})
	report := svc.Check(context.Background())

	if report.Status != Healthy {
		t.Errorf("expected %q, got %q", Healthy, report.Status)
	}
	if report.Checks["ledger"] != CheckOK {
		t.Errorf("expected ledger ok, got %q", report.Checks["ledger"])
	}
}

func TestCheck_Degraded(t *testing.T) {
	svc := New(&mockPinger{err: errors.New("connection refused")})
	report := svc.Check(context.Background())

	if report.Status != Degraded {
		t.Errorf("expected %q, got %q", Degraded, report.Status)
	}
	if report.Checks["ledger"] != CheckError {
		t.Errorf("expected ledger error, got %q", report.Checks["ledger"])
	}
}
