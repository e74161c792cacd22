package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/promptgate/internal/domain/account"
	"github.com/kailas-cloud/promptgate/internal/domain/plan"
)

// --- Mocks ---

type mockLedger struct {
	increments []int64
	err        error
}

func (m *mockLedger) Increment(_ context.Context, _ string, tokens int64) error {
	m.increments = append(m.increments, tokens)
	return m.err
}

// collectSink records every line and can start failing after a given count.
type collectSink struct {
	lines     [][]byte
	failAfter int // 0 means never fail
}

func (c *collectSink) WriteLine(line []byte) error {
	if c.failAfter > 0 && len(c.lines) >= c.failAfter {
		return errors.New("broken pipe")
	}
	c.lines = append(c.lines, append([]byte(nil), line...))
	return nil
}

// chunkReader yields its chunks one Read at a time, then fails with err
// (io.EOF when unset).
type chunkReader struct {
	chunks [][]byte
	err    error
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(c.chunks) == 0 {
		if c.err != nil {
			return 0, c.err
		}
		return 0, io.EOF
	}
	n := copy(p, c.chunks[0])
	if n < len(c.chunks[0]) {
		c.chunks[0] = c.chunks[0][n:]
	} else {
		c.chunks = c.chunks[1:]
	}
	return n, nil
}

func newService(ledger Ledger) *Service {
	return New(ledger, time.Second, zap.NewNop())
}

var testPlan = plan.Plan{Tier: plan.TierFree, TokensPerDay: 1_000_000, Label: "Free"}

func testSnapshot(used int64) account.Usage {
	return account.Usage{Plan: plan.TierFree, TokensUsedToday: used, ResetDate: "2026-08-29"}
}

// --- Tests ---

func TestRelay_ForwardsLinesInOrder(t *testing.T) {
	upstream := strings.NewReader("data: {\"choices\":[{\"delta\":{\"content\":\"ab\"}}]}\n" +
		"event: ping\n" +
		"data: [DONE]\n")
	sink := &collectSink{}
	ledger := &mockLedger{}

	sum, status := newService(ledger).Relay(context.Background(), "openai", upstream, sink,
		account.Account{ID: "acc1"}, testSnapshot(0), testPlan)

	if status != StatusOK {
		t.Errorf("clean EOF must report %q, got %q", StatusOK, status)
	}
	// 3 forwarded lines + summary data line + blank terminator
	if len(sink.lines) != 5 {
		t.Fatalf("expected 5 written lines, got %d: %q", len(sink.lines), sink.lines)
	}
	if !strings.HasPrefix(string(sink.lines[0]), "data: {\"choices\"") {
		t.Errorf("line 0 not forwarded verbatim: %q", sink.lines[0])
	}
	if string(sink.lines[1]) != "event: ping" {
		t.Errorf("non-data line must be forwarded: %q", sink.lines[1])
	}
	if string(sink.lines[2]) != "data: [DONE]" {
		t.Errorf("done sentinel must be forwarded: %q", sink.lines[2])
	}
	if len(sink.lines[4]) != 0 {
		t.Errorf("final line must be the blank event terminator, got %q", sink.lines[4])
	}
	if sum.TokensUsed != 1 {
		t.Errorf("expected 1 estimated token, got %d", sum.TokensUsed)
	}
}

func TestRelay_SummaryEvent(t *testing.T) {
	upstream := strings.NewReader(
		"data: {\"usage\":{\"input_tokens\":100,\"output_tokens\":50}}\n")
	sink := &collectSink{}
	ledger := &mockLedger{}

	newService(ledger).Relay(context.Background(), "anthropic", upstream, sink,
		account.Account{ID: "acc1"}, testSnapshot(900), testPlan)

	last := sink.lines[len(sink.lines)-2] // summary precedes the blank line
	payload, ok := strings.CutPrefix(string(last), "data: ")
	if !ok {
		t.Fatalf("summary must be a data line, got %q", last)
	}

	var sum Summary
	if err := json.Unmarshal([]byte(payload), &sum); err != nil {
		t.Fatalf("summary is not valid JSON: %v", err)
	}
	if sum.Type != "usage_update" {
		t.Errorf("expected type usage_update, got %q", sum.Type)
	}
	if sum.TokensUsed != 150 {
		t.Errorf("expected tokensUsed 150, got %d", sum.TokensUsed)
	}
	if sum.TokensUsedToday != 1050 {
		t.Errorf("expected tokensUsedToday 1050, got %d", sum.TokensUsedToday)
	}
	if sum.TokensLeft != 998950 {
		t.Errorf("expected tokensLeft 998950, got %d", sum.TokensLeft)
	}
}

func TestRelay_ExactFigureReplacesEstimate(t *testing.T) {
	upstream := strings.NewReader(
		"data: {\"delta\":{\"text\":\"some accumulated text here\"}}\n" +
			"data: {\"usage\":{\"input_tokens\":10,\"output_tokens\":20}}\n" +
			"data: {\"delta\":{\"text\":\"text after the exact figure\"}}\n")
	sink := &collectSink{}
	ledger := &mockLedger{}

	sum, _ := newService(ledger).Relay(context.Background(), "anthropic", upstream, sink,
		account.Account{ID: "acc1"}, testSnapshot(0), testPlan)

	if sum.TokensUsed != 30 {
		t.Errorf("exact figure must replace the estimate and suppress later deltas, got %d", sum.TokensUsed)
	}
	if len(ledger.increments) != 1 || ledger.increments[0] != 30 {
		t.Errorf("expected single commit of 30, got %v", ledger.increments)
	}
}

func TestRelay_CommitsOnClientDisconnect(t *testing.T) {
	upstream := strings.NewReader(
		"data: {\"choices\":[{\"delta\":{\"content\":\"abcd\"}}]}\n" +
			"data: {\"choices\":[{\"delta\":{\"content\":\"efgh\"}}]}\n" +
			"data: {\"choices\":[{\"delta\":{\"content\":\"never delivered\"}}]}\n")
	sink := &collectSink{failAfter: 2}
	ledger := &mockLedger{}

	sum, status := newService(ledger).Relay(context.Background(), "openai", upstream, sink,
		account.Account{ID: "acc1"}, testSnapshot(0), testPlan)

	if status != StatusClientGone {
		t.Errorf("write failure must report %q, got %q", StatusClientGone, status)
	}
	// Two delivered lines, one token each; the third was never written and
	// must not be charged.
	if sum.TokensUsed != 2 {
		t.Errorf("expected 2 tokens for 2 delivered lines, got %d", sum.TokensUsed)
	}
	if len(ledger.increments) != 1 || ledger.increments[0] != 2 {
		t.Errorf("disconnect must still commit delivered tokens, got %v", ledger.increments)
	}
}

func TestRelay_CommitsOnUpstreamError(t *testing.T) {
	upstream := &chunkReader{
		chunks: [][]byte{[]byte("data: {\"delta\":{\"text\":\"abcd\"}}\n")},
		err:    errors.New("connection reset"),
	}
	sink := &collectSink{}
	ledger := &mockLedger{}

	sum, status := newService(ledger).Relay(context.Background(), "anthropic", upstream, sink,
		account.Account{ID: "acc1"}, testSnapshot(0), testPlan)

	if status != StatusUpstreamError {
		t.Errorf("mid-stream read failure must report %q, got %q", StatusUpstreamError, status)
	}
	if sum.TokensUsed != 1 {
		t.Errorf("expected 1 token, got %d", sum.TokensUsed)
	}
	if len(ledger.increments) != 1 {
		t.Errorf("upstream failure must still commit, got %v", ledger.increments)
	}
}

func TestRelay_NoCommitWhenNothingCounted(t *testing.T) {
	upstream := strings.NewReader("event: ping\ndata: [DONE]\n")
	sink := &collectSink{}
	ledger := &mockLedger{}

	sum, _ := newService(ledger).Relay(context.Background(), "openai", upstream, sink,
		account.Account{ID: "acc1"}, testSnapshot(500), testPlan)

	if sum.TokensUsed != 0 {
		t.Errorf("expected 0 tokens, got %d", sum.TokensUsed)
	}
	if len(ledger.increments) != 0 {
		t.Errorf("zero usage must not touch the ledger, got %v", ledger.increments)
	}
}

func TestRelay_MalformedLineForwarded(t *testing.T) {
	upstream := strings.NewReader("data: {not json at all\n")
	sink := &collectSink{}
	ledger := &mockLedger{}

	sum, _ := newService(ledger).Relay(context.Background(), "openai", upstream, sink,
		account.Account{ID: "acc1"}, testSnapshot(0), testPlan)

	if string(sink.lines[0]) != "data: {not json at all" {
		t.Errorf("malformed line must still be forwarded verbatim: %q", sink.lines[0])
	}
	if sum.TokensUsed != 0 {
		t.Errorf("malformed line must not be charged, got %d", sum.TokensUsed)
	}
}

func TestRelay_LedgerFailureDoesNotSurface(t *testing.T) {
	upstream := strings.NewReader("data: {\"delta\":{\"text\":\"abcd\"}}\n")
	sink := &collectSink{}
	ledger := &mockLedger{err: errors.New("store down")}

	sum, _ := newService(ledger).Relay(context.Background(), "anthropic", upstream, sink,
		account.Account{ID: "acc1"}, testSnapshot(0), testPlan)

	if sum.TokensUsed != 1 {
		t.Errorf("ledger failure must not alter the reported usage, got %d", sum.TokensUsed)
	}
	// Summary still goes out.
	last := sink.lines[len(sink.lines)-2]
	if !strings.Contains(string(last), "usage_update") {
		t.Errorf("summary must still be sent when the commit fails: %q", last)
	}
}

// --- lineReader tests ---

func TestLineReader_SplitAcrossReads(t *testing.T) {
	r := newLineReader(&chunkReader{chunks: [][]byte{
		[]byte("data: {\"del"),
		[]byte("ta\":{\"text\":\"hi\"}}\nevent: pi"),
		[]byte("ng\n"),
	}})

	line, err := r.next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(line) != "data: {\"delta\":{\"text\":\"hi\"}}" {
		t.Errorf("reassembled line mismatch: %q", line)
	}

	line, err = r.next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(line) != "event: ping" {
		t.Errorf("second line mismatch: %q", line)
	}

	if _, err = r.next(); err != io.EOF {
		t.Errorf("expected EOF, got %v", err)
	}
}

func TestLineReader_TrailingFragmentDropped(t *testing.T) {
	r := newLineReader(strings.NewReader("complete line\npartial without newline"))

	line, err := r.next()
	if err != nil || string(line) != "complete line" {
		t.Fatalf("expected complete line, got %q err %v", line, err)
	}
	if line, err = r.next(); err != io.EOF {
		t.Errorf("trailing fragment must not be yielded, got %q err %v", line, err)
	}
}

func TestLineReader_MultipleLinesOneRead(t *testing.T) {
	r := newLineReader(strings.NewReader("a\nb\nc\n"))
	for _, want := range []string{"a", "b", "c"} {
		line, err := r.next()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(line) != want {
			t.Errorf("expected %q, got %q", want, line)
		}
	}
	if _, err := r.next(); err != io.EOF {
		t.Errorf("expected EOF, got %v", err)
	}
}

func TestLineReader_EmptyLines(t *testing.T) {
	r := newLineReader(strings.NewReader("data: x\n\ndata: y\n"))
	want := []string{"data: x", "", "data: y"}
	for _, w := range want {
		line, err := r.next()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(line) != w {
			t.Errorf("expected %q, got %q", w, line)
		}
	}
}
