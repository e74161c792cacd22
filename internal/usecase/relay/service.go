// Package relay forwards an upstream event stream to the caller while
// reconstructing token consumption for quota accounting.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/promptgate/internal/domain/account"
	"github.com/kailas-cloud/promptgate/internal/domain/plan"
	"github.com/kailas-cloud/promptgate/internal/domain/stream"
	"github.com/kailas-cloud/promptgate/internal/metrics"
)

// dataPrefix marks lines that carry event payloads; everything else is
// forwarded but ignored for accounting.
var dataPrefix = []byte("data: ")

// doneSentinel is the literal end-of-stream marker. Forwarded, never parsed.
var doneSentinel = []byte("[DONE]")

// Status labels the relay's exit cause.
type Status string

// Relay exit causes.
const (
	// StatusOK means the upstream stream completed cleanly.
	StatusOK Status = "ok"
	// StatusUpstreamError means the upstream read failed mid-stream.
	StatusUpstreamError Status = "upstream_error"
	// StatusClientGone means the caller disconnected before the stream ended.
	StatusClientGone Status = "client_gone"
)

// Summary is the terminal usage event appended to every relayed stream.
type Summary struct {
	Type            string `json:"type"`
	TokensUsed      int64  `json:"tokensUsed"`
	TokensUsedToday int64  `json:"tokensUsedToday"`
	TokensLimit     int64  `json:"tokensLimit"`
	TokensLeft      int64  `json:"tokensLeft"`
}

// Service is the relay loop orchestrator.
type Service struct {
	ledger        Ledger
	commitTimeout time.Duration
	logger        *zap.Logger
}

// New creates a relay service. The ledger commit runs on a detached context
// bounded by commitTimeout so a slow store never holds the stream open.
func New(ledger Ledger, commitTimeout time.Duration, logger *zap.Logger) *Service {
	if commitTimeout <= 0 {
		commitTimeout = 2 * time.Second
	}
	return &Service{ledger: ledger, commitTimeout: commitTimeout, logger: logger}
}

// Relay consumes the upstream stream, forwarding each complete line to sink
// verbatim and in order while deriving a running token total. On every exit
// path it commits the total to the ledger exactly once and appends the
// terminal usage summary, best-effort. The returned Summary reflects what was
// sent (or attempted) to the caller; the Status reports the exit cause.
func (s *Service) Relay(
	ctx context.Context,
	provider string,
	upstream io.Reader,
	sink LineSink,
	acct account.Account,
	snapshot account.Usage,
	p plan.Plan,
) (Summary, Status) {
	var (
		total     int64
		exactSeen bool
	)

	defer s.finalize(provider, sink, acct, snapshot, p, &total, &exactSeen)

	r := newLineReader(upstream)
	for {
		line, err := r.next()
		if err != nil {
			if err == io.EOF {
				return s.summary(snapshot, p, total), StatusOK
			}
			if ctx.Err() != nil {
				return s.summary(snapshot, p, total), StatusClientGone
			}
			s.logger.Warn("upstream read failed mid-stream",
				zap.String("provider", provider),
				zap.String("account_id", acct.ID),
				zap.Error(err))
			return s.summary(snapshot, p, total), StatusUpstreamError
		}
		// Blank lines are event separators and are forwarded like any other.
		if werr := sink.WriteLine(line); werr != nil {
			// Caller is gone. Abandon the upstream read promptly; the
			// tokens counted so far are still committed in finalize.
			s.logger.Debug("caller disconnected mid-stream",
				zap.String("account_id", acct.ID), zap.Error(werr))
			return s.summary(snapshot, p, total), StatusClientGone
		}
		s.account(line, &total, &exactSeen)
	}
}

// account feeds one forwarded line to the usage extractor.
func (s *Service) account(line []byte, total *int64, exactSeen *bool) {
	if !bytes.HasPrefix(line, dataPrefix) {
		return
	}
	payload := line[len(dataPrefix):]
	if bytes.Equal(bytes.TrimSpace(payload), doneSentinel) {
		return
	}

	switch out := stream.Extract(payload, *exactSeen); out.Kind {
	case stream.ExactTotal:
		// Authoritative figure replaces any accumulated estimate.
		*total = out.Tokens
		*exactSeen = true
	case stream.Accumulate:
		*total += out.Tokens
	case stream.NoChange:
	}
}

// finalize runs once per relay: commit the total, then append the summary.
// The ledger write and the outbound write are independent; failure of either
// never surfaces to the caller.
func (s *Service) finalize(
	provider string,
	sink LineSink,
	acct account.Account,
	snapshot account.Usage,
	p plan.Plan,
	total *int64,
	exactSeen *bool,
) {
	used := *total
	if used > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), s.commitTimeout)
		defer cancel()

		if err := s.ledger.Increment(ctx, acct.ID, used); err != nil {
			s.logger.Error("failed to commit usage to ledger",
				zap.String("account_id", acct.ID),
				zap.Int64("tokens", used),
				zap.Error(err))
		}

		source := "estimated"
		if *exactSeen {
			source = "exact"
		}
		metrics.RelayTokensTotal.WithLabelValues(provider, source).Add(float64(used))
	}

	summary := s.summary(snapshot, p, used)
	data, err := json.Marshal(summary)
	if err != nil {
		s.logger.Error("failed to marshal usage summary", zap.Error(err))
		return
	}
	// Best-effort: the caller may already be gone. The trailing blank line
	// terminates the event per the SSE framing.
	if err := sink.WriteLine(append([]byte("data: "), data...)); err == nil {
		_ = sink.WriteLine(nil)
	}
}

func (s *Service) summary(snapshot account.Usage, p plan.Plan, used int64) Summary {
	left := p.TokensPerDay - snapshot.TokensUsedToday - used
	if left < 0 {
		left = 0
	}
	return Summary{
		Type:            "usage_update",
		TokensUsed:      used,
		TokensUsedToday: snapshot.TokensUsedToday + used,
		TokensLimit:     p.TokensPerDay,
		TokensLeft:      left,
	}
}

// lineReader buffers partial reads and yields complete lines without their
// terminator. A trailing fragment with no terminator is never yielded.
type lineReader struct {
	r   io.Reader
	buf []byte
	pos int
	end int
	rem []byte
}

func newLineReader(r io.Reader) *lineReader {
	return &lineReader{r: r, buf: make([]byte, 4096)}
}

// next returns the next complete line, or nil with an error when the stream
// ends.
func (l *lineReader) next() ([]byte, error) {
	for {
		if l.pos < l.end {
			if i := bytes.IndexByte(l.buf[l.pos:l.end], '\n'); i >= 0 {
				line := append(l.rem, l.buf[l.pos:l.pos+i]...)
				l.rem = nil
				l.pos += i + 1
				return line, nil
			}
			l.rem = append(l.rem, l.buf[l.pos:l.end]...)
			l.pos = l.end
		}

		n, err := l.r.Read(l.buf)
		l.pos, l.end = 0, n
		if err != nil {
			if n > 0 {
				if i := bytes.IndexByte(l.buf[:n], '\n'); i >= 0 {
					line := append(l.rem, l.buf[:i]...)
					l.rem = nil
					l.pos = i + 1
					return line, nil
				}
			}
			if err == io.EOF {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("upstream read: %w", err)
		}
	}
}
