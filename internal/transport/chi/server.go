// Package chi is the HTTP transport layer of the proxy.
package chi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/promptgate/internal/domain"
	"github.com/kailas-cloud/promptgate/internal/domain/chat"
	"github.com/kailas-cloud/promptgate/internal/logger"
	"github.com/kailas-cloud/promptgate/internal/metrics"
	"github.com/kailas-cloud/promptgate/internal/transport/upstream"
	admissionuc "github.com/kailas-cloud/promptgate/internal/usecase/admission"
	healthuc "github.com/kailas-cloud/promptgate/internal/usecase/health"
	relayuc "github.com/kailas-cloud/promptgate/internal/usecase/relay"
	usageuc "github.com/kailas-cloud/promptgate/internal/usecase/usage"
)

// Server exposes the proxy API over HTTP.
type Server struct {
	admission *admissionuc.Service
	relay     *relayuc.Service
	usage     *usageuc.Service
	health    *healthuc.Service
	providers upstream.Registry
	logger    *zap.Logger
}

// NewServer creates the HTTP API server.
func NewServer(
	admission *admissionuc.Service,
	relay *relayuc.Service,
	usage *usageuc.Service,
	health *healthuc.Service,
	providers upstream.Registry,
	logger *zap.Logger,
) *Server {
	return &Server{
		admission: admission,
		relay:     relay,
		usage:     usage,
		health:    health,
		providers: providers,
		logger:    logger,
	}
}

// Routes registers the server's endpoints on the router.
func (s *Server) Routes(r chi.Router) {
	r.Post("/v1/chat", s.Chat)
	r.Get("/v1/user", s.User)
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
}

// Chat handles POST /v1/chat: admit, send upstream, relay the stream.
func (s *Server) Chat(w http.ResponseWriter, r *http.Request) {
	acct, ok := AccountFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authorization required. Please sign in.")
		return
	}

	var req chat.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	req.ApplyDefaults()
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	provider, err := s.providers.Get(req.Provider)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	decision, err := s.admission.Admit(r.Context(), acct)
	if err != nil {
		s.logger.Error("admission failed", zap.String("account_id", acct.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !decision.Admitted {
		metrics.QuotaRejectionsTotal.WithLabelValues(string(decision.Rejection.Plan)).Inc()
		writeJSON(w, http.StatusTooManyRequests, rejectionPayload(decision.Rejection))
		return
	}

	// Admission precedes any upstream spend.
	body, err := provider.Send(r.Context(), req)
	if err != nil {
		s.writeUpstreamError(w, provider.Name(), err)
		metrics.RelayRequestsTotal.WithLabelValues(provider.Name(), "upstream_error").Inc()
		return
	}
	defer body.Close()

	snapshot, p := decision.Snapshot, decision.Plan
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	// Informational headers reflect the pre-request snapshot.
	w.Header().Set("X-Plan", string(snapshot.Plan))
	w.Header().Set("X-Plan-Label", p.Label)
	w.Header().Set("X-Tokens-Used", strconv.FormatInt(snapshot.TokensUsedToday, 10))
	w.Header().Set("X-Tokens-Limit", strconv.FormatInt(p.TokensPerDay, 10))
	w.Header().Set("X-Tokens-Left", strconv.FormatInt(snapshot.Remaining(p), 10))
	w.WriteHeader(http.StatusOK)

	summary, status := s.relay.Relay(r.Context(), provider.Name(), body, newSSESink(w), acct, snapshot, p)

	metrics.RelayRequestsTotal.WithLabelValues(provider.Name(), string(status)).Inc()
	logger.FromContext(r.Context()).Info("relay finished",
		zap.String("account_id", acct.ID),
		zap.String("provider", provider.Name()),
		zap.String("model", req.Model),
		zap.String("status", string(status)),
		zap.Int64("tokens_used", summary.TokensUsed),
		zap.Int64("tokens_used_today", summary.TokensUsedToday),
	)
}

// User handles GET /v1/user: the account usage snapshot.
func (s *Server) User(w http.ResponseWriter, r *http.Request) {
	acct, ok := AccountFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authorization required. Please sign in.")
		return
	}

	report, err := s.usage.GetReport(r.Context(), acct)
	if err != nil {
		s.logger.Error("usage report failed", zap.String("account_id", acct.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, map[string]any{
		"status": report.Status,
		"checks": report.Checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// writeUpstreamError maps a provider failure onto the caller response:
// connection failures become 502, vendor rejections are relayed with the
// vendor's status and message.
func (s *Server) writeUpstreamError(w http.ResponseWriter, provider string, err error) {
	var ue *domain.UpstreamError
	if errors.As(err, &ue) {
		s.logger.Warn("upstream rejected request",
			zap.String("provider", provider),
			zap.Int("status", ue.StatusCode),
			zap.String("message", ue.Message))
		writeError(w, ue.StatusCode, ue.Message)
		return
	}
	if errors.Is(err, domain.ErrUpstreamUnavailable) {
		s.logger.Warn("upstream unavailable", zap.String("provider", provider), zap.Error(err))
		writeError(w, http.StatusBadGateway, "AI API connection error: "+err.Error())
		return
	}
	s.logger.Error("upstream send failed", zap.String("provider", provider), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

// rejectionPayload renders the structured limit-exceeded response the caller
// UI parses.
func rejectionPayload(rej *admissionuc.Rejection) map[string]any {
	return map[string]any{
		"error":           "limit_exceeded",
		"message":         rej.Message,
		"plan":            rej.Plan,
		"planLabel":       rej.PlanLabel,
		"tokensUsedToday": rej.TokensUsedToday,
		"tokensLimit":     rej.TokensLimit,
		"tokensLeft":      0,
		"upgradeUrl":      rej.UpgradeURL,
	}
}

// sseSink adapts the ResponseWriter to the relay's LineSink, flushing each
// line so the caller sees it immediately.
type sseSink struct {
	w http.ResponseWriter
	f http.Flusher
}

func newSSESink(w http.ResponseWriter) *sseSink {
	f, _ := w.(http.Flusher)
	return &sseSink{w: w, f: f}
}

// WriteLine writes one line plus terminator and flushes.
func (s *sseSink) WriteLine(line []byte) error {
	if _, err := s.w.Write(append(line, '\n')); err != nil {
		return err //nolint:wrapcheck // io error passed through to the relay loop
	}
	if s.f != nil {
		s.f.Flush()
	}
	return nil
}

// CORSMiddleware sets cross-origin headers and answers preflight requests.
func CORSMiddleware(allowedOrigin string) func(http.Handler) http.Handler {
	if allowedOrigin == "" {
		allowedOrigin = "*"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders the single-field error payload the caller expects.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
