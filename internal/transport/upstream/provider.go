// Package upstream contains the provider adapters that translate the
// vendor-neutral chat request into vendor-specific streaming HTTP calls.
package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kailas-cloud/promptgate/internal/domain"
	"github.com/kailas-cloud/promptgate/internal/domain/chat"
)

// maxErrorBody caps how much of an upstream error payload is read.
const maxErrorBody = 64 << 10

// Provider translates a chat request into one vendor's wire shape and returns
// the raw byte stream of the vendor's server-sent-event response. Adapters are
// stateless; adding a vendor means adding an adapter, the relay loop never
// changes.
type Provider interface {
	Name() string
	Send(ctx context.Context, req chat.Request) (io.ReadCloser, error)
}

// Registry resolves the provider tag of a request to an adapter.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry builds a registry from the given adapters.
func NewRegistry(providers ...Provider) Registry {
	m := make(map[string]Provider, len(providers))
	for _, p := range providers {
		m[p.Name()] = p
	}
	return Registry{providers: m}
}

// Get returns the adapter for a provider tag.
func (r Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownProvider, name)
	}
	return p, nil
}

// drainBody reads a bounded error payload and closes the body.
func drainBody(body io.ReadCloser) []byte {
	defer body.Close()
	data, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil {
		return nil
	}
	return data
}

// connectError wraps a transport-establishment failure (DNS, connect, TLS)
// so the caller maps it to a 502-class outcome.
func connectError(provider string, err error) error {
	return fmt.Errorf("%s: %v: %w", provider, err, domain.ErrUpstreamUnavailable)
}

func isSuccess(resp *http.Response) bool {
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
