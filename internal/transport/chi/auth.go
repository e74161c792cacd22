package chi

import (
	"context"
	"net/http"
	"strings"

	"github.com/kailas-cloud/promptgate/internal/domain"
	"github.com/kailas-cloud/promptgate/internal/domain/account"
)

// Authenticator resolves a bearer credential to a verified account.
// Credential verification itself is a collaborator concern; the core only
// needs the resulting account identity.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (account.Account, error)
}

// StaticAuthenticator verifies tokens against a fixed token->account table.
type StaticAuthenticator struct {
	accounts map[string]account.Account
}

// NewStaticAuthenticator builds an authenticator from token/account pairs.
func NewStaticAuthenticator(credentials map[string]account.Account) *StaticAuthenticator {
	accounts := make(map[string]account.Account, len(credentials))
	for token, acct := range credentials {
		if token != "" && acct.ID != "" {
			accounts[token] = acct
		}
	}
	return &StaticAuthenticator{accounts: accounts}
}

// Authenticate implements Authenticator.
func (a *StaticAuthenticator) Authenticate(_ context.Context, token string) (account.Account, error) {
	acct, ok := a.accounts[token]
	if !ok {
		return account.Account{}, domain.ErrAuthRequired
	}
	return acct, nil
}

type accountCtxKey struct{}

// AccountFromContext returns the authenticated account placed by the auth middleware.
func AccountFromContext(ctx context.Context) (account.Account, bool) {
	acct, ok := ctx.Value(accountCtxKey{}).(account.Account)
	return acct, ok
}

// exemptPaths are routes that bypass authentication (health, metrics).
var exemptPaths = map[string]struct{}{
	"/health":  {},
	"/metrics": {},
}

// BearerAuthMiddleware returns a middleware that resolves the Bearer token to
// an account and stores it in the request context.
func BearerAuthMiddleware(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Exempt paths
			if _, ok := exemptPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			// CORS preflight carries no credential.
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			const bearerPrefix = "Bearer "
			if !strings.HasPrefix(header, bearerPrefix) {
				writeError(w, http.StatusUnauthorized, "Authorization required. Please sign in.")
				return
			}

			acct, err := auth.Authenticate(r.Context(), header[len(bearerPrefix):])
			if err != nil {
				writeError(w, http.StatusUnauthorized, "Invalid token. Please sign in again.")
				return
			}

			ctx := context.WithValue(r.Context(), accountCtxKey{}, acct)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
