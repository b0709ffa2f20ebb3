package session

import (
	"context"
	"net/http"

	"github.com/sakif/ronin/internal/auth"
)

type contextKey struct{}

// WithSession returns a context carrying s.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext returns the session placed by Middleware, if any.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(contextKey{}).(*Session)
	return s, ok && s != nil
}

// Middleware attaches the session when the request carries a valid token
// and otherwise lets the request through anonymously. Handlers and screens
// decide what an anonymous request may do.
func Middleware(p *Provider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := auth.TokenFromRequest(r)
			if err == nil {
				if s, err := p.Validate(token); err == nil {
					r = r.WithContext(WithSession(r.Context(), s))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
