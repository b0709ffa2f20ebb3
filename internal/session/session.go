// Package session is the source of truth for "who is signed in".
//
// A Provider issues and validates session tokens, remembers which token ids
// have been signed out, and tells subscribers when a session starts, ends or
// is refreshed. The HTTP middleware puts the validated session on the
// request context; screens read it back with Current and subscribe to learn
// when it goes away.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/sakif/ronin/internal/apperror"
	"github.com/sakif/ronin/internal/auth"
)

// DefaultRevocationCacheSize bounds how many signed-out token ids are kept.
const DefaultRevocationCacheSize = 10_000

// Session is an authenticated user's token and its identity. Screens hold
// it read-only.
type Session struct {
	UserID    string
	TokenID   string
	Token     string
	ExpiresAt time.Time
}

type EventType int

const (
	SignedIn EventType = iota + 1
	SignedOut
	TokenRefreshed
)

func (t EventType) String() string {
	switch t {
	case SignedIn:
		return "SIGNED_IN"
	case SignedOut:
		return "SIGNED_OUT"
	case TokenRefreshed:
		return "TOKEN_REFRESHED"
	}
	return fmt.Sprintf("EventType(%d)", int(t))
}

// Event describes one session change. TokenID is the token the change is
// about: the new token for SignedIn, the revoked one for SignedOut, and the
// replaced one for TokenRefreshed. Session is nil for SignedOut.
type Event struct {
	Type    EventType
	UserID  string
	TokenID string
	Session *Session
}

// Listener receives events synchronously on the goroutine that caused them.
// It must not block.
type Listener func(Event)

// Provider implements the auth collaborator.
type Provider struct {
	tokens  *auth.TokenService
	revoked *expirable.LRU[string, struct{}]
	logger  *slog.Logger

	mu        sync.RWMutex
	listeners map[uint64]Listener
	nextID    uint64
}

// NewProvider keeps up to cacheSize revoked token ids, each for as long as a
// token lives. cacheSize <= 0 selects DefaultRevocationCacheSize.
func NewProvider(tokens *auth.TokenService, cacheSize int, logger *slog.Logger) *Provider {
	if cacheSize <= 0 {
		cacheSize = DefaultRevocationCacheSize
	}
	return &Provider{
		tokens:    tokens,
		revoked:   expirable.NewLRU[string, struct{}](cacheSize, nil, tokens.TTL()),
		logger:    logger,
		listeners: make(map[uint64]Listener),
	}
}

// Current returns the session the request was authenticated with. A
// missing session, or one signed out since the request started, yields
// apperror.ErrUnauthenticated.
func (p *Provider) Current(ctx context.Context) (*Session, error) {
	s, ok := FromContext(ctx)
	if !ok || p.isRevoked(s.TokenID) {
		return nil, apperror.Unauthenticated("sign in to continue")
	}
	return s, nil
}

// Subscribe registers l for session changes. The returned function removes
// it and may be called any number of times.
func (p *Provider) Subscribe(l Listener) (unsubscribe func()) {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = l
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.listeners, id)
			p.mu.Unlock()
		})
	}
}

// Issue starts a session for userID.
func (p *Provider) Issue(userID string) (*Session, error) {
	s, err := p.issue(userID)
	if err != nil {
		return nil, err
	}
	p.logger.Info("session started", slog.String("userID", userID))
	p.emit(Event{Type: SignedIn, UserID: userID, TokenID: s.TokenID, Session: s})
	return s, nil
}

// Refresh swaps s for a new session with a fresh expiry. The old token is
// revoked.
func (p *Provider) Refresh(s *Session) (*Session, error) {
	if s == nil || p.isRevoked(s.TokenID) {
		return nil, apperror.Unauthenticated("session is no longer valid")
	}
	next, err := p.issue(s.UserID)
	if err != nil {
		return nil, err
	}
	p.revoked.Add(s.TokenID, struct{}{})
	p.emit(Event{Type: TokenRefreshed, UserID: s.UserID, TokenID: s.TokenID, Session: next})
	return next, nil
}

// SignOut revokes the session's token. Signing out twice is harmless and
// notifies only once.
func (p *Provider) SignOut(s *Session) {
	if s == nil || p.isRevoked(s.TokenID) {
		return
	}
	p.revoked.Add(s.TokenID, struct{}{})
	p.logger.Info("session ended", slog.String("userID", s.UserID))
	p.emit(Event{Type: SignedOut, UserID: s.UserID, TokenID: s.TokenID})
}

// Validate turns a raw token into a session, rejecting revoked ones.
func (p *Provider) Validate(token string) (*Session, error) {
	claims, err := p.tokens.Validate(token)
	if err != nil {
		return nil, apperror.Unauthenticated(err.Error())
	}
	if p.isRevoked(claims.TokenID) {
		return nil, apperror.Unauthenticated("session has been signed out")
	}
	return &Session{
		UserID:    claims.UserID,
		TokenID:   claims.TokenID,
		Token:     token,
		ExpiresAt: claims.ExpiresAt,
	}, nil
}

func (p *Provider) issue(userID string) (*Session, error) {
	t, err := p.tokens.Generate(userID)
	if err != nil {
		return nil, fmt.Errorf("session: issuing token: %w", err)
	}
	return &Session{UserID: userID, TokenID: t.ID, Token: t.Value, ExpiresAt: t.ExpiresAt}, nil
}

func (p *Provider) isRevoked(tokenID string) bool {
	return p.revoked.Contains(tokenID)
}

// emit calls listeners outside the lock so a listener may unsubscribe.
func (p *Provider) emit(ev Event) {
	p.mu.RLock()
	ls := make([]Listener, 0, len(p.listeners))
	for _, l := range p.listeners {
		ls = append(ls, l)
	}
	p.mu.RUnlock()

	for _, l := range ls {
		l(ev)
	}
}
