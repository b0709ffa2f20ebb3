// Package profile is the profile page: a profile resolved by handle, its
// post grid, follower and following counts, and the follow control.
//
// The follow control is optimistic. A toggle changes the displayed
// relationship and follower count at once, tagged with a sequence number,
// and then calls the store. Failures are reported but not rolled back; the
// next Load replaces every delta issued before it started with the store's
// numbers. A toggle made while a Load is in flight stays on top of that
// Load's result when both concern the same profile.
package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sakif/ronin/internal/apperror"
	"github.com/sakif/ronin/internal/feed"
	"github.com/sakif/ronin/internal/model"
	"github.com/sakif/ronin/internal/session"
)

// FeedRoute is where a missing profile sends the user.
const FeedRoute = "/feed"

type State int

const (
	Uninitialized State = iota
	AwaitingSession
	Unauthenticated
	Loading
	Loaded
	NotFound
	LoadError
)

var stateNames = [...]string{
	Uninitialized:   "uninitialized",
	AwaitingSession: "awaiting_session",
	Unauthenticated: "unauthenticated",
	Loading:         "loading",
	Loaded:          "loaded",
	NotFound:        "not_found",
	LoadError:       "load_error",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Reader is the read side of the store a profile page needs.
type Reader interface {
	GetProfileByHandle(ctx context.Context, handle string) (*model.Profile, error)
	ListByProfile(ctx context.Context, profileID string) ([]model.PostSummary, error)
	CountFollowers(ctx context.Context, profileID string) (int, error)
	CountFollowing(ctx context.Context, profileID string) (int, error)
	GetFollowRelationship(ctx context.Context, followerID, followeeID string) (*model.Follow, error)
}

// Follows performs the follow mutation; *service.FollowService implements it.
type Follows interface {
	ToggleFollow(ctx context.Context, followerID, followeeID string, currentlyFollowing bool) error
}

// delta is one optimistic follow toggle not yet confirmed by a Load.
type delta struct {
	seq       uint64
	target    string
	following bool
	count     int
}

type Screen struct {
	sessions feed.Sessions
	reader   Reader
	follows  Follows
	logger   *slog.Logger

	mu          sync.Mutex
	state       State
	session     *session.Session
	unsubscribe func()
	closed      bool
	issued      uint64
	applied     uint64

	profile     *model.Profile
	posts       []model.PostSummary
	followers   int
	following   int
	isFollowing bool
	seq         uint64
	pending     []delta
	notices     []feed.Notice
}

func NewScreen(sessions feed.Sessions, reader Reader, follows Follows, logger *slog.Logger) *Screen {
	return &Screen{
		sessions: sessions,
		reader:   reader,
		follows:  follows,
		logger:   logger,
		posts:    []model.PostSummary{},
		notices:  []feed.Notice{},
	}
}

// Load fetches the profile behind handle. The reads are independent; a
// failure in any of them leaves the previous data on screen.
func (s *Screen) Load(ctx context.Context, handle string) error {
	sess, err := s.resolveSession(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed || s.state == Unauthenticated {
		s.mu.Unlock()
		return nil
	}
	s.issued++
	gen := s.issued
	since := s.seq
	s.state = Loading
	s.mu.Unlock()

	res, err := s.fetch(ctx, sess.UserID, handle)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.state == Unauthenticated || gen <= s.applied {
		return nil
	}
	s.applied = gen

	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			s.state = NotFound
			s.profile = nil
			s.posts = []model.PostSummary{}
			s.followers, s.following, s.isFollowing = 0, 0, false
			s.pending = nil
			s.addNotice(feed.LevelError, "Profile not found")
			return err
		}
		s.logger.Error("failed to load profile",
			slog.String("handle", handle),
			slog.String("error", err.Error()),
		)
		s.state = LoadError
		s.addNotice(feed.LevelError, "Failed to load profile")
		return err
	}

	s.profile = res.profile
	s.posts = res.posts
	s.followers = res.followers
	s.following = res.following
	s.isFollowing = res.isFollowing

	kept := s.pending[:0]
	for _, d := range s.pending {
		if d.seq > since && d.target == res.profile.ID {
			kept = append(kept, d)
		}
	}
	s.pending = kept
	s.state = Loaded
	return nil
}

type loadResult struct {
	profile     *model.Profile
	posts       []model.PostSummary
	followers   int
	following   int
	isFollowing bool
}

func (s *Screen) fetch(ctx context.Context, viewerID, handle string) (*loadResult, error) {
	p, err := s.reader.GetProfileByHandle(ctx, handle)
	if err != nil {
		return nil, err
	}
	res := &loadResult{profile: p}

	if res.posts, err = s.reader.ListByProfile(ctx, p.ID); err != nil {
		return nil, fmt.Errorf("profile: listing posts: %w", err)
	}
	if res.followers, err = s.reader.CountFollowers(ctx, p.ID); err != nil {
		return nil, fmt.Errorf("profile: counting followers: %w", err)
	}
	if res.following, err = s.reader.CountFollowing(ctx, p.ID); err != nil {
		return nil, fmt.Errorf("profile: counting following: %w", err)
	}
	if viewerID != p.ID {
		rel, err := s.reader.GetFollowRelationship(ctx, viewerID, p.ID)
		if err != nil {
			return nil, fmt.Errorf("profile: reading follow relationship: %w", err)
		}
		res.isFollowing = rel != nil
	}
	return res, nil
}

// ToggleFollow follows or unfollows the profile on screen. It is allowed
// while a reload is in flight as long as a profile is already displayed.
func (s *Screen) ToggleFollow(ctx context.Context) error {
	sess, err := s.resolveSession(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if (s.state != Loaded && s.state != Loading) || s.profile == nil {
		s.mu.Unlock()
		return apperror.ValidationFailed("following_id", "no profile loaded")
	}
	target := s.profile.ID
	if target == sess.UserID {
		s.addNotice(feed.LevelError, "You cannot follow yourself")
		s.mu.Unlock()
		return apperror.ValidationFailed("following_id", "you cannot follow yourself")
	}

	currently := s.displayedFollowing()
	d := delta{target: target, following: !currently, count: 1}
	if currently {
		d.count = -1
	}
	s.seq++
	d.seq = s.seq
	s.pending = append(s.pending, d)
	s.mu.Unlock()

	if err := s.follows.ToggleFollow(ctx, sess.UserID, target, currently); err != nil {
		s.logger.Error("failed to toggle follow",
			slog.String("profileID", target),
			slog.String("error", err.Error()),
		)
		s.mu.Lock()
		s.addNotice(feed.LevelError, "Failed to update follow status")
		s.mu.Unlock()
		return err
	}
	return nil
}

// IsOwn reports whether the viewer is looking at their own profile, which
// shows the sign-out control instead of the follow control.
func (s *Screen) IsOwn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isOwn()
}

func (s *Screen) Close() {
	s.mu.Lock()
	s.closed = true
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// resolveSession reads the current session, subscribing on first success.
// Without a session the screen turns Unauthenticated and no store call is
// made.
func (s *Screen) resolveSession(ctx context.Context) (*session.Session, error) {
	s.mu.Lock()
	if s.state == Uninitialized {
		s.state = AwaitingSession
	}
	s.mu.Unlock()

	sess, err := s.sessions.Current(ctx)
	if err != nil {
		s.mu.Lock()
		s.toUnauthenticated()
		s.mu.Unlock()
		return nil, err
	}

	s.mu.Lock()
	subscribe := s.unsubscribe == nil && !s.closed
	s.session = sess
	s.mu.Unlock()

	if subscribe {
		unsubscribe := s.sessions.Subscribe(s.onSessionEvent)
		s.mu.Lock()
		if s.closed || s.unsubscribe != nil {
			s.mu.Unlock()
			unsubscribe()
		} else {
			s.unsubscribe = unsubscribe
			s.mu.Unlock()
		}
	}
	return sess, nil
}

func (s *Screen) onSessionEvent(ev session.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.session == nil || ev.TokenID != s.session.TokenID {
		return
	}
	switch ev.Type {
	case session.SignedOut:
		s.toUnauthenticated()
	case session.TokenRefreshed:
		s.session = ev.Session
	}
}

// The helpers below must be called with mu held.

func (s *Screen) toUnauthenticated() {
	s.state = Unauthenticated
	s.session = nil
	s.profile = nil
	s.posts = []model.PostSummary{}
	s.pending = nil
}

func (s *Screen) isOwn() bool {
	return s.session != nil && s.profile != nil && s.session.UserID == s.profile.ID
}

func (s *Screen) displayedFollowing() bool {
	if n := len(s.pending); n > 0 {
		return s.pending[n-1].following
	}
	return s.isFollowing
}

func (s *Screen) displayedFollowers() int {
	n := s.followers
	for _, d := range s.pending {
		n += d.count
	}
	if n < 0 {
		return 0
	}
	return n
}

func (s *Screen) addNotice(level feed.Level, msg string) {
	s.notices = append(s.notices, feed.Notice{Level: level, Message: msg})
}
