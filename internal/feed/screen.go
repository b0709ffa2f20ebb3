// Package feed is the home screen: the reverse-chronological list of every
// post, with like, delete and a composer for new posts.
//
// A Screen is built per request (or per connected client), resolves the
// session, loads, and then applies user actions. After every successful
// mutation it re-fetches the whole list rather than patching it locally.
//
// CONCURRENCY:
// Session notifications arrive on whichever goroutine signed the user out,
// so all screen state sits behind one mutex. Fetches run without the lock;
// each carries a generation number and its result is applied only if no
// newer fetch has been applied already and the screen is still open.
package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/sakif/ronin/internal/apperror"
	"github.com/sakif/ronin/internal/model"
	"github.com/sakif/ronin/internal/repository"
	"github.com/sakif/ronin/internal/service"
	"github.com/sakif/ronin/internal/session"
)

// AuthRoute is where an unauthenticated screen sends the user.
const AuthRoute = "/auth"

// Sessions is the part of the session provider a screen uses.
type Sessions interface {
	Current(ctx context.Context) (*session.Session, error)
	Subscribe(l session.Listener) (unsubscribe func())
}

// Posts is the feed's data collaborator; *service.PostService implements it.
type Posts interface {
	ListFeed(ctx context.Context, opts repository.FeedOptions) ([]model.FeedPost, error)
	CreatePost(ctx context.Context, userID string, img service.ImageUpload, caption string) (*model.Post, error)
	DeletePost(ctx context.Context, userID, postID string) error
	ToggleLike(ctx context.Context, userID, postID string, currentlyLiked bool) error
}

type Screen struct {
	sessions Sessions
	posts    Posts
	logger   *slog.Logger
	opts     repository.FeedOptions

	mu          sync.Mutex
	state       State
	session     *session.Session
	list        []model.FeedPost
	notices     []Notice
	issued      uint64
	applied     uint64
	closed      bool
	unsubscribe func()
	liking      map[string]bool
	composer    composerState
}

func NewScreen(sessions Sessions, posts Posts, opts repository.FeedOptions, logger *slog.Logger) *Screen {
	return &Screen{
		sessions: sessions,
		posts:    posts,
		opts:     opts,
		logger:   logger,
		list:     []model.FeedPost{},
		notices:  []Notice{},
		liking:   make(map[string]bool),
	}
}

// Start resolves the session and performs the first load. Without a
// session the screen becomes Unauthenticated and the store is never called.
// Calling Start again is a no-op.
func (s *Screen) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Uninitialized || s.closed {
		s.mu.Unlock()
		return nil
	}
	s.state = AwaitingSession
	s.mu.Unlock()

	sess, err := s.sessions.Current(ctx)
	if err != nil {
		s.mu.Lock()
		s.toUnauthenticated()
		s.mu.Unlock()
		return err
	}

	unsubscribe := s.sessions.Subscribe(s.onSessionEvent)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		unsubscribe()
		return nil
	}
	s.session = sess
	s.unsubscribe = unsubscribe
	s.mu.Unlock()

	return s.Reload(ctx)
}

// Reload re-fetches the whole feed.
func (s *Screen) Reload(ctx context.Context) error {
	s.mu.Lock()
	if s.closed || s.session == nil {
		s.mu.Unlock()
		return nil
	}
	s.issued++
	gen := s.issued
	s.state = Loading
	s.mu.Unlock()

	posts, err := s.posts.ListFeed(ctx, s.opts)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.state == Unauthenticated || gen <= s.applied {
		return nil
	}
	s.applied = gen
	if err != nil {
		s.logger.Error("failed to load feed", slog.String("error", err.Error()))
		s.state = LoadError
		s.addNotice(LevelError, "Failed to load posts")
		return err
	}
	s.list = posts
	s.state = Loaded
	return nil
}

// Close unsubscribes from session changes. Results of fetches still in
// flight are dropped.
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

// CanDelete reports whether the viewer owns post and so gets a delete control.
func (s *Screen) CanDelete(post model.FeedPost) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session != nil && post.UserID == s.session.UserID
}

// Delete removes one of the viewer's posts, image first, and reloads.
func (s *Screen) Delete(ctx context.Context, postID string) error {
	sess, err := s.requireSession(ctx)
	if err != nil {
		return err
	}

	if err := s.posts.DeletePost(ctx, sess.UserID, postID); err != nil {
		s.fail("failed to delete post", "Failed to delete post", err)
		return err
	}

	s.notify(LevelSuccess, "Post deleted!")
	return s.Reload(ctx)
}

// ToggleLike likes or unlikes postID depending on whether the viewer is in
// its like list as last loaded. A second toggle on the same post while one
// is in flight is ignored.
func (s *Screen) ToggleLike(ctx context.Context, postID string) error {
	sess, err := s.requireSession(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.liking[postID] {
		s.mu.Unlock()
		return nil
	}
	post, ok := s.find(postID)
	if !ok {
		s.mu.Unlock()
		err := apperror.NotFound("post", postID)
		s.fail("like target missing", "Failed to update like", err)
		return err
	}
	liked := post.LikedBy(sess.UserID)
	s.liking[postID] = true
	s.mu.Unlock()

	err = s.posts.ToggleLike(ctx, sess.UserID, postID, liked)

	s.mu.Lock()
	delete(s.liking, postID)
	s.mu.Unlock()

	if err != nil {
		s.fail("failed to toggle like", "Failed to update like", err)
		return err
	}
	return s.Reload(ctx)
}

// requireSession re-reads the session before a mutation. A screen whose
// session is gone turns Unauthenticated and no store call is made.
func (s *Screen) requireSession(ctx context.Context) (*session.Session, error) {
	s.mu.Lock()
	started := s.session != nil
	s.mu.Unlock()
	if !started {
		return nil, apperror.Unauthenticated("sign in to continue")
	}

	sess, err := s.sessions.Current(ctx)
	if err != nil {
		s.mu.Lock()
		s.toUnauthenticated()
		s.mu.Unlock()
		return nil, err
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

// toUnauthenticated must be called with mu held.
func (s *Screen) toUnauthenticated() {
	s.state = Unauthenticated
	s.session = nil
	s.list = []model.FeedPost{}
}

func (s *Screen) find(postID string) (model.FeedPost, bool) {
	for _, p := range s.list {
		if p.ID == postID {
			return p, true
		}
	}
	return model.FeedPost{}, false
}

// fail logs err and records one error notice. Validation errors carry their
// own user-facing text; everything else gets fallback.
func (s *Screen) fail(logMsg, fallback string, err error) {
	msg := fallback
	var appErr *apperror.AppError
	if errors.As(err, &appErr) && !errors.Is(err, apperror.ErrNotFound) {
		msg = appErr.Message
	}
	s.logger.Error(logMsg, slog.String("error", err.Error()))
	s.notify(LevelError, msg)
}

func (s *Screen) notify(level Level, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addNotice(level, msg)
}

// addNotice must be called with mu held.
func (s *Screen) addNotice(level Level, msg string) {
	s.notices = append(s.notices, Notice{Level: level, Message: msg})
}
