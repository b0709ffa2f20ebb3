package feed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/sakif/ronin/internal/apperror"
	"github.com/sakif/ronin/internal/model"
	"github.com/sakif/ronin/internal/repository"
	"github.com/sakif/ronin/internal/service"
	"github.com/sakif/ronin/internal/session"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSessions struct {
	mu        sync.Mutex
	current   *session.Session
	listeners map[int]session.Listener
	next      int
}

func newFakeSessions(s *session.Session) *fakeSessions {
	return &fakeSessions{current: s, listeners: make(map[int]session.Listener)}
}

func (f *fakeSessions) Current(context.Context) (*session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == nil {
		return nil, apperror.Unauthenticated("no active session")
	}
	return f.current, nil
}

func (f *fakeSessions) Subscribe(l session.Listener) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	f.listeners[id] = l
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.listeners, id)
	}
}

func (f *fakeSessions) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

// signOut clears the current session and notifies listeners.
func (f *fakeSessions) signOut() {
	f.mu.Lock()
	old := f.current
	f.current = nil
	ls := make([]session.Listener, 0, len(f.listeners))
	for _, l := range f.listeners {
		ls = append(ls, l)
	}
	f.mu.Unlock()

	for _, l := range ls {
		l(session.Event{Type: session.SignedOut, UserID: old.UserID, TokenID: old.TokenID})
	}
}

// fakePosts is an in-memory Posts. listHook, when set, replaces ListFeed.
type fakePosts struct {
	mu       sync.Mutex
	posts    []model.FeedPost
	nextID   int
	calls    int
	listHook func(call int) ([]model.FeedPost, error)

	listErr   error
	createErr error
	deleteErr error
	toggleErr error
}

func (f *fakePosts) add(ownerID, handle string) model.FeedPost {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	p := model.FeedPost{
		Post: model.Post{
			ID:        fmt.Sprintf("post-%d", f.nextID),
			UserID:    ownerID,
			ImageURL:  fmt.Sprintf("http://img/%s/%d.png", ownerID, f.nextID),
			CreatedAt: time.Unix(int64(f.nextID), 0),
		},
		Author: model.Author{Handle: handle},
		Likes:  []model.Like{},
	}
	f.posts = append([]model.FeedPost{p}, f.posts...)
	return p
}

func (f *fakePosts) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakePosts) ListFeed(_ context.Context, _ repository.FeedOptions) ([]model.FeedPost, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	hook := f.listHook
	f.mu.Unlock()

	if hook != nil {
		return hook(call)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]model.FeedPost, len(f.posts))
	for i, p := range f.posts {
		p.Likes = append([]model.Like{}, p.Likes...)
		out[i] = p
	}
	return out, nil
}

func (f *fakePosts) CreatePost(_ context.Context, userID string, img service.ImageUpload, caption string) (*model.Post, error) {
	f.mu.Lock()
	f.calls++
	err := f.createErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	p := f.add(userID, "author")
	if caption != "" {
		p.Caption = &caption
	}
	return &p.Post, nil
}

func (f *fakePosts) DeletePost(_ context.Context, userID, postID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.deleteErr != nil {
		return f.deleteErr
	}
	for i, p := range f.posts {
		if p.ID != postID {
			continue
		}
		if p.UserID != userID {
			return apperror.Forbidden("you can only delete your own posts")
		}
		f.posts = append(f.posts[:i], f.posts[i+1:]...)
		return nil
	}
	return apperror.NotFound("post", postID)
}

func (f *fakePosts) ToggleLike(_ context.Context, userID, postID string, currentlyLiked bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.toggleErr != nil {
		return f.toggleErr
	}
	for i := range f.posts {
		p := &f.posts[i]
		if p.ID != postID {
			continue
		}
		if currentlyLiked {
			kept := p.Likes[:0]
			for _, l := range p.Likes {
				if l.UserID != userID {
					kept = append(kept, l)
				}
			}
			p.Likes = kept
			return nil
		}
		if !p.LikedBy(userID) {
			p.Likes = append(p.Likes, model.Like{PostID: postID, UserID: userID})
		}
		return nil
	}
	return apperror.NotFound("post", postID)
}
