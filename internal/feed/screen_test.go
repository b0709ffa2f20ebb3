package feed

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/ronin/internal/apperror"
	"github.com/sakif/ronin/internal/model"
	"github.com/sakif/ronin/internal/repository"
	"github.com/sakif/ronin/internal/session"
)

var viewer = &session.Session{UserID: "viewer", TokenID: "tok-1", Token: "t"}

func newTestScreen(t *testing.T, sess *session.Session) (*Screen, *fakeSessions, *fakePosts) {
	t.Helper()
	sessions := newFakeSessions(sess)
	posts := &fakePosts{}
	s := NewScreen(sessions, posts, repository.FeedOptions{}, discardLogger())
	t.Cleanup(s.Close)
	return s, sessions, posts
}

func TestStart_LoadsFeed(t *testing.T) {
	s, sessions, posts := newTestScreen(t, viewer)
	posts.add("other", "alice")
	posts.add("viewer", "me")

	require.NoError(t, s.Start(context.Background()))

	snap := s.Snapshot()
	assert.Equal(t, Loaded, snap.State)
	require.Len(t, snap.Posts, 2)
	assert.Equal(t, "me", snap.Posts[0].Author.Handle)
	assert.True(t, snap.Posts[0].CanDelete)
	assert.False(t, snap.Posts[1].CanDelete)
	assert.Empty(t, snap.Notices)
	assert.Equal(t, 1, sessions.subscribers())
}

func TestStart_UnauthenticatedNeverTouchesStore(t *testing.T) {
	s, sessions, posts := newTestScreen(t, nil)

	err := s.Start(context.Background())
	assert.True(t, errors.Is(err, apperror.ErrUnauthenticated))

	snap := s.Snapshot()
	assert.Equal(t, Unauthenticated, snap.State)
	assert.Equal(t, AuthRoute, snap.Redirect)
	assert.Empty(t, snap.Posts)
	assert.Equal(t, 0, posts.callCount())
	assert.Equal(t, 0, sessions.subscribers())
}

func TestSignOut_MovesToUnauthenticated(t *testing.T) {
	s, sessions, posts := newTestScreen(t, viewer)
	p := posts.add("other", "alice")
	require.NoError(t, s.Start(context.Background()))

	sessions.signOut()

	snap := s.Snapshot()
	assert.Equal(t, Unauthenticated, snap.State)
	assert.Equal(t, AuthRoute, snap.Redirect)
	assert.Empty(t, snap.Posts)

	before := posts.callCount()
	err := s.ToggleLike(context.Background(), p.ID)
	assert.True(t, errors.Is(err, apperror.ErrUnauthenticated))
	assert.Equal(t, before, posts.callCount(), "no store call after sign-out")
}

func TestSessionEvent_ForOtherTokenIgnored(t *testing.T) {
	s, sessions, _ := newTestScreen(t, viewer)
	require.NoError(t, s.Start(context.Background()))

	for _, l := range sessions.listeners {
		l(session.Event{Type: session.SignedOut, UserID: "viewer", TokenID: "another-tab"})
	}
	assert.Equal(t, Loaded, s.Snapshot().State)
}

func TestClose_Unsubscribes(t *testing.T) {
	s, sessions, _ := newTestScreen(t, viewer)
	require.NoError(t, s.Start(context.Background()))
	require.Equal(t, 1, sessions.subscribers())

	s.Close()
	s.Close()
	assert.Equal(t, 0, sessions.subscribers())
}

func TestReload_ErrorKeepsListAndAddsOneNotice(t *testing.T) {
	s, _, posts := newTestScreen(t, viewer)
	posts.add("other", "alice")
	require.NoError(t, s.Start(context.Background()))

	posts.listErr = errors.New("connection refused")
	err := s.Reload(context.Background())
	require.Error(t, err)

	snap := s.Snapshot()
	assert.Equal(t, LoadError, snap.State)
	assert.Len(t, snap.Posts, 1, "last-known list is kept")
	require.Len(t, snap.Notices, 1)
	assert.Equal(t, LevelError, snap.Notices[0].Level)
}

func TestReload_StaleResultNotApplied(t *testing.T) {
	s, _, posts := newTestScreen(t, viewer)
	require.NoError(t, s.Start(context.Background()))

	release := make(chan struct{})
	entered := make(chan struct{})
	older := []model.FeedPost{{Post: model.Post{ID: "old"}}}
	newer := []model.FeedPost{{Post: model.Post{ID: "new"}}}

	// Call 2 is the slow fetch, call 3 overtakes it.
	posts.listHook = func(call int) ([]model.FeedPost, error) {
		if call == 2 {
			close(entered)
			<-release
			return older, nil
		}
		return newer, nil
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.Reload(context.Background())
	}()
	<-entered

	require.NoError(t, s.Reload(context.Background()))
	close(release)
	wg.Wait()

	snap := s.Snapshot()
	require.Len(t, snap.Posts, 1)
	assert.Equal(t, "new", snap.Posts[0].ID)
	assert.Equal(t, Loaded, snap.State)
}

func TestReload_NothingAppliedAfterClose(t *testing.T) {
	s, _, posts := newTestScreen(t, viewer)
	require.NoError(t, s.Start(context.Background()))

	release := make(chan struct{})
	entered := make(chan struct{})
	posts.listHook = func(int) ([]model.FeedPost, error) {
		close(entered)
		<-release
		return []model.FeedPost{{Post: model.Post{ID: "late"}}}, nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Reload(context.Background())
	}()
	<-entered
	s.Close()
	close(release)
	<-done

	assert.Empty(t, s.Snapshot().Posts)
}

func TestToggleLike_SequenceReturnsToZero(t *testing.T) {
	s, _, posts := newTestScreen(t, viewer)
	p := posts.add("other", "alice")
	require.NoError(t, s.Start(context.Background()))

	for i, want := range []int{1, 0, 1, 0} {
		require.NoError(t, s.ToggleLike(context.Background(), p.ID))
		snap := s.Snapshot()
		require.Len(t, snap.Posts, 1)
		assert.Equal(t, want, snap.Posts[0].LikeCount, "toggle %d", i)
		assert.Equal(t, want == 1, snap.Posts[0].LikedByViewer, "toggle %d", i)
	}
	assert.Empty(t, s.Snapshot().Notices)
}

func TestToggleLike_FailureKeepsStateAndAddsOneNotice(t *testing.T) {
	s, _, posts := newTestScreen(t, viewer)
	p := posts.add("other", "alice")
	require.NoError(t, s.Start(context.Background()))

	posts.toggleErr = errors.New("timeout")
	require.Error(t, s.ToggleLike(context.Background(), p.ID))

	snap := s.Snapshot()
	assert.Equal(t, Loaded, snap.State)
	assert.Equal(t, 0, snap.Posts[0].LikeCount)
	require.Len(t, snap.Notices, 1)
	assert.Equal(t, Notice{Level: LevelError, Message: "Failed to update like"}, snap.Notices[0])
}

func TestDelete_OwnPost(t *testing.T) {
	s, _, posts := newTestScreen(t, viewer)
	posts.add("other", "alice")
	mine := posts.add("viewer", "me")
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.Delete(context.Background(), mine.ID))

	snap := s.Snapshot()
	require.Len(t, snap.Posts, 1)
	assert.NotEqual(t, mine.ID, snap.Posts[0].ID)
	require.Len(t, snap.Notices, 1)
	assert.Equal(t, Notice{Level: LevelSuccess, Message: "Post deleted!"}, snap.Notices[0])
}

func TestDelete_OthersPostRejected(t *testing.T) {
	s, _, posts := newTestScreen(t, viewer)
	theirs := posts.add("other", "alice")
	require.NoError(t, s.Start(context.Background()))

	assert.False(t, s.CanDelete(theirs))

	err := s.Delete(context.Background(), theirs.ID)
	assert.True(t, errors.Is(err, apperror.ErrForbidden))

	snap := s.Snapshot()
	assert.Len(t, snap.Posts, 1)
	require.Len(t, snap.Notices, 1)
	assert.Equal(t, LevelError, snap.Notices[0].Level)
}

func TestDelete_StorageFailureKeepsPost(t *testing.T) {
	s, _, posts := newTestScreen(t, viewer)
	mine := posts.add("viewer", "me")
	require.NoError(t, s.Start(context.Background()))

	posts.deleteErr = errors.New("storage: deleting: permission denied")
	require.Error(t, s.Delete(context.Background(), mine.ID))

	snap := s.Snapshot()
	assert.Len(t, snap.Posts, 1)
	require.Len(t, snap.Notices, 1)
	assert.Equal(t, "Failed to delete post", snap.Notices[0].Message)
}

func TestComposer_OversizedImageRejectedBeforeNetwork(t *testing.T) {
	s, _, posts := newTestScreen(t, viewer)
	require.NoError(t, s.Start(context.Background()))
	calls := posts.callCount()

	c := s.Composer()
	c.SetCaption("too big")
	err := c.SelectImage(ImageFile{
		Filename:    "huge.png",
		ContentType: "image/png",
		Size:        6 << 20,
		Data:        bytes.NewReader(nil),
	})
	assert.True(t, errors.Is(err, apperror.ErrValidation))

	snap := s.Snapshot()
	assert.False(t, snap.Composer.HasImage)
	assert.Equal(t, "too big", snap.Composer.Caption, "form unchanged")
	require.Len(t, snap.Notices, 1)
	assert.Equal(t, "Image must be less than 5MB", snap.Notices[0].Message)
	assert.Equal(t, calls, posts.callCount())
}

func TestComposer_NonImageRejected(t *testing.T) {
	s, _, _ := newTestScreen(t, viewer)
	require.NoError(t, s.Start(context.Background()))

	err := s.Composer().SelectImage(ImageFile{Filename: "notes.txt", ContentType: "text/plain", Size: 10})
	assert.True(t, errors.Is(err, apperror.ErrValidation))
	assert.Equal(t, "Please select an image file", s.Snapshot().Notices[0].Message)
}

func TestComposer_SubmitWithoutImage(t *testing.T) {
	s, _, posts := newTestScreen(t, viewer)
	require.NoError(t, s.Start(context.Background()))
	calls := posts.callCount()

	err := s.Composer().Submit(context.Background())
	assert.True(t, errors.Is(err, apperror.ErrValidation))
	assert.Len(t, s.Snapshot().Notices, 1)
	assert.Equal(t, calls, posts.callCount())
}

func TestComposer_SubmitClearsFormAndReloads(t *testing.T) {
	s, _, _ := newTestScreen(t, viewer)
	require.NoError(t, s.Start(context.Background()))

	c := s.Composer()
	require.NoError(t, c.SelectImage(ImageFile{
		Filename:    "cat.png",
		ContentType: "image/png",
		Size:        3,
		Data:        bytes.NewReader([]byte("png")),
	}))
	c.SetCaption("my cat")
	require.NoError(t, c.Submit(context.Background()))

	snap := s.Snapshot()
	assert.False(t, snap.Composer.HasImage)
	assert.Empty(t, snap.Composer.Caption)
	require.Len(t, snap.Posts, 1)
	require.NotNil(t, snap.Posts[0].Caption)
	assert.Equal(t, "my cat", *snap.Posts[0].Caption)
	assert.Equal(t, []Notice{{Level: LevelSuccess, Message: "Post created!"}}, snap.Notices)
}

func TestComposer_FailedSubmitKeepsForm(t *testing.T) {
	s, _, posts := newTestScreen(t, viewer)
	require.NoError(t, s.Start(context.Background()))
	posts.createErr = errors.New("storage: uploading: disk full")

	c := s.Composer()
	require.NoError(t, c.SelectImage(ImageFile{Filename: "cat.png", ContentType: "image/png", Size: 3, Data: bytes.NewReader([]byte("png"))}))
	c.SetCaption("kept")
	require.Error(t, c.Submit(context.Background()))

	snap := s.Snapshot()
	assert.True(t, snap.Composer.HasImage)
	assert.Equal(t, "kept", snap.Composer.Caption)
	require.Len(t, snap.Notices, 1)
	assert.Equal(t, "Failed to create post", snap.Notices[0].Message)
}
