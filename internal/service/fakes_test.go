package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/sakif/ronin/internal/apperror"
	"github.com/sakif/ronin/internal/events"
	"github.com/sakif/ronin/internal/model"
	"github.com/sakif/ronin/internal/repository"
	"github.com/sakif/ronin/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakePostRepo keeps posts in insertion order.
type fakePostRepo struct {
	posts  []*model.Post
	likes  map[string]map[string]bool
	nextID int

	insertErr error
	deleteErr error
	likeErr   error
	calls     int
}

func newFakePostRepo() *fakePostRepo {
	return &fakePostRepo{likes: make(map[string]map[string]bool)}
}

func (f *fakePostRepo) ListFeed(_ context.Context, _ repository.FeedOptions) ([]model.FeedPost, error) {
	f.calls++
	out := make([]model.FeedPost, 0, len(f.posts))
	for i := len(f.posts) - 1; i >= 0; i-- {
		p := f.posts[i]
		fp := model.FeedPost{Post: *p, Likes: []model.Like{}}
		for uid := range f.likes[p.ID] {
			fp.Likes = append(fp.Likes, model.Like{PostID: p.ID, UserID: uid})
		}
		out = append(out, fp)
	}
	return out, nil
}

func (f *fakePostRepo) ListByProfile(_ context.Context, profileID string) ([]model.PostSummary, error) {
	f.calls++
	var out []model.PostSummary
	for _, p := range f.posts {
		if p.UserID == profileID {
			out = append(out, model.PostSummary{ID: p.ID, ImageURL: p.ImageURL, Caption: p.Caption})
		}
	}
	return out, nil
}

func (f *fakePostRepo) GetPost(_ context.Context, postID string) (*model.Post, error) {
	f.calls++
	for _, p := range f.posts {
		if p.ID == postID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, apperror.NotFound("post", postID)
}

func (f *fakePostRepo) InsertPost(_ context.Context, post *model.Post) error {
	f.calls++
	if f.insertErr != nil {
		return f.insertErr
	}
	f.nextID++
	post.ID = fmt.Sprintf("post-%d", f.nextID)
	post.CreatedAt = time.Now()
	cp := *post
	f.posts = append(f.posts, &cp)
	return nil
}

func (f *fakePostRepo) DeletePost(_ context.Context, postID, ownerID string) error {
	f.calls++
	if f.deleteErr != nil {
		return f.deleteErr
	}
	for i, p := range f.posts {
		if p.ID == postID && p.UserID == ownerID {
			f.posts = append(f.posts[:i], f.posts[i+1:]...)
			delete(f.likes, postID)
			return nil
		}
	}
	return apperror.NotFound("post", postID)
}

func (f *fakePostRepo) ToggleLike(_ context.Context, postID, profileID string, currentlyLiked bool) error {
	f.calls++
	if f.likeErr != nil {
		return f.likeErr
	}
	if currentlyLiked {
		delete(f.likes[postID], profileID)
		return nil
	}
	if f.likes[postID] == nil {
		f.likes[postID] = make(map[string]bool)
	}
	f.likes[postID][profileID] = true
	return nil
}

func (f *fakePostRepo) ImageReferenced(_ context.Context, key, url string) (bool, error) {
	for _, p := range f.posts {
		if p.ImageKey == key || p.ImageURL == url {
			return true, nil
		}
	}
	return false, nil
}

// fakeImageStore is an in-memory storage.Store.
type fakeImageStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	uploadErr error
	deleteErr error
	uploads   int
	deletes   int
}

func newFakeImageStore() *fakeImageStore {
	return &fakeImageStore{objects: make(map[string][]byte)}
}

func (f *fakeImageStore) Upload(_ context.Context, bucket, key string, r io.Reader, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads++
	if f.uploadErr != nil {
		return f.uploadErr
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return err
	}
	f.objects[bucket+"/"+key] = buf.Bytes()
	return nil
}

func (f *fakeImageStore) PublicURL(bucket, key string) string {
	return "http://localhost:8080" + storage.PublicPrefix + bucket + "/" + key
}

func (f *fakeImageStore) Delete(_ context.Context, bucket, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if _, ok := f.objects[bucket+"/"+key]; !ok {
		return storage.ErrObjectNotFound
	}
	delete(f.objects, bucket+"/"+key)
	return nil
}

func (f *fakeImageStore) List(context.Context, string) ([]storage.Object, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeImageStore) Open(context.Context, string, string) (io.ReadSeekCloser, storage.Object, error) {
	return nil, storage.Object{}, storage.ErrObjectNotFound
}

func (f *fakeImageStore) has(bucket, key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[bucket+"/"+key]
	return ok
}

func (f *fakeImageStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

type fakePublisher struct {
	events []events.Event
	err    error
}

func (f *fakePublisher) Publish(_ context.Context, ev events.Event) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

type fakeFollowRepo struct {
	follows map[[2]string]bool
	calls   int
}

func (f *fakeFollowRepo) CountFollowers(context.Context, string) (int, error) { return 0, nil }
func (f *fakeFollowRepo) CountFollowing(context.Context, string) (int, error) { return 0, nil }
func (f *fakeFollowRepo) GetFollowRelationship(context.Context, string, string) (*model.Follow, error) {
	return nil, nil
}

func (f *fakeFollowRepo) ToggleFollow(_ context.Context, followerID, followeeID string, currentlyFollowing bool) error {
	f.calls++
	if f.follows == nil {
		f.follows = make(map[[2]string]bool)
	}
	k := [2]string{followerID, followeeID}
	if currentlyFollowing {
		delete(f.follows, k)
	} else {
		f.follows[k] = true
	}
	return nil
}

// fakeAccountRepo implements both AccountRepository and ProfileRepository.
type fakeAccountRepo struct {
	profiles map[string]*model.Profile
	accounts map[string]*model.Account
	github   map[int64]string
	nextID   int
	getErr   error
}

func newFakeAccountRepo() *fakeAccountRepo {
	return &fakeAccountRepo{
		profiles: make(map[string]*model.Profile),
		accounts: make(map[string]*model.Account),
		github:   make(map[int64]string),
	}
}

func (f *fakeAccountRepo) CreateAccount(_ context.Context, account *model.Account, profile *model.Profile) error {
	for _, p := range f.profiles {
		if p.Handle == profile.Handle {
			return apperror.Conflict("profile", profile.Handle)
		}
	}
	if account.Email != "" {
		if _, ok := f.accounts[account.Email]; ok {
			return apperror.Conflict("account", account.Email)
		}
	}
	f.nextID++
	profile.ID = fmt.Sprintf("profile-%d", f.nextID)
	account.ProfileID = profile.ID
	cp := *profile
	f.profiles[profile.ID] = &cp
	if account.Email != "" {
		ca := *account
		f.accounts[account.Email] = &ca
	}
	if account.GitHubID != nil {
		f.github[*account.GitHubID] = profile.ID
	}
	return nil
}

func (f *fakeAccountRepo) GetAccountByEmail(_ context.Context, email string) (*model.Account, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	a, ok := f.accounts[email]
	if !ok {
		return nil, apperror.NotFound("account", email)
	}
	return a, nil
}

func (f *fakeAccountRepo) UpsertGitHubAccount(ctx context.Context, githubID int64, login, email string, avatarURL *string) (*model.Profile, error) {
	if id, ok := f.github[githubID]; ok {
		f.profiles[id].AvatarURL = avatarURL
		return f.profiles[id], nil
	}
	p := &model.Profile{Handle: login, AvatarURL: avatarURL}
	if err := f.CreateAccount(ctx, &model.Account{Email: email, GitHubID: &githubID}, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (f *fakeAccountRepo) GetProfileByHandle(_ context.Context, handle string) (*model.Profile, error) {
	for _, p := range f.profiles {
		if p.Handle == handle {
			return p, nil
		}
	}
	return nil, apperror.NotFound("profile", handle)
}

func (f *fakeAccountRepo) GetProfileByID(_ context.Context, id string) (*model.Profile, error) {
	p, ok := f.profiles[id]
	if !ok {
		return nil, apperror.NotFound("profile", id)
	}
	return p, nil
}
