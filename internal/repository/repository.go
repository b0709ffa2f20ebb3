// Package repository declares the data-store façade the rest of the
// application talks to. Implementations live in the sqlite and postgres
// sub-packages; services and screens only ever see these interfaces.
package repository

import (
	"context"
	"time"

	"github.com/sakif/ronin/internal/model"
)

// FeedOptions bounds a feed read. The zero value fetches every post, newest
// first. With Limit > 0 the read returns at most Limit posts strictly older
// than the Before cursor (when set).
type FeedOptions struct {
	Limit  int
	Before *Cursor
}

// Cursor marks a position in the (created_at DESC, id DESC) feed order.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

type PostRepository interface {
	ListFeed(ctx context.Context, opts FeedOptions) ([]model.FeedPost, error)
	ListByProfile(ctx context.Context, profileID string) ([]model.PostSummary, error)
	GetPost(ctx context.Context, postID string) (*model.Post, error)
	InsertPost(ctx context.Context, post *model.Post) error
	DeletePost(ctx context.Context, postID, ownerID string) error
	ToggleLike(ctx context.Context, postID, profileID string, currentlyLiked bool) error
	ImageReferenced(ctx context.Context, key, url string) (bool, error)
}

type FollowRepository interface {
	CountFollowers(ctx context.Context, profileID string) (int, error)
	CountFollowing(ctx context.Context, profileID string) (int, error)
	GetFollowRelationship(ctx context.Context, followerID, followeeID string) (*model.Follow, error)
	ToggleFollow(ctx context.Context, followerID, followeeID string, currentlyFollowing bool) error
}

type ProfileRepository interface {
	GetProfileByHandle(ctx context.Context, handle string) (*model.Profile, error)
	GetProfileByID(ctx context.Context, id string) (*model.Profile, error)
}

type AccountRepository interface {
	// CreateAccount inserts the profile and its account in one transaction.
	// A taken handle or email yields apperror.ErrConflict.
	CreateAccount(ctx context.Context, account *model.Account, profile *model.Profile) error
	GetAccountByEmail(ctx context.Context, email string) (*model.Account, error)
	// UpsertGitHubAccount returns the profile linked to githubID, creating the
	// account and profile on first sign-in.
	UpsertGitHubAccount(ctx context.Context, githubID int64, login, email string, avatarURL *string) (*model.Profile, error)
}

// Store is everything a backend provides. Both sqlite.DB and postgres.DB
// satisfy it.
type Store interface {
	PostRepository
	FollowRepository
	ProfileRepository
	AccountRepository
	Close() error
}
