// Package model defines the data structures used throughout the application.
package model

import "time"

// Post is a single shared image with an optional caption, owned by one profile.
//
// ImageKey is the storage key inside the post-images bucket. ImageURL is the
// public address derived from it at upload time. Deletion always goes through
// the key; rows written before the key column existed have an empty ImageKey
// and fall back to parsing ImageURL.
type Post struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	ImageURL  string    `json:"imageUrl"`
	ImageKey  string    `json:"-"`
	Caption   *string   `json:"caption"` // nil when absent, never ""
	CreatedAt time.Time `json:"createdAt"`
}

// Author is the slice of the owning profile that a feed entry carries.
type Author struct {
	Handle    string  `json:"handle"`
	AvatarURL *string `json:"avatarUrl"`
}

// Like is the (post, user) endorsement relationship. It has no identity of its own.
type Like struct {
	PostID string `json:"postId"`
	UserID string `json:"userId"`
}

// FeedPost is a post joined with its author profile and its full like list.
type FeedPost struct {
	Post
	Author Author `json:"author"`
	Likes  []Like `json:"likes"`
}

// LikedBy reports whether profileID appears in the post's like list.
func (p *FeedPost) LikedBy(profileID string) bool {
	for _, l := range p.Likes {
		if l.UserID == profileID {
			return true
		}
	}
	return false
}

// PostSummary is the profile-grid projection of a post.
type PostSummary struct {
	ID       string  `json:"id"`
	ImageURL string  `json:"imageUrl"`
	Caption  *string `json:"caption"`
}
