package model

import "time"

// Profile is the public user record. ID matches the auth subject of the
// account that owns it; Handle is unique and is the routing key for
// /profile/{handle}.
type Profile struct {
	ID          string    `json:"id"`
	Handle      string    `json:"handle"`
	DisplayName *string   `json:"displayName"`
	AvatarURL   *string   `json:"avatarUrl"`
	Bio         *string   `json:"bio"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Follow is the directed relationship follower -> following.
type Follow struct {
	FollowerID  string    `json:"followerId"`
	FollowingID string    `json:"followingId"`
	CreatedAt   time.Time `json:"createdAt"`
}
