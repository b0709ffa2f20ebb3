package model

import "time"

// Account holds the sign-in credentials behind a profile.
//
// An account is created together with its profile and shares its ID. Email
// accounts carry a bcrypt PasswordHash; GitHub accounts carry GitHubID and
// may have an empty hash. Neither field is ever serialised to clients.
type Account struct {
	ProfileID    string    `json:"profileId"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	GitHubID     *int64    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}
