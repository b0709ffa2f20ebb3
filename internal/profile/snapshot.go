package profile

import (
	"github.com/sakif/ronin/internal/feed"
	"github.com/sakif/ronin/internal/model"
)

type Snapshot struct {
	State       State               `json:"state"`
	Redirect    string              `json:"redirect,omitempty"`
	Profile     *model.Profile      `json:"profile,omitempty"`
	Posts       []model.PostSummary `json:"posts"`
	Followers   int                 `json:"followers"`
	Following   int                 `json:"following"`
	IsFollowing bool                `json:"isFollowing"`
	IsOwn       bool                `json:"isOwn"`
	Notices     []feed.Notice       `json:"notices"`
}

func (s *Screen) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		State:   s.state,
		Posts:   append([]model.PostSummary{}, s.posts...),
		Notices: append([]feed.Notice{}, s.notices...),
	}
	switch s.state {
	case Unauthenticated:
		snap.Redirect = feed.AuthRoute
		return snap
	case NotFound:
		snap.Redirect = FeedRoute
		return snap
	}

	if s.profile != nil {
		p := *s.profile
		snap.Profile = &p
	}
	snap.Followers = s.displayedFollowers()
	snap.Following = s.following
	snap.IsFollowing = s.displayedFollowing()
	snap.IsOwn = s.isOwn()
	return snap
}
