package feed

import (
	"time"

	"github.com/sakif/ronin/internal/model"
)

// PostView is one rendered feed entry.
type PostView struct {
	ID            string       `json:"id"`
	ImageURL      string       `json:"imageUrl"`
	Caption       *string      `json:"caption"`
	CreatedAt     time.Time    `json:"createdAt"`
	Author        model.Author `json:"author"`
	LikeCount     int          `json:"likeCount"`
	LikedByViewer bool         `json:"likedByViewer"`
	CanDelete     bool         `json:"canDelete"`
}

type ComposerView struct {
	HasImage  bool   `json:"hasImage"`
	ImageName string `json:"imageName,omitempty"`
	Caption   string `json:"caption"`
	Uploading bool   `json:"uploading"`
}

// Snapshot is a read-only copy of the screen for rendering.
type Snapshot struct {
	State    State        `json:"state"`
	Redirect string       `json:"redirect,omitempty"`
	Posts    []PostView   `json:"posts"`
	Notices  []Notice     `json:"notices"`
	Composer ComposerView `json:"composer"`
}

func (s *Screen) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		State:   s.state,
		Posts:   make([]PostView, 0, len(s.list)),
		Notices: append([]Notice(nil), s.notices...),
		Composer: ComposerView{
			Caption:   s.composer.caption,
			Uploading: s.composer.uploading,
		},
	}
	if snap.Notices == nil {
		snap.Notices = []Notice{}
	}
	if s.state == Unauthenticated {
		snap.Redirect = AuthRoute
		return snap
	}
	if s.composer.image != nil {
		snap.Composer.HasImage = true
		snap.Composer.ImageName = s.composer.image.Filename
	}

	var viewer string
	if s.session != nil {
		viewer = s.session.UserID
	}
	for i := range s.list {
		p := &s.list[i]
		snap.Posts = append(snap.Posts, PostView{
			ID:            p.ID,
			ImageURL:      p.ImageURL,
			Caption:       p.Caption,
			CreatedAt:     p.CreatedAt,
			Author:        p.Author,
			LikeCount:     len(p.Likes),
			LikedByViewer: viewer != "" && p.LikedBy(viewer),
			CanDelete:     viewer != "" && p.UserID == viewer,
		})
	}
	return snap
}
