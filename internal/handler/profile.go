package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/ronin/internal/feed"
	"github.com/sakif/ronin/internal/profile"
)

type ProfileHandler struct {
	sessions feed.Sessions
	reader   profile.Reader
	follows  profile.Follows
	logger   *slog.Logger
}

func NewProfileHandler(sessions feed.Sessions, reader profile.Reader, follows profile.Follows, logger *slog.Logger) *ProfileHandler {
	return &ProfileHandler{sessions: sessions, reader: reader, follows: follows, logger: logger}
}

func (h *ProfileHandler) load(w http.ResponseWriter, r *http.Request) *profile.Screen {
	s := profile.NewScreen(h.sessions, h.reader, h.follows, h.logger)
	if err := s.Load(r.Context(), chi.URLParam(r, "handle")); err != nil {
		snap := s.Snapshot()
		writeScreenError(w, err, snap.Notices, snap.Redirect)
		s.Close()
		return nil
	}
	return s
}

// HandleProfile returns a profile page: the profile, its posts, follow
// counts and whether the viewer follows it.
//
// HTTP: GET /api/profiles/{handle}
//
// An unknown handle answers 404 with redirect "/feed".
func (h *ProfileHandler) HandleProfile(w http.ResponseWriter, r *http.Request) {
	s := h.load(w, r)
	if s == nil {
		return
	}
	defer s.Close()
	writeJSON(w, http.StatusOK, s.Snapshot())
}

// HandleToggleFollow follows the profile, or unfollows it. The response
// already reflects the change.
//
// HTTP: POST /api/profiles/{handle}/follow
func (h *ProfileHandler) HandleToggleFollow(w http.ResponseWriter, r *http.Request) {
	s := h.load(w, r)
	if s == nil {
		return
	}
	defer s.Close()

	if err := s.ToggleFollow(r.Context()); err != nil {
		snap := s.Snapshot()
		writeScreenError(w, err, snap.Notices, snap.Redirect)
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}
