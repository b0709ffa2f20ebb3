package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/ronin/internal/apperror"
	"github.com/sakif/ronin/internal/feed"
	"github.com/sakif/ronin/internal/repository"
	"github.com/sakif/ronin/internal/storage"
)

const (
	maxFeedLimit = 100
	// Room for the multipart framing and the caption around the image.
	maxUploadBody = storage.MaxImageSize + 1<<20
	multipartMem  = 8 << 20
)

// FeedHandler renders the feed screen. Each request builds its own screen,
// starts it, applies at most one action and answers with the snapshot.
type FeedHandler struct {
	sessions feed.Sessions
	posts    feed.Posts
	logger   *slog.Logger
}

func NewFeedHandler(sessions feed.Sessions, posts feed.Posts, logger *slog.Logger) *FeedHandler {
	return &FeedHandler{sessions: sessions, posts: posts, logger: logger}
}

// FeedResponse adds the pagination cursor to the snapshot when a page
// limit was requested and the page was full.
type FeedResponse struct {
	feed.Snapshot
	Next *CursorResponse `json:"next,omitempty"`
}

type CursorResponse struct {
	Before   time.Time `json:"before"`
	BeforeID string    `json:"beforeId"`
}

// start builds and starts a screen. It writes the error response and
// returns nil when the screen could not load.
func (h *FeedHandler) start(w http.ResponseWriter, r *http.Request, opts repository.FeedOptions) *feed.Screen {
	s := feed.NewScreen(h.sessions, h.posts, opts, h.logger)
	if err := s.Start(r.Context()); err != nil {
		snap := s.Snapshot()
		writeScreenError(w, err, snap.Notices, snap.Redirect)
		s.Close()
		return nil
	}
	return s
}

func (h *FeedHandler) fail(w http.ResponseWriter, s *feed.Screen, err error) {
	snap := s.Snapshot()
	writeScreenError(w, err, snap.Notices, snap.Redirect)
}

// HandleFeed returns the feed, newest first.
//
// HTTP: GET /api/feed?limit=20&before=<RFC3339 time>&before_id=<post id>
//
// Without limit the whole feed is returned.
func (h *FeedHandler) HandleFeed(w http.ResponseWriter, r *http.Request) {
	opts, err := parseFeedOptions(r)
	if err != nil {
		writeError(w, err)
		return
	}

	s := h.start(w, r, opts)
	if s == nil {
		return
	}
	defer s.Close()

	resp := FeedResponse{Snapshot: s.Snapshot()}
	if opts.Limit > 0 && len(resp.Posts) == opts.Limit {
		last := resp.Posts[len(resp.Posts)-1]
		resp.Next = &CursorResponse{Before: last.CreatedAt, BeforeID: last.ID}
	}
	writeJSON(w, http.StatusOK, resp)
}

func parseFeedOptions(r *http.Request) (repository.FeedOptions, error) {
	var opts repository.FeedOptions
	q := r.URL.Query()

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxFeedLimit {
			return opts, apperror.ValidationFailed("limit", "limit must be between 1 and "+strconv.Itoa(maxFeedLimit))
		}
		opts.Limit = n
	}

	before, beforeID := q.Get("before"), q.Get("before_id")
	if before == "" && beforeID == "" {
		return opts, nil
	}
	if opts.Limit == 0 {
		return opts, apperror.ValidationFailed("before", "before requires limit")
	}
	t, err := time.Parse(time.RFC3339Nano, before)
	if err != nil || beforeID == "" {
		return opts, apperror.ValidationFailed("before", "before must be an RFC 3339 time and before_id a post id")
	}
	opts.Before = &repository.Cursor{CreatedAt: t, ID: beforeID}
	return opts, nil
}

// HandleCreatePost uploads an image and creates the post.
//
// HTTP: POST /api/posts (multipart/form-data: image, caption)
func (h *FeedHandler) HandleCreatePost(w http.ResponseWriter, r *http.Request) {
	s := h.start(w, r, repository.FeedOptions{})
	if s == nil {
		return
	}
	defer s.Close()

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
	if err := r.ParseMultipartForm(multipartMem); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, apperror.ValidationFailed("image", "Image must be less than 5MB"))
			return
		}
		writeError(w, apperror.ValidationFailed("body", "Invalid multipart form"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	c := s.Composer()
	c.SetCaption(r.FormValue("caption"))

	file, header, err := r.FormFile("image")
	switch {
	case err == nil:
		defer file.Close()
		if err := c.SelectImage(feed.ImageFile{
			Filename:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Size:        header.Size,
			Data:        file,
		}); err != nil {
			h.fail(w, s, err)
			return
		}
	case !errors.Is(err, http.ErrMissingFile):
		writeError(w, apperror.ValidationFailed("image", "Invalid image upload"))
		return
	}

	if err := c.Submit(r.Context()); err != nil {
		h.fail(w, s, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.Snapshot())
}

// HandleDeletePost deletes one of the viewer's posts and its image.
//
// HTTP: DELETE /api/posts/{id}
func (h *FeedHandler) HandleDeletePost(w http.ResponseWriter, r *http.Request) {
	postID := chi.URLParam(r, "id")

	s := h.start(w, r, repository.FeedOptions{})
	if s == nil {
		return
	}
	defer s.Close()

	if err := s.Delete(r.Context(), postID); err != nil {
		h.fail(w, s, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

// HandleToggleLike likes the post, or unlikes it when the viewer already
// does.
//
// HTTP: POST /api/posts/{id}/like
func (h *FeedHandler) HandleToggleLike(w http.ResponseWriter, r *http.Request) {
	postID := chi.URLParam(r, "id")

	s := h.start(w, r, repository.FeedOptions{})
	if s == nil {
		return
	}
	defer s.Close()

	if err := s.ToggleLike(r.Context(), postID); err != nil {
		h.fail(w, s, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}
