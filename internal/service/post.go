// Package service holds the business rules between the HTTP layer and the
// collaborators (store, blob storage, session provider, change feed).
//
//	Handler / screen  → Service (rules, orchestration) → Repository, storage.Store
//	                                                    ↘ events.Publisher
//
// Services take interfaces, never concrete backends, so tests run against
// in-memory fakes and the sqlite and postgres stores are interchangeable.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/ronin/internal/apperror"
	"github.com/sakif/ronin/internal/events"
	"github.com/sakif/ronin/internal/model"
	"github.com/sakif/ronin/internal/repository"
	"github.com/sakif/ronin/internal/storage"
)

// MaxCaptionLength bounds a caption after trimming.
const MaxCaptionLength = 2200

// ImageUpload is a file picked for a new post. Size is the declared size
// in bytes, checked before anything is uploaded.
type ImageUpload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// PostService runs the create, delete and like flows.
type PostService struct {
	posts     repository.PostRepository
	images    storage.Store
	bucket    string
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

func NewPostService(
	posts repository.PostRepository,
	images storage.Store,
	bucket string,
	publisher events.Publisher,
	logger *slog.Logger,
) *PostService {
	return &PostService{
		posts:     posts,
		images:    images,
		bucket:    bucket,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// ListFeed is a pass-through so screens depend on one collaborator.
func (s *PostService) ListFeed(ctx context.Context, opts repository.FeedOptions) ([]model.FeedPost, error) {
	return s.posts.ListFeed(ctx, opts)
}

// CreatePost uploads the image under <userID>/<millis>.<ext>, resolves its
// public URL and inserts the post row. The insert is the commit: when it
// fails the uploaded blob is deleted again, and if that delete fails too the
// blob is left for the orphan sweeper.
func (s *PostService) CreatePost(ctx context.Context, userID string, img ImageUpload, caption string) (*model.Post, error) {
	if userID == "" {
		return nil, apperror.Unauthenticated("sign in to post")
	}
	if img.Body == nil {
		return nil, apperror.ValidationFailed("image", "Please select an image")
	}
	if err := storage.ValidateImage(img.ContentType, img.Size); err != nil {
		return nil, err
	}
	normalized, err := normalizeCaption(caption)
	if err != nil {
		return nil, err
	}

	key := storage.ObjectKey(userID, s.now(), img.Filename)
	body := &cappedReader{r: img.Body, remaining: storage.MaxImageSize}
	if err := s.images.Upload(ctx, s.bucket, key, body, img.ContentType); err != nil {
		return nil, fmt.Errorf("service/post: uploading image: %w", err)
	}

	post := &model.Post{
		UserID:   userID,
		ImageURL: s.images.PublicURL(s.bucket, key),
		ImageKey: key,
		Caption:  normalized,
	}
	if err := s.posts.InsertPost(ctx, post); err != nil {
		if delErr := s.images.Delete(context.WithoutCancel(ctx), s.bucket, key); delErr != nil {
			s.logger.Error("failed to remove image after insert failure",
				slog.String("key", key),
				slog.String("error", delErr.Error()),
			)
		}
		return nil, fmt.Errorf("service/post: inserting post: %w", err)
	}

	s.logger.Info("post created", slog.String("postID", post.ID), slog.String("userID", userID))
	s.publish(ctx, events.Event{Type: events.PostCreated, ActorID: userID, Subject: post.ID})
	return post, nil
}

// DeletePost removes the blob and then the row. Only the owner may delete.
// If the blob cannot be removed the row is kept and the error returned, so
// a post never outlives its image being reachable for deletion.
func (s *PostService) DeletePost(ctx context.Context, userID, postID string) error {
	if userID == "" {
		return apperror.Unauthenticated("sign in to delete posts")
	}
	post, err := s.posts.GetPost(ctx, postID)
	if err != nil {
		return err
	}
	if post.UserID != userID {
		return apperror.Forbidden("you can only delete your own posts")
	}

	key := post.ImageKey
	if key == "" {
		key, err = storage.KeyFromURL(s.bucket, post.ImageURL)
		if err != nil {
			return fmt.Errorf("service/post: resolving image key: %w", err)
		}
	}

	if err := s.images.Delete(ctx, s.bucket, key); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
		return fmt.Errorf("service/post: deleting image: %w", err)
	}
	if err := s.posts.DeletePost(ctx, postID, userID); err != nil {
		return err
	}

	s.logger.Info("post deleted", slog.String("postID", postID), slog.String("userID", userID))
	s.publish(ctx, events.Event{Type: events.PostDeleted, ActorID: userID, Subject: postID})
	return nil
}

// ToggleLike removes the viewer's like when currentlyLiked, otherwise adds
// it. The caller derives currentlyLiked from the list it last rendered.
func (s *PostService) ToggleLike(ctx context.Context, userID, postID string, currentlyLiked bool) error {
	if userID == "" {
		return apperror.Unauthenticated("sign in to like posts")
	}
	if err := s.posts.ToggleLike(ctx, postID, userID, currentlyLiked); err != nil {
		return err
	}
	s.publish(ctx, events.Event{
		Type:    events.LikeToggled,
		ActorID: userID,
		Subject: postID,
		Active:  events.Bool(!currentlyLiked),
	})
	return nil
}

func (s *PostService) publish(ctx context.Context, ev events.Event) {
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn("failed to publish change event",
			slog.String("type", string(ev.Type)),
			slog.String("error", err.Error()),
		)
	}
}

// normalizeCaption trims the caption; an empty result means "no caption".
func normalizeCaption(caption string) (*string, error) {
	trimmed := strings.TrimSpace(caption)
	if trimmed == "" {
		return nil, nil
	}
	if len([]rune(trimmed)) > MaxCaptionLength {
		return nil, apperror.ValidationFailed("caption",
			fmt.Sprintf("caption must be %d characters or fewer", MaxCaptionLength))
	}
	return &trimmed, nil
}

// cappedReader fails once more than remaining bytes have been read, which
// catches uploads whose declared size understated the body.
type cappedReader struct {
	r         io.Reader
	remaining int64
}

func (c *cappedReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.remaining -= int64(n)
	if c.remaining < 0 {
		return n, apperror.ValidationFailed("image", "Image must be less than 5MB")
	}
	return n, err
}
