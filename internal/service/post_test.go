package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/ronin/internal/apperror"
	"github.com/sakif/ronin/internal/events"
	"github.com/sakif/ronin/internal/model"
	"github.com/sakif/ronin/internal/repository"
)

const testBucket = "post-images"

func newTestPostService(t *testing.T) (*PostService, *fakePostRepo, *fakeImageStore, *fakePublisher) {
	t.Helper()
	repo := newFakePostRepo()
	images := newFakeImageStore()
	pub := &fakePublisher{}
	svc := NewPostService(repo, images, testBucket, pub, discardLogger())
	svc.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return svc, repo, images, pub
}

func pngUpload(body string) ImageUpload {
	return ImageUpload{
		Filename:    "cat.png",
		ContentType: "image/png",
		Size:        int64(len(body)),
		Body:        strings.NewReader(body),
	}
}

func TestCreatePost_Success(t *testing.T) {
	svc, repo, images, pub := newTestPostService(t)

	post, err := svc.CreatePost(context.Background(), "u1", pngUpload("pixels"), "  golden hour  ")
	require.NoError(t, err)

	assert.Equal(t, "u1/1700000000000.png", post.ImageKey)
	assert.Equal(t, "http://localhost:8080/storage/v1/object/public/post-images/u1/1700000000000.png", post.ImageURL)
	require.NotNil(t, post.Caption)
	assert.Equal(t, "golden hour", *post.Caption)
	assert.True(t, images.has(testBucket, post.ImageKey))
	assert.Len(t, repo.posts, 1)

	require.Len(t, pub.events, 1)
	assert.Equal(t, events.PostCreated, pub.events[0].Type)
	assert.Equal(t, post.ID, pub.events[0].Subject)
}

func TestCreatePost_BlankCaptionIsNil(t *testing.T) {
	svc, repo, _, _ := newTestPostService(t)

	for _, caption := range []string{"", "   ", "\n\t"} {
		_, err := svc.CreatePost(context.Background(), "u1", pngUpload("x"), caption)
		require.NoError(t, err)
	}
	for _, p := range repo.posts {
		assert.Nil(t, p.Caption)
	}
}

func TestCreatePost_OversizedImageTouchesNothing(t *testing.T) {
	svc, repo, images, _ := newTestPostService(t)

	img := pngUpload("x")
	img.Size = 6 << 20

	_, err := svc.CreatePost(context.Background(), "u1", img, "")
	assert.True(t, errors.Is(err, apperror.ErrValidation))
	assert.Equal(t, 0, images.uploads)
	assert.Equal(t, 0, repo.calls)
}

func TestCreatePost_UnderstatedSizeRejected(t *testing.T) {
	svc, repo, _, _ := newTestPostService(t)

	img := pngUpload(strings.Repeat("x", 5<<20+10))
	img.Size = 10

	_, err := svc.CreatePost(context.Background(), "u1", img, "")
	assert.True(t, errors.Is(err, apperror.ErrValidation), "got %v", err)
	assert.Empty(t, repo.posts)
}

func TestCreatePost_NonImageRejected(t *testing.T) {
	svc, _, images, _ := newTestPostService(t)

	img := pngUpload("%PDF")
	img.ContentType = "application/pdf"

	_, err := svc.CreatePost(context.Background(), "u1", img, "")
	assert.True(t, errors.Is(err, apperror.ErrValidation))
	assert.Equal(t, 0, images.uploads)
}

func TestCreatePost_NoImage(t *testing.T) {
	svc, _, images, _ := newTestPostService(t)

	_, err := svc.CreatePost(context.Background(), "u1", ImageUpload{}, "caption")
	assert.True(t, errors.Is(err, apperror.ErrValidation))
	assert.Equal(t, 0, images.uploads)
}

func TestCreatePost_NoSession(t *testing.T) {
	svc, _, images, _ := newTestPostService(t)

	_, err := svc.CreatePost(context.Background(), "", pngUpload("x"), "")
	assert.True(t, errors.Is(err, apperror.ErrUnauthenticated))
	assert.Equal(t, 0, images.uploads)
}

func TestCreatePost_UploadFailureInsertsNothing(t *testing.T) {
	svc, repo, images, pub := newTestPostService(t)
	images.uploadErr = errors.New("bucket unavailable")

	_, err := svc.CreatePost(context.Background(), "u1", pngUpload("x"), "")
	assert.ErrorContains(t, err, "bucket unavailable")
	assert.Empty(t, repo.posts)
	assert.Empty(t, pub.events)
}

func TestCreatePost_InsertFailureRemovesBlob(t *testing.T) {
	svc, repo, images, pub := newTestPostService(t)
	repo.insertErr = errors.New("insert failed")

	_, err := svc.CreatePost(context.Background(), "u1", pngUpload("x"), "")
	assert.ErrorContains(t, err, "insert failed")
	assert.Equal(t, 0, images.count(), "compensating delete should remove the upload")
	assert.Equal(t, 1, images.deletes)
	assert.Empty(t, pub.events)
}

func TestDeletePost_RemovesBlobAndRow(t *testing.T) {
	svc, repo, images, pub := newTestPostService(t)
	ctx := context.Background()
	post, err := svc.CreatePost(ctx, "u1", pngUpload("x"), "")
	require.NoError(t, err)

	require.NoError(t, svc.DeletePost(ctx, "u1", post.ID))

	assert.Empty(t, repo.posts)
	assert.False(t, images.has(testBucket, post.ImageKey))
	assert.Equal(t, events.PostDeleted, pub.events[len(pub.events)-1].Type)
}

func TestDeletePost_LegacyRowUsesURL(t *testing.T) {
	svc, repo, images, _ := newTestPostService(t)
	ctx := context.Background()
	post, err := svc.CreatePost(ctx, "u1", pngUpload("x"), "")
	require.NoError(t, err)
	repo.posts[0].ImageKey = ""

	require.NoError(t, svc.DeletePost(ctx, "u1", post.ID))
	assert.Equal(t, 0, images.count())
}

func TestDeletePost_NotOwner(t *testing.T) {
	svc, repo, images, _ := newTestPostService(t)
	ctx := context.Background()
	post, err := svc.CreatePost(ctx, "owner", pngUpload("x"), "")
	require.NoError(t, err)

	err = svc.DeletePost(ctx, "intruder", post.ID)
	assert.True(t, errors.Is(err, apperror.ErrForbidden))
	assert.Len(t, repo.posts, 1)
	assert.Equal(t, 0, images.deletes)
}

func TestDeletePost_BlobFailureKeepsRow(t *testing.T) {
	svc, repo, images, _ := newTestPostService(t)
	ctx := context.Background()
	post, err := svc.CreatePost(ctx, "u1", pngUpload("x"), "")
	require.NoError(t, err)
	images.deleteErr = errors.New("storage down")

	err = svc.DeletePost(ctx, "u1", post.ID)
	assert.ErrorContains(t, err, "storage down")
	assert.Len(t, repo.posts, 1)
}

func TestDeletePost_MissingBlobStillDeletesRow(t *testing.T) {
	svc, repo, _, _ := newTestPostService(t)
	ctx := context.Background()
	repo.posts = append(repo.posts, &model.Post{ID: "p1", UserID: "u1", ImageKey: "u1/gone.png"})

	require.NoError(t, svc.DeletePost(ctx, "u1", "p1"))
	assert.Empty(t, repo.posts)
}

func TestDeletePost_NotFound(t *testing.T) {
	svc, _, _, _ := newTestPostService(t)

	err := svc.DeletePost(context.Background(), "u1", "missing")
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}

func TestToggleLike_SequenceEndsWhereItStarted(t *testing.T) {
	svc, repo, _, pub := newTestPostService(t)
	ctx := context.Background()
	post, err := svc.CreatePost(ctx, "author", pngUpload("x"), "")
	require.NoError(t, err)

	likeCount := func() int {
		feed, err := repo.ListFeed(ctx, repository.FeedOptions{})
		require.NoError(t, err)
		return len(feed[0].Likes)
	}

	for _, want := range []int{1, 0, 1, 0} {
		liked := likeCount() == 1
		require.NoError(t, svc.ToggleLike(ctx, "viewer", post.ID, liked))
		assert.Equal(t, want, likeCount())
	}

	last := pub.events[len(pub.events)-1]
	assert.Equal(t, events.LikeToggled, last.Type)
	require.NotNil(t, last.Active)
	assert.False(t, *last.Active)
}

func TestToggleLike_PublishFailureIsNotFatal(t *testing.T) {
	svc, _, _, pub := newTestPostService(t)
	pub.err = errors.New("broker down")

	assert.NoError(t, svc.ToggleLike(context.Background(), "u1", "p1", false))
}

func TestNormalizeCaption_TooLong(t *testing.T) {
	_, err := normalizeCaption(strings.Repeat("a", MaxCaptionLength+1))
	assert.True(t, errors.Is(err, apperror.ErrValidation))

	c, err := normalizeCaption(strings.Repeat("a", MaxCaptionLength))
	require.NoError(t, err)
	assert.Len(t, *c, MaxCaptionLength)
}
