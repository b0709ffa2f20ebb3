package feed

import (
	"context"
	"io"

	"github.com/sakif/ronin/internal/apperror"
	"github.com/sakif/ronin/internal/service"
	"github.com/sakif/ronin/internal/storage"
)

// ImageFile is a file the user picked for a new post.
type ImageFile struct {
	Filename    string
	ContentType string
	Size        int64
	Data        io.Reader
}

type composerState struct {
	image     *ImageFile
	caption   string
	uploading bool
}

// Composer is the new-post form attached to a Screen.
type Composer struct {
	screen *Screen
}

func (s *Screen) Composer() *Composer {
	return &Composer{screen: s}
}

// SelectImage checks the file's type and size before anything leaves the
// process. A rejected file leaves the form as it was and adds one notice.
func (c *Composer) SelectImage(f ImageFile) error {
	if err := storage.ValidateImage(f.ContentType, f.Size); err != nil {
		c.screen.fail("image rejected", "Invalid image", err)
		return err
	}

	c.screen.mu.Lock()
	defer c.screen.mu.Unlock()
	c.screen.composer.image = &f
	return nil
}

func (c *Composer) ClearImage() {
	c.screen.mu.Lock()
	defer c.screen.mu.Unlock()
	c.screen.composer.image = nil
}

func (c *Composer) SetCaption(caption string) {
	c.screen.mu.Lock()
	defer c.screen.mu.Unlock()
	c.screen.composer.caption = caption
}

// Submit uploads the selected image and inserts the post. On success the
// form is cleared and the feed reloaded; on failure the form is kept.
func (c *Composer) Submit(ctx context.Context) error {
	s := c.screen

	s.mu.Lock()
	img := s.composer.image
	caption := s.composer.caption
	busy := s.composer.uploading
	s.mu.Unlock()

	if busy {
		return nil
	}
	if img == nil {
		err := apperror.ValidationFailed("image", "Please select an image")
		s.fail("submit without image", "Please select an image", err)
		return err
	}

	sess, err := s.requireSession(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.composer.uploading = true
	s.mu.Unlock()

	_, err = s.posts.CreatePost(ctx, sess.UserID, service.ImageUpload{
		Filename:    img.Filename,
		ContentType: img.ContentType,
		Size:        img.Size,
		Body:        img.Data,
	}, caption)

	s.mu.Lock()
	s.composer.uploading = false
	if err == nil {
		s.composer = composerState{}
	}
	s.mu.Unlock()

	if err != nil {
		s.fail("failed to create post", "Failed to create post", err)
		return err
	}

	s.notify(LevelSuccess, "Post created!")
	return s.Reload(ctx)
}
