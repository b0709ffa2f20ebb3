// Package storage is the blob store behind post images.
//
// HOW IT FITS:
// A post is created in two steps. The image bytes go to the Store first,
// under a key generated by ObjectKey; then the post row is inserted with the
// key and the public URL. The row is the commit: a blob nobody references is
// invisible, and the Sweeper eventually deletes it.
//
// PUBLIC URLS:
// Every object has a deterministic URL of the form
//
//	<base>/storage/v1/object/public/<bucket>/<key>
//
// which the HTTP layer serves read-only. KeyFromURL recovers the key from such
// a URL for rows stored before the key had its own column.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/sakif/ronin/internal/apperror"
)

// MaxImageSize is the largest accepted upload: 5 MiB.
const MaxImageSize = 5 << 20

// PublicPrefix is the URL path under which objects are served.
const PublicPrefix = "/storage/v1/object/public/"

// ErrObjectNotFound is returned by Open and Delete for unknown keys.
var ErrObjectNotFound = errors.New("object not found")

// ErrObjectExists is returned by Upload when the key is already taken.
var ErrObjectExists = errors.New("object already exists")

// Object describes a stored blob.
type Object struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// Store is the object-storage collaborator.
type Store interface {
	Upload(ctx context.Context, bucket, key string, r io.Reader, contentType string) error
	PublicURL(bucket, key string) string
	Delete(ctx context.Context, bucket, key string) error
	List(ctx context.Context, bucket string) ([]Object, error)
	Open(ctx context.Context, bucket, key string) (io.ReadSeekCloser, Object, error)
}

// ObjectKey builds the storage key for an upload: the owner's id as a folder,
// then the upload time in unix milliseconds and the file's extension.
// A filename without an extension gets "bin".
//
//	ObjectKey("u1", t, "cat.PNG") → "u1/1700000000000.PNG"
func ObjectKey(ownerID string, uploadedAt time.Time, filename string) string {
	ext := strings.TrimPrefix(path.Ext(filename), ".")
	if ext == "" {
		ext = "bin"
	}
	return ownerID + "/" + strconv.FormatInt(uploadedAt.UnixMilli(), 10) + "." + ext
}

// ValidateImage is the advisory check run before any upload: the content
// type must be an image type and the size at most MaxImageSize.
func ValidateImage(contentType string, size int64) error {
	if !strings.HasPrefix(contentType, "image/") {
		return apperror.ValidationFailed("image", "Please select an image file")
	}
	if size > MaxImageSize {
		return apperror.ValidationFailed("image", "Image must be less than 5MB")
	}
	return nil
}

// KeyFromURL extracts the object key from a public URL of bucket. URLs of any
// other shape are rejected.
func KeyFromURL(bucket, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("storage: parsing url: %w", err)
	}

	prefix := PublicPrefix + bucket + "/"
	i := strings.Index(u.Path, prefix)
	if i < 0 {
		return "", fmt.Errorf("storage: url %q is not a public url of bucket %q", rawURL, bucket)
	}
	key := u.Path[i+len(prefix):]
	if key == "" {
		return "", fmt.Errorf("storage: url %q has no object key", rawURL)
	}
	return key, nil
}

// validKey rejects keys that could escape the bucket.
func validKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("storage: invalid key %q", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("storage: invalid key %q", key)
		}
	}
	return nil
}
