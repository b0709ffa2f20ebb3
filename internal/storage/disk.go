package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var _ Store = (*DiskStore)(nil)

// DiskStore keeps objects as files under root/<bucket>/<key>.
type DiskStore struct {
	root    string
	baseURL string
}

// NewDiskStore creates root if needed. baseURL is the externally visible
// origin of the HTTP server, e.g. "http://localhost:8080".
func NewDiskStore(root, baseURL string) (*DiskStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("storage: creating root %s: %w", root, err)
	}
	return &DiskStore{root: root, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (s *DiskStore) path(bucket, key string) (string, error) {
	if err := validKey(bucket); err != nil || strings.Contains(bucket, "/") {
		return "", fmt.Errorf("storage: invalid bucket %q", bucket)
	}
	if err := validKey(key); err != nil {
		return "", err
	}
	return filepath.Join(s.root, bucket, filepath.FromSlash(key)), nil
}

// Upload writes to a temporary file and hard-links it into place, so readers
// never observe a partial object. The link fails when the key exists, so an
// existing object is never overwritten, even by a concurrent upload.
func (s *DiskStore) Upload(ctx context.Context, bucket, key string, r io.Reader, contentType string) error {
	dst, err := s.path(bucket, key)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dst); err == nil {
		return fmt.Errorf("storage: uploading %s/%s: %w", bucket, key, ErrObjectExists)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("storage: creating folder: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return fmt.Errorf("storage: creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, readerWithContext(ctx, r)); err != nil {
		tmp.Close()
		return fmt.Errorf("storage: writing %s/%s: %w", bucket, key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: closing %s/%s: %w", bucket, key, err)
	}
	if err := os.Link(tmp.Name(), dst); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("storage: uploading %s/%s: %w", bucket, key, ErrObjectExists)
		}
		return fmt.Errorf("storage: committing %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (s *DiskStore) PublicURL(bucket, key string) string {
	return s.baseURL + PublicPrefix + bucket + "/" + key
}

// Delete removes the object. Folders left empty are kept.
func (s *DiskStore) Delete(ctx context.Context, bucket, key string) error {
	p, err := s.path(bucket, key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("storage: deleting %s/%s: %w", bucket, key, ErrObjectNotFound)
		}
		return fmt.Errorf("storage: deleting %s/%s: %w", bucket, key, err)
	}
	return nil
}

// List walks the bucket. Temporary upload files are skipped.
func (s *DiskStore) List(ctx context.Context, bucket string) ([]Object, error) {
	dir := filepath.Join(s.root, bucket)
	objects := make([]Object, 0)

	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && p == dir {
				return fs.SkipDir
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		objects = append(objects, Object{
			Key:     filepath.ToSlash(rel),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: listing %s: %w", bucket, err)
	}
	return objects, nil
}

func (s *DiskStore) Open(ctx context.Context, bucket, key string) (io.ReadSeekCloser, Object, error) {
	p, err := s.path(bucket, key)
	if err != nil {
		return nil, Object{}, ErrObjectNotFound
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, Object{}, ErrObjectNotFound
		}
		return nil, Object{}, fmt.Errorf("storage: opening %s/%s: %w", bucket, key, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, Object{}, fmt.Errorf("storage: stat %s/%s: %w", bucket, key, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, Object{}, ErrObjectNotFound
	}
	return f, Object{Key: key, Size: info.Size(), ModTime: info.ModTime()}, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
