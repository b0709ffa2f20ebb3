package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/ronin/internal/apperror"
)

func TestObjectKey(t *testing.T) {
	at := time.UnixMilli(1700000000123)

	tests := []struct {
		name     string
		filename string
		want     string
	}{
		{"png", "cat.png", "u1/1700000000123.png"},
		{"keeps case", "cat.JPG", "u1/1700000000123.JPG"},
		{"last dot wins", "archive.tar.gz", "u1/1700000000123.gz"},
		{"no extension", "README", "u1/1700000000123.bin"},
		{"trailing dot", "weird.", "u1/1700000000123.bin"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ObjectKey("u1", at, tt.filename))
		})
	}
}

func TestValidateImage(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		size        int64
		wantErr     bool
	}{
		{"png at limit", "image/png", MaxImageSize, false},
		{"small jpeg", "image/jpeg", 1024, false},
		{"six mebibytes", "image/png", 6 << 20, true},
		{"one byte over", "image/png", MaxImageSize + 1, true},
		{"pdf", "application/pdf", 10, true},
		{"empty type", "", 10, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateImage(tt.contentType, tt.size)
			if tt.wantErr {
				assert.True(t, errors.Is(err, apperror.ErrValidation), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestKeyFromURL(t *testing.T) {
	key, err := KeyFromURL("post-images", "https://cdn.example.com/storage/v1/object/public/post-images/u1/17.png")
	require.NoError(t, err)
	assert.Equal(t, "u1/17.png", key)

	_, err = KeyFromURL("post-images", "https://cdn.example.com/storage/v1/object/public/avatars/u1/17.png")
	assert.Error(t, err)

	_, err = KeyFromURL("post-images", "https://cdn.example.com/some/other/path.png")
	assert.Error(t, err)

	_, err = KeyFromURL("post-images", "https://cdn.example.com/storage/v1/object/public/post-images/")
	assert.Error(t, err)
}

func TestKeyFromURL_RoundTripsPublicURL(t *testing.T) {
	store, err := NewDiskStore(t.TempDir(), "http://localhost:8080/")
	require.NoError(t, err)

	url := store.PublicURL("post-images", "u1/17.png")
	assert.Equal(t, "http://localhost:8080/storage/v1/object/public/post-images/u1/17.png", url)

	key, err := KeyFromURL("post-images", url)
	require.NoError(t, err)
	assert.Equal(t, "u1/17.png", key)
}
