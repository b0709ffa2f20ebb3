package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/ronin/internal/apperror"
	"github.com/sakif/ronin/internal/storage"
)

// StorageHandler serves uploaded images read-only at their public URLs.
type StorageHandler struct {
	store  storage.Store
	bucket string
	logger *slog.Logger
}

// NewStorageHandler serves objects from bucket only; other directories
// under the storage root are not reachable.
func NewStorageHandler(store storage.Store, bucket string, logger *slog.Logger) *StorageHandler {
	return &StorageHandler{store: store, bucket: bucket, logger: logger}
}

// HandleObject streams one object. Range and conditional requests are
// handled by http.ServeContent.
//
// HTTP: GET /storage/v1/object/public/{bucket}/*
func (h *StorageHandler) HandleObject(w http.ResponseWriter, r *http.Request) {
	bucket := chi.URLParam(r, "bucket")
	key := chi.URLParam(r, "*")
	if bucket != h.bucket {
		writeError(w, apperror.NotFound("object", key))
		return
	}

	rc, obj, err := h.store.Open(r.Context(), bucket, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			writeError(w, apperror.NotFound("object", key))
			return
		}
		h.logger.Error("failed to open object",
			slog.String("bucket", bucket),
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		writeError(w, err)
		return
	}
	defer rc.Close()

	// Keys embed the upload time and are never overwritten.
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	http.ServeContent(w, r, path.Base(key), obj.ModTime, rc)
}
