package handler

// RESPONSE HELPERS:
// Every handler answers through writeJSON or writeError so the API has one
// success shape per route and one error shape everywhere:
//
//	{"error": "not_found", "message": "profile not found with id ghost", "redirect": "/feed"}
//
// "redirect" is set when the client should navigate away: to "/auth" when
// there is no session, to "/feed" when a profile does not exist.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/ronin/internal/apperror"
	"github.com/sakif/ronin/internal/feed"
)

// maxJSONBody bounds JSON request bodies.
const maxJSONBody = 1 << 20

type ErrorResponse struct {
	Error    string `json:"error"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
	Redirect string `json:"redirect,omitempty"`
}

// writeJSON sets headers, then the status, then the body. Headers changed
// after the first write are ignored by net/http.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// errorResponse maps a domain error to a status and body. errors.As and
// errors.Is walk the whole wrap chain, so a store error wrapped by the
// service layer still maps by its sentinel.
func errorResponse(err error) (int, ErrorResponse) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		// Unknown errors can carry SQL or file paths; never echo them.
		return http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "An internal error occurred",
		}
	}

	resp := ErrorResponse{Error: "internal_error", Message: appErr.Message, Field: appErr.Field}
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperror.ErrValidation):
		status, resp.Error = http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperror.ErrUnauthenticated):
		status, resp.Error = http.StatusUnauthorized, "unauthenticated"
		resp.Redirect = feed.AuthRoute
	case errors.Is(err, apperror.ErrForbidden):
		status, resp.Error = http.StatusForbidden, "forbidden"
	case errors.Is(err, apperror.ErrNotFound):
		status, resp.Error = http.StatusNotFound, "not_found"
	case errors.Is(err, apperror.ErrConflict):
		status, resp.Error = http.StatusConflict, "conflict"
	}
	return status, resp
}

func writeError(w http.ResponseWriter, err error) {
	status, resp := errorResponse(err)
	writeJSON(w, status, resp)
}

// writeScreenError is writeError for screen operations: the message is the
// notice the screen recorded for the failure, when it recorded one.
func writeScreenError(w http.ResponseWriter, err error, notices []feed.Notice, redirect string) {
	status, resp := errorResponse(err)
	if n := len(notices); n > 0 && notices[n-1].Level == feed.LevelError {
		resp.Message = notices[n-1].Message
	}
	if redirect != "" {
		resp.Redirect = redirect
	}
	writeJSON(w, status, resp)
}

// decodeJSON reads a bounded JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperror.ValidationFailed("body", "Invalid JSON body")
	}
	return nil
}
