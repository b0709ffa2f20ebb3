package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/ronin/internal/apperror"
	"github.com/sakif/ronin/internal/auth"
	"github.com/sakif/ronin/internal/model"
	"github.com/sakif/ronin/internal/service"
)

const (
	stateCookie   = "oauth_state"
	afterSignIn   = "/feed"
	signInFailed  = "/auth?error=github"
	stateLifetime = 10 * time.Minute
)

// AuthHandler serves the auth entry routes: email sign-up and login, GitHub
// sign-in, refresh, logout and the current profile.
type AuthHandler struct {
	auth   *service.AuthService
	github *auth.GitHubProvider // nil when GitHub sign-in is not configured
	logger *slog.Logger
}

func NewAuthHandler(authService *service.AuthService, github *auth.GitHubProvider, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{auth: authService, github: github, logger: logger}
}

type signUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Handle   string `json:"handle"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse is returned by every route that starts a session. Token is
// the same value as the cookie, for clients that send a bearer header.
type AuthResponse struct {
	Profile   *model.Profile `json:"profile,omitempty"`
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expiresAt"`
}

// HandleSignUp creates an account and signs it in.
//
// HTTP: POST /auth/signup {"email","password","handle"}
func (h *AuthHandler) HandleSignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.auth.SignUp(r.Context(), req.Email, req.Password, req.Handle)
	if err != nil {
		h.logFailure(r.Context(), "sign-up failed", err)
		writeError(w, err)
		return
	}

	auth.SetTokenCookie(w, r, res.Session.Token, res.Session.ExpiresAt)
	writeJSON(w, http.StatusCreated, AuthResponse{
		Profile:   res.Profile,
		Token:     res.Session.Token,
		ExpiresAt: res.Session.ExpiresAt,
	})
}

// HandleLogin signs in with email and password.
//
// HTTP: POST /auth/login {"email","password"}
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.logFailure(r.Context(), "login failed", err)
		writeError(w, err)
		return
	}

	auth.SetTokenCookie(w, r, res.Session.Token, res.Session.ExpiresAt)
	writeJSON(w, http.StatusOK, AuthResponse{
		Profile:   res.Profile,
		Token:     res.Session.Token,
		ExpiresAt: res.Session.ExpiresAt,
	})
}

// HandleRefresh swaps the request's token for a new one.
//
// HTTP: POST /auth/refresh
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	sess, err := h.auth.Refresh(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	auth.SetTokenCookie(w, r, sess.Token, sess.ExpiresAt)
	writeJSON(w, http.StatusOK, AuthResponse{Token: sess.Token, ExpiresAt: sess.ExpiresAt})
}

// HandleLogout revokes the token and clears the cookie. It succeeds without
// a session too.
//
// HTTP: POST /auth/logout
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	h.auth.SignOut(r.Context())
	auth.ClearTokenCookie(w)
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// HandleMe returns the signed-in profile.
//
// HTTP: GET /api/me
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	profile, err := h.auth.Me(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// HandleGitHubLogin redirects to GitHub's consent page. The state value is
// kept in a short-lived HttpOnly cookie and checked on callback.
//
// HTTP: GET /auth/github/login
func (h *AuthHandler) HandleGitHubLogin(w http.ResponseWriter, r *http.Request) {
	if h.github == nil {
		writeError(w, apperror.NotFound("auth provider", "github"))
		return
	}

	state := xid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   int(stateLifetime.Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.github.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleGitHubCallback completes GitHub sign-in.
//
// HTTP: GET /auth/github/callback?code=...&state=...
//
// FLOW:
//  1. Check state against the cookie
//  2. Exchange the code for the GitHub user
//  3. Find or create the linked profile
//  4. Issue the session cookie and go to the feed
func (h *AuthHandler) HandleGitHubCallback(w http.ResponseWriter, r *http.Request) {
	if h.github == nil {
		writeError(w, apperror.NotFound("auth provider", "github"))
		return
	}

	c, err := r.Cookie(stateCookie)
	if err != nil || c.Value == "" || r.URL.Query().Get("state") != c.Value {
		h.logger.Warn("auth callback: state mismatch")
		writeError(w, apperror.ValidationFailed("state", "invalid OAuth state"))
		return
	}
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Value: "", Path: "/", MaxAge: -1})

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Info("auth callback: user denied authorization", slog.String("error", errParam))
		http.Redirect(w, r, "/auth?error=denied", http.StatusSeeOther)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, apperror.ValidationFailed("code", "missing OAuth code"))
		return
	}

	ghUser, err := h.github.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("auth callback: GitHub exchange failed", slog.String("error", err.Error()))
		http.Redirect(w, r, signInFailed, http.StatusSeeOther)
		return
	}

	res, err := h.auth.LoginOrRegisterGitHub(r.Context(), ghUser)
	if err != nil {
		h.logger.Error("auth callback: sign-in failed",
			slog.Int64("githubID", ghUser.ID),
			slog.String("error", err.Error()),
		)
		http.Redirect(w, r, signInFailed, http.StatusSeeOther)
		return
	}

	auth.SetTokenCookie(w, r, res.Session.Token, res.Session.ExpiresAt)
	http.Redirect(w, r, afterSignIn, http.StatusSeeOther)
}

// logFailure logs client mistakes at Info and everything else at Error.
func (h *AuthHandler) logFailure(ctx context.Context, msg string, err error) {
	status, _ := errorResponse(err)
	level := slog.LevelError
	if status < http.StatusInternalServerError {
		level = slog.LevelInfo
	}
	h.logger.Log(ctx, level, msg, slog.String("error", err.Error()))
}
