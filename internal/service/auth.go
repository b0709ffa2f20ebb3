package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"regexp"
	"strings"

	"github.com/sakif/ronin/internal/apperror"
	"github.com/sakif/ronin/internal/auth"
	"github.com/sakif/ronin/internal/model"
	"github.com/sakif/ronin/internal/repository"
	"github.com/sakif/ronin/internal/session"
)

var handlePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{2,39}$`)

// AuthService signs users up and in. Every successful path ends with a
// session issued by the session provider.
type AuthService struct {
	accounts  repository.AccountRepository
	profiles  repository.ProfileRepository
	sessions  *session.Provider
	passwords *auth.PasswordService
	logger    *slog.Logger
}

func NewAuthService(
	accounts repository.AccountRepository,
	profiles repository.ProfileRepository,
	sessions *session.Provider,
	passwords *auth.PasswordService,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		accounts:  accounts,
		profiles:  profiles,
		sessions:  sessions,
		passwords: passwords,
		logger:    logger,
	}
}

// AuthResult bundles the signed-in profile with its session so the handler
// can set the cookie and respond in one step.
type AuthResult struct {
	Profile *model.Profile
	Session *session.Session
}

// SignUp creates an email/password account and its profile, then signs in.
func (s *AuthService) SignUp(ctx context.Context, email, password, handle string) (*AuthResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	handle = strings.TrimSpace(handle)

	if _, err := mail.ParseAddress(email); err != nil {
		return nil, apperror.ValidationFailed("email", "a valid email address is required")
	}
	if !handlePattern.MatchString(handle) {
		return nil, apperror.ValidationFailed("handle", "handle must be 2-39 letters, digits, '-' or '_'")
	}
	if err := auth.CheckPasswordPolicy(password); err != nil {
		return nil, err
	}

	hash, err := s.passwords.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("service/auth: %w", err)
	}

	profile := &model.Profile{Handle: handle}
	account := &model.Account{Email: email, PasswordHash: hash}
	if err := s.accounts.CreateAccount(ctx, account, profile); err != nil {
		return nil, err
	}

	s.logger.Info("account created", slog.String("userID", profile.ID), slog.String("handle", handle))
	return s.start(profile)
}

// Login checks an email/password pair. Unknown email and wrong password
// produce the same error.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	invalid := apperror.Unauthenticated("invalid email or password")

	account, err := s.accounts.GetAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, invalid
		}
		return nil, fmt.Errorf("service/auth: loading account: %w", err)
	}
	if err := s.passwords.Verify(account.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrInvalidPassword) {
			return nil, invalid
		}
		return nil, fmt.Errorf("service/auth: %w", err)
	}

	profile, err := s.profiles.GetProfileByID(ctx, account.ProfileID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: loading profile %s: %w", account.ProfileID, err)
	}
	return s.start(profile)
}

// LoginOrRegisterGitHub signs in the profile linked to a GitHub account,
// creating it on first sign-in.
func (s *AuthService) LoginOrRegisterGitHub(ctx context.Context, ghUser *auth.GitHubUser) (*AuthResult, error) {
	if ghUser == nil {
		return nil, errors.New("service/auth: GitHub user must not be nil")
	}
	var avatar *string
	if ghUser.AvatarURL != "" {
		avatar = &ghUser.AvatarURL
	}

	profile, err := s.accounts.UpsertGitHubAccount(ctx, ghUser.ID, ghUser.Login, strings.ToLower(ghUser.Email), avatar)
	if err != nil {
		return nil, fmt.Errorf("service/auth: upserting github account %d: %w", ghUser.ID, err)
	}

	s.logger.Info("user authenticated via GitHub",
		slog.String("userID", profile.ID),
		slog.String("login", ghUser.Login),
	)
	return s.start(profile)
}

// Me returns the profile behind the request's session.
func (s *AuthService) Me(ctx context.Context) (*model.Profile, error) {
	sess, err := s.sessions.Current(ctx)
	if err != nil {
		return nil, err
	}
	return s.profiles.GetProfileByID(ctx, sess.UserID)
}

// Refresh exchanges the request's session for a fresh one.
func (s *AuthService) Refresh(ctx context.Context) (*session.Session, error) {
	sess, err := s.sessions.Current(ctx)
	if err != nil {
		return nil, err
	}
	return s.sessions.Refresh(sess)
}

// SignOut ends the request's session. Without one it does nothing.
func (s *AuthService) SignOut(ctx context.Context) {
	if sess, err := s.sessions.Current(ctx); err == nil {
		s.sessions.SignOut(sess)
	}
}

func (s *AuthService) start(profile *model.Profile) (*AuthResult, error) {
	sess, err := s.sessions.Issue(profile.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: %w", err)
	}
	return &AuthResult{Profile: profile, Session: sess}, nil
}
