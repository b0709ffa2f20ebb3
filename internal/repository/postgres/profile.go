package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/xid"

	"github.com/sakif/ronin/internal/apperror"
	"github.com/sakif/ronin/internal/model"
)

const profileColumns = `id, handle, display_name, avatar_url, bio, created_at`

func (db *DB) getProfile(ctx context.Context, column, value string) (*model.Profile, error) {
	var p model.Profile
	err := db.pool.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE `+column+` = $1`, value,
	).Scan(&p.ID, &p.Handle, &p.DisplayName, &p.AvatarURL, &p.Bio, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NotFound("profile", value)
		}
		return nil, fmt.Errorf("postgres: getting profile %s: %w", value, err)
	}
	return &p, nil
}

func (db *DB) GetProfileByHandle(ctx context.Context, handle string) (*model.Profile, error) {
	return db.getProfile(ctx, "handle", handle)
}

func (db *DB) GetProfileByID(ctx context.Context, id string) (*model.Profile, error) {
	return db.getProfile(ctx, "id", id)
}

// CreateAccount writes the profile and account rows in one transaction.
func (db *DB) CreateAccount(ctx context.Context, account *model.Account, profile *model.Profile) error {
	created := now()
	profile.ID = xid.New().String()
	profile.CreatedAt = created
	account.ProfileID = profile.ID
	account.CreatedAt = created

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: beginning account tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO profiles (`+profileColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		profile.ID, profile.Handle, profile.DisplayName, profile.AvatarURL, profile.Bio, profile.CreatedAt,
	); err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("profile", profile.Handle)
		}
		return fmt.Errorf("postgres: inserting profile %s: %w", profile.Handle, err)
	}

	var email *string
	if account.Email != "" {
		email = &account.Email
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO accounts (profile_id, email, password_hash, github_id, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		account.ProfileID, email, account.PasswordHash, account.GitHubID, account.CreatedAt,
	); err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("account", account.Email)
		}
		return fmt.Errorf("postgres: inserting account: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: committing account tx: %w", err)
	}
	return nil
}

func (db *DB) GetAccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	var (
		a    model.Account
		mail *string
	)
	err := db.pool.QueryRow(ctx,
		`SELECT profile_id, email, password_hash, github_id, created_at
		 FROM accounts WHERE email = $1`, email,
	).Scan(&a.ProfileID, &mail, &a.PasswordHash, &a.GitHubID, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NotFound("account", email)
		}
		return nil, fmt.Errorf("postgres: getting account: %w", err)
	}
	if mail != nil {
		a.Email = *mail
	}
	return &a, nil
}

func (db *DB) UpsertGitHubAccount(ctx context.Context, githubID int64, login, email string, avatarURL *string) (*model.Profile, error) {
	var profileID string
	err := db.pool.QueryRow(ctx,
		`SELECT profile_id FROM accounts WHERE github_id = $1`, githubID,
	).Scan(&profileID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres: looking up account by github_id %d: %w", githubID, err)
	}

	if profileID != "" {
		if _, err := db.pool.Exec(ctx,
			`UPDATE profiles SET avatar_url = $1 WHERE id = $2`, avatarURL, profileID,
		); err != nil {
			return nil, fmt.Errorf("postgres: updating profile %s: %w", profileID, err)
		}
		return db.GetProfileByID(ctx, profileID)
	}

	profile := &model.Profile{Handle: login, AvatarURL: avatarURL}
	account := &model.Account{Email: email, GitHubID: &githubID}
	if err := db.CreateAccount(ctx, account, profile); err != nil {
		return nil, err
	}
	return profile, nil
}
