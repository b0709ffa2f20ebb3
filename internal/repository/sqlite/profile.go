package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/ronin/internal/apperror"
	"github.com/sakif/ronin/internal/model"
)

const profileColumns = `id, handle, display_name, avatar_url, bio, created_at`

func scanProfile(row *sql.Row, p *model.Profile) error {
	var displayName, avatar, bio sql.NullString
	if err := row.Scan(&p.ID, &p.Handle, &displayName, &avatar, &bio, &p.CreatedAt); err != nil {
		return err
	}
	p.DisplayName = optional(displayName)
	p.AvatarURL = optional(avatar)
	p.Bio = optional(bio)
	return nil
}

// GetProfileByHandle resolves the public routing key. Returns
// apperror.ErrNotFound when no profile has that handle.
func (db *DB) GetProfileByHandle(ctx context.Context, handle string) (*model.Profile, error) {
	var p model.Profile
	err := scanProfile(db.conn.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE handle = ?`, handle,
	), &p)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("profile", handle)
		}
		return nil, fmt.Errorf("sqlite: getting profile %s: %w", handle, err)
	}
	return &p, nil
}

func (db *DB) GetProfileByID(ctx context.Context, id string) (*model.Profile, error) {
	var p model.Profile
	err := scanProfile(db.conn.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE id = ?`, id,
	), &p)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("profile", id)
		}
		return nil, fmt.Errorf("sqlite: getting profile %s: %w", id, err)
	}
	return &p, nil
}

// CreateAccount inserts a profile and its account in one transaction, so a
// profile never exists without credentials. The profile gets a fresh xid that
// the account shares.
func (db *DB) CreateAccount(ctx context.Context, account *model.Account, profile *model.Profile) error {
	now := time.Now().UTC()
	profile.ID = xid.New().String()
	profile.CreatedAt = now
	account.ProfileID = profile.ID
	account.CreatedAt = now

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning account tx: %w", err)
	}
	defer tx.Rollback()

	if err := insertProfile(ctx, tx, profile); err != nil {
		return err
	}

	var email sql.NullString
	if account.Email != "" {
		email = sql.NullString{String: account.Email, Valid: true}
	}
	var githubID sql.NullInt64
	if account.GitHubID != nil {
		githubID = sql.NullInt64{Int64: *account.GitHubID, Valid: true}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO accounts (profile_id, email, password_hash, github_id, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		account.ProfileID, email, account.PasswordHash, githubID, account.CreatedAt,
	); err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("account", account.Email)
		}
		return fmt.Errorf("sqlite: inserting account: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing account tx: %w", err)
	}
	return nil
}

func insertProfile(ctx context.Context, tx *sql.Tx, p *model.Profile) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO profiles (`+profileColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.Handle, nullable(p.DisplayName), nullable(p.AvatarURL), nullable(p.Bio), p.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("profile", p.Handle)
		}
		return fmt.Errorf("sqlite: inserting profile %s: %w", p.Handle, err)
	}
	return nil
}

// GetAccountByEmail returns apperror.ErrNotFound when no account uses email.
func (db *DB) GetAccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	var (
		a        model.Account
		mail     sql.NullString
		githubID sql.NullInt64
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT profile_id, email, password_hash, github_id, created_at
		 FROM accounts WHERE email = ?`, email,
	).Scan(&a.ProfileID, &mail, &a.PasswordHash, &githubID, &a.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("account", email)
		}
		return nil, fmt.Errorf("sqlite: getting account: %w", err)
	}
	a.Email = mail.String
	if githubID.Valid {
		id := githubID.Int64
		a.GitHubID = &id
	}
	return &a, nil
}

// UpsertGitHubAccount returns the profile linked to githubID. On first
// sign-in it creates the account and a profile whose handle is the GitHub
// login. The profile's avatar is refreshed on every sign-in.
func (db *DB) UpsertGitHubAccount(ctx context.Context, githubID int64, login, email string, avatarURL *string) (*model.Profile, error) {
	var profileID string
	err := db.conn.QueryRowContext(ctx,
		`SELECT profile_id FROM accounts WHERE github_id = ?`, githubID,
	).Scan(&profileID)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("sqlite: looking up account by github_id %d: %w", githubID, err)
	}

	if profileID != "" {
		if _, err := db.conn.ExecContext(ctx,
			`UPDATE profiles SET avatar_url = ? WHERE id = ?`,
			nullable(avatarURL), profileID,
		); err != nil {
			return nil, fmt.Errorf("sqlite: updating profile %s: %w", profileID, err)
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
