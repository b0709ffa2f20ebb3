package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sakif/ronin/internal/apperror"
	"github.com/sakif/ronin/internal/model"
)

// CountFollowers counts rows whose following_id is profileID. No rows are
// materialised.
func (db *DB) CountFollowers(ctx context.Context, profileID string) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM follows WHERE following_id = ?`, profileID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: counting followers of %s: %w", profileID, err)
	}
	return n, nil
}

// CountFollowing counts rows whose follower_id is profileID.
func (db *DB) CountFollowing(ctx context.Context, profileID string) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM follows WHERE follower_id = ?`, profileID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: counting following of %s: %w", profileID, err)
	}
	return n, nil
}

// GetFollowRelationship returns the follow row, or (nil, nil) when
// followerID does not follow followeeID.
func (db *DB) GetFollowRelationship(ctx context.Context, followerID, followeeID string) (*model.Follow, error) {
	var f model.Follow
	err := db.conn.QueryRowContext(ctx,
		`SELECT follower_id, following_id, created_at FROM follows
		 WHERE follower_id = ? AND following_id = ?`,
		followerID, followeeID,
	).Scan(&f.FollowerID, &f.FollowingID, &f.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite: getting follow %s->%s: %w", followerID, followeeID, err)
	}
	return &f, nil
}

// ToggleFollow is the follow counterpart of ToggleLike. Following yourself is
// rejected before the store is touched; the table's CHECK constraint backs
// that up.
func (db *DB) ToggleFollow(ctx context.Context, followerID, followeeID string, currentlyFollowing bool) error {
	if followerID == followeeID {
		return apperror.ValidationFailed("following_id", "you cannot follow yourself")
	}

	if currentlyFollowing {
		if _, err := db.conn.ExecContext(ctx,
			`DELETE FROM follows WHERE follower_id = ? AND following_id = ?`,
			followerID, followeeID,
		); err != nil {
			return fmt.Errorf("sqlite: unfollowing %s: %w", followeeID, err)
		}
		return nil
	}

	var exists int
	err := db.conn.QueryRowContext(ctx, `SELECT 1 FROM profiles WHERE id = ?`, followeeID).Scan(&exists)
	if err != nil {
		if err == sql.ErrNoRows {
			return apperror.NotFound("profile", followeeID)
		}
		return fmt.Errorf("sqlite: checking profile %s: %w", followeeID, err)
	}

	if _, err := db.conn.ExecContext(ctx,
		`INSERT INTO follows (follower_id, following_id, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (follower_id, following_id) DO NOTHING`,
		followerID, followeeID, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("sqlite: following %s: %w", followeeID, err)
	}
	return nil
}
