package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/sakif/ronin/internal/apperror"
	"github.com/sakif/ronin/internal/model"
)

func (db *DB) CountFollowers(ctx context.Context, profileID string) (int, error) {
	var n int
	if err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM follows WHERE following_id = $1`, profileID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: counting followers of %s: %w", profileID, err)
	}
	return n, nil
}

func (db *DB) CountFollowing(ctx context.Context, profileID string) (int, error) {
	var n int
	if err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM follows WHERE follower_id = $1`, profileID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: counting following of %s: %w", profileID, err)
	}
	return n, nil
}

func (db *DB) GetFollowRelationship(ctx context.Context, followerID, followeeID string) (*model.Follow, error) {
	var f model.Follow
	err := db.pool.QueryRow(ctx,
		`SELECT follower_id, following_id, created_at FROM follows
		 WHERE follower_id = $1 AND following_id = $2`,
		followerID, followeeID,
	).Scan(&f.FollowerID, &f.FollowingID, &f.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: getting follow %s->%s: %w", followerID, followeeID, err)
	}
	return &f, nil
}

func (db *DB) ToggleFollow(ctx context.Context, followerID, followeeID string, currentlyFollowing bool) error {
	if followerID == followeeID {
		return apperror.ValidationFailed("following_id", "you cannot follow yourself")
	}

	if currentlyFollowing {
		if _, err := db.pool.Exec(ctx,
			`DELETE FROM follows WHERE follower_id = $1 AND following_id = $2`,
			followerID, followeeID,
		); err != nil {
			return fmt.Errorf("postgres: unfollowing %s: %w", followeeID, err)
		}
		return nil
	}

	tag, err := db.pool.Exec(ctx,
		`INSERT INTO follows (follower_id, following_id, created_at)
		 SELECT $1, id, $3 FROM profiles WHERE id = $2
		 ON CONFLICT (follower_id, following_id) DO NOTHING`,
		followerID, followeeID, now(),
	)
	if err != nil {
		return fmt.Errorf("postgres: following %s: %w", followeeID, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := db.GetProfileByID(ctx, followeeID); err != nil {
			return err
		}
	}
	return nil
}
