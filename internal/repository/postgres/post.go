package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/xid"

	"github.com/sakif/ronin/internal/apperror"
	"github.com/sakif/ronin/internal/model"
	"github.com/sakif/ronin/internal/repository"
)

func (db *DB) ListFeed(ctx context.Context, opts repository.FeedOptions) ([]model.FeedPost, error) {
	query := `SELECT p.id, p.user_id, p.image_url, p.image_key, p.caption, p.created_at,
		         pr.handle, pr.avatar_url
		  FROM posts p
		  JOIN profiles pr ON pr.id = p.user_id`
	var args []any
	if opts.Before != nil {
		query += ` WHERE (p.created_at, p.id) < ($1, $2)`
		args = append(args, opts.Before.CreatedAt, opts.Before.ID)
	}
	query += ` ORDER BY p.created_at DESC, p.id DESC`
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: listing feed: %w", err)
	}
	defer rows.Close()

	posts := make([]model.FeedPost, 0)
	index := make(map[string]int)
	ids := make([]string, 0)
	for rows.Next() {
		var fp model.FeedPost
		if err := rows.Scan(
			&fp.ID, &fp.UserID, &fp.ImageURL, &fp.ImageKey, &fp.Caption, &fp.CreatedAt,
			&fp.Author.Handle, &fp.Author.AvatarURL,
		); err != nil {
			return nil, fmt.Errorf("postgres: scanning feed row: %w", err)
		}
		fp.Likes = []model.Like{}
		index[fp.ID] = len(posts)
		ids = append(ids, fp.ID)
		posts = append(posts, fp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterating feed: %w", err)
	}
	if len(posts) == 0 {
		return posts, nil
	}

	likeRows, err := db.pool.Query(ctx,
		`SELECT post_id, user_id FROM likes WHERE post_id = ANY($1) ORDER BY created_at`, ids,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: listing likes: %w", err)
	}
	defer likeRows.Close()

	for likeRows.Next() {
		var l model.Like
		if err := likeRows.Scan(&l.PostID, &l.UserID); err != nil {
			return nil, fmt.Errorf("postgres: scanning like row: %w", err)
		}
		if i, ok := index[l.PostID]; ok {
			posts[i].Likes = append(posts[i].Likes, l)
		}
	}
	if err := likeRows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterating likes: %w", err)
	}
	return posts, nil
}

func (db *DB) ListByProfile(ctx context.Context, profileID string) ([]model.PostSummary, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, image_url, caption FROM posts
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC`,
		profileID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: listing posts for %s: %w", profileID, err)
	}
	defer rows.Close()

	posts := make([]model.PostSummary, 0)
	for rows.Next() {
		var p model.PostSummary
		if err := rows.Scan(&p.ID, &p.ImageURL, &p.Caption); err != nil {
			return nil, fmt.Errorf("postgres: scanning post row: %w", err)
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterating posts: %w", err)
	}
	return posts, nil
}

func (db *DB) GetPost(ctx context.Context, postID string) (*model.Post, error) {
	var p model.Post
	err := db.pool.QueryRow(ctx,
		`SELECT id, user_id, image_url, image_key, caption, created_at FROM posts WHERE id = $1`,
		postID,
	).Scan(&p.ID, &p.UserID, &p.ImageURL, &p.ImageKey, &p.Caption, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NotFound("post", postID)
		}
		return nil, fmt.Errorf("postgres: getting post %s: %w", postID, err)
	}
	return &p, nil
}

func (db *DB) InsertPost(ctx context.Context, post *model.Post) error {
	post.ID = xid.New().String()
	post.CreatedAt = now()

	_, err := db.pool.Exec(ctx,
		`INSERT INTO posts (id, user_id, image_url, image_key, caption, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		post.ID, post.UserID, post.ImageURL, post.ImageKey, post.Caption, post.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: inserting post: %w", err)
	}
	return nil
}

func (db *DB) DeletePost(ctx context.Context, postID, ownerID string) error {
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM posts WHERE id = $1 AND user_id = $2`, postID, ownerID,
	)
	if err != nil {
		return fmt.Errorf("postgres: deleting post %s: %w", postID, err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("post", postID)
	}
	return nil
}

func (db *DB) ToggleLike(ctx context.Context, postID, profileID string, currentlyLiked bool) error {
	if currentlyLiked {
		if _, err := db.pool.Exec(ctx,
			`DELETE FROM likes WHERE post_id = $1 AND user_id = $2`, postID, profileID,
		); err != nil {
			return fmt.Errorf("postgres: unliking post %s: %w", postID, err)
		}
		return nil
	}

	// INSERT ... SELECT touches no row when the post is gone, which tells a
	// missing post apart from an existing like.
	tag, err := db.pool.Exec(ctx,
		`INSERT INTO likes (post_id, user_id, created_at)
		 SELECT id, $2, $3 FROM posts WHERE id = $1
		 ON CONFLICT (post_id, user_id) DO NOTHING`,
		postID, profileID, now(),
	)
	if err != nil {
		return fmt.Errorf("postgres: liking post %s: %w", postID, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := db.GetPost(ctx, postID); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) ImageReferenced(ctx context.Context, key, url string) (bool, error) {
	var referenced bool
	err := db.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM posts WHERE image_key = $1 OR image_url = $2)`, key, url,
	).Scan(&referenced)
	if err != nil {
		return false, fmt.Errorf("postgres: checking image key: %w", err)
	}
	return referenced, nil
}
