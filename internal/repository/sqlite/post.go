package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/ronin/internal/apperror"
	"github.com/sakif/ronin/internal/model"
	"github.com/sakif/ronin/internal/repository"
)

// likeBatchSize bounds the ids bound into one likes query.
const likeBatchSize = 500

// ListFeed returns posts joined with their author's handle and avatar and
// their full like list, newest first.
//
// The first query reads the page of posts joined with profiles; the likes
// for exactly those posts follow in batches of likeBatchSize ids.
func (db *DB) ListFeed(ctx context.Context, opts repository.FeedOptions) ([]model.FeedPost, error) {
	var (
		where []string
		args  []any
	)
	if opts.Before != nil {
		where = append(where, `(p.created_at < ? OR (p.created_at = ? AND p.id < ?))`)
		before := opts.Before.CreatedAt.UTC()
		args = append(args, before, before, opts.Before.ID)
	}

	query := `SELECT p.id, p.user_id, p.image_url, p.image_key, p.caption, p.created_at,
		         pr.handle, pr.avatar_url
		  FROM posts p
		  JOIN profiles pr ON pr.id = p.user_id`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY p.created_at DESC, p.id DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing feed: %w", err)
	}
	defer rows.Close()

	posts := make([]model.FeedPost, 0)
	index := make(map[string]int)
	for rows.Next() {
		var (
			fp      model.FeedPost
			caption sql.NullString
			avatar  sql.NullString
		)
		if err := rows.Scan(
			&fp.ID, &fp.UserID, &fp.ImageURL, &fp.ImageKey, &caption, &fp.CreatedAt,
			&fp.Author.Handle, &avatar,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scanning feed row: %w", err)
		}
		fp.Caption = optional(caption)
		fp.Author.AvatarURL = optional(avatar)
		fp.Likes = []model.Like{}
		index[fp.ID] = len(posts)
		posts = append(posts, fp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating feed: %w", err)
	}
	if len(posts) == 0 {
		return posts, nil
	}

	for lo := 0; lo < len(posts); lo += likeBatchSize {
		hi := min(lo+likeBatchSize, len(posts))
		if err := db.loadLikes(ctx, posts[lo:hi], index, posts); err != nil {
			return nil, err
		}
	}

	return posts, nil
}

// loadLikes attaches the likes of batch to posts. SQLite caps the number of
// bound variables per statement, so ListFeed calls it in fixed-size batches.
func (db *DB) loadLikes(ctx context.Context, batch []model.FeedPost, index map[string]int, posts []model.FeedPost) error {
	placeholders := make([]string, 0, len(batch))
	ids := make([]any, 0, len(batch))
	for _, p := range batch {
		placeholders = append(placeholders, "?")
		ids = append(ids, p.ID)
	}
	rows, err := db.conn.QueryContext(ctx,
		`SELECT post_id, user_id FROM likes
		 WHERE post_id IN (`+strings.Join(placeholders, ",")+`)
		 ORDER BY created_at`,
		ids...,
	)
	if err != nil {
		return fmt.Errorf("sqlite: listing likes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var l model.Like
		if err := rows.Scan(&l.PostID, &l.UserID); err != nil {
			return fmt.Errorf("sqlite: scanning like row: %w", err)
		}
		if i, ok := index[l.PostID]; ok {
			posts[i].Likes = append(posts[i].Likes, l)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("sqlite: iterating likes: %w", err)
	}
	return nil
}

// ListByProfile returns the profile-grid projection of a profile's posts,
// newest first.
func (db *DB) ListByProfile(ctx context.Context, profileID string) ([]model.PostSummary, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, image_url, caption FROM posts
		 WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC`,
		profileID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing posts for %s: %w", profileID, err)
	}
	defer rows.Close()

	posts := make([]model.PostSummary, 0)
	for rows.Next() {
		var (
			p       model.PostSummary
			caption sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.ImageURL, &caption); err != nil {
			return nil, fmt.Errorf("sqlite: scanning post row: %w", err)
		}
		p.Caption = optional(caption)
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating posts: %w", err)
	}
	return posts, nil
}

// GetPost returns a single post row. Returns apperror.ErrNotFound when absent.
func (db *DB) GetPost(ctx context.Context, postID string) (*model.Post, error) {
	var (
		p       model.Post
		caption sql.NullString
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, user_id, image_url, image_key, caption, created_at
		 FROM posts WHERE id = ?`,
		postID,
	).Scan(&p.ID, &p.UserID, &p.ImageURL, &p.ImageKey, &caption, &p.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("post", postID)
		}
		return nil, fmt.Errorf("sqlite: getting post %s: %w", postID, err)
	}
	p.Caption = optional(caption)
	return &p, nil
}

// InsertPost commits a post row. The image must already be uploaded; the
// row is what makes it visible. ID and CreatedAt are assigned here.
func (db *DB) InsertPost(ctx context.Context, post *model.Post) error {
	post.ID = xid.New().String()
	post.CreatedAt = time.Now().UTC()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO posts (id, user_id, image_url, image_key, caption, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		post.ID,
		post.UserID,
		post.ImageURL,
		post.ImageKey,
		nullable(post.Caption),
		post.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting post: %w", err)
	}
	return nil
}

// DeletePost removes the row only when ownerID owns it. A post that does
// not exist and a post owned by someone else look the same to the caller:
// both are ErrNotFound and nothing is removed.
func (db *DB) DeletePost(ctx context.Context, postID, ownerID string) error {
	result, err := db.conn.ExecContext(ctx,
		`DELETE FROM posts WHERE id = ? AND user_id = ?`,
		postID, ownerID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: deleting post %s: %w", postID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("post", postID)
	}
	return nil
}

// ToggleLike deletes the (post, user) pair when currentlyLiked, otherwise
// inserts it. The direction comes from a read the caller made earlier, so two
// concurrent toggles can race; the primary key keeps the pair unique either way.
func (db *DB) ToggleLike(ctx context.Context, postID, profileID string, currentlyLiked bool) error {
	if currentlyLiked {
		if _, err := db.conn.ExecContext(ctx,
			`DELETE FROM likes WHERE post_id = ? AND user_id = ?`,
			postID, profileID,
		); err != nil {
			return fmt.Errorf("sqlite: unliking post %s: %w", postID, err)
		}
		return nil
	}

	var exists int
	err := db.conn.QueryRowContext(ctx, `SELECT 1 FROM posts WHERE id = ?`, postID).Scan(&exists)
	if err != nil {
		if err == sql.ErrNoRows {
			return apperror.NotFound("post", postID)
		}
		return fmt.Errorf("sqlite: checking post %s: %w", postID, err)
	}

	if _, err := db.conn.ExecContext(ctx,
		`INSERT INTO likes (post_id, user_id, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (post_id, user_id) DO NOTHING`,
		postID, profileID, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("sqlite: liking post %s: %w", postID, err)
	}
	return nil
}

// ImageReferenced reports whether any post row points at the blob, either by
// its stored key or, for rows written before keys were stored, by its URL.
func (db *DB) ImageReferenced(ctx context.Context, key, url string) (bool, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM posts WHERE image_key = ? OR image_url = ?`, key, url,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("sqlite: checking image key: %w", err)
	}
	return count > 0, nil
}
