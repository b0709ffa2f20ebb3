package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/sakif/ronin/internal/apperror"
)

func TestToggleFollow_FollowAndUnfollow(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	alice := createTestProfile(t, db, "alice")
	bob := createTestProfile(t, db, "bob")

	if err := db.ToggleFollow(ctx, alice.ID, bob.ID, false); err != nil {
		t.Fatalf("ToggleFollow(follow) error = %v", err)
	}

	rel, err := db.GetFollowRelationship(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("GetFollowRelationship() error = %v", err)
	}
	if rel == nil {
		t.Fatal("GetFollowRelationship() = nil, want a follow row")
	}

	followers, _ := db.CountFollowers(ctx, bob.ID)
	following, _ := db.CountFollowing(ctx, alice.ID)
	if followers != 1 || following != 1 {
		t.Errorf("counts after follow = (%d, %d), want (1, 1)", followers, following)
	}

	if err := db.ToggleFollow(ctx, alice.ID, bob.ID, true); err != nil {
		t.Fatalf("ToggleFollow(unfollow) error = %v", err)
	}

	rel, err = db.GetFollowRelationship(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("GetFollowRelationship() error = %v", err)
	}
	if rel != nil {
		t.Error("GetFollowRelationship() after unfollow should be nil")
	}

	followers, _ = db.CountFollowers(ctx, bob.ID)
	if followers != 0 {
		t.Errorf("followers after unfollow = %d, want 0", followers)
	}
}

func TestToggleFollow_DirectionIsOneWay(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	alice := createTestProfile(t, db, "alice")
	bob := createTestProfile(t, db, "bob")

	if err := db.ToggleFollow(ctx, alice.ID, bob.ID, false); err != nil {
		t.Fatalf("ToggleFollow() error = %v", err)
	}

	rel, err := db.GetFollowRelationship(ctx, bob.ID, alice.ID)
	if err != nil {
		t.Fatalf("GetFollowRelationship() error = %v", err)
	}
	if rel != nil {
		t.Error("bob should not follow alice back")
	}

	followers, _ := db.CountFollowers(ctx, alice.ID)
	if followers != 0 {
		t.Errorf("alice followers = %d, want 0", followers)
	}
}

func TestToggleFollow_DuplicateFollowIsNoOp(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	alice := createTestProfile(t, db, "alice")
	bob := createTestProfile(t, db, "bob")

	for i := 0; i < 2; i++ {
		if err := db.ToggleFollow(ctx, alice.ID, bob.ID, false); err != nil {
			t.Fatalf("ToggleFollow() attempt %d error = %v", i, err)
		}
	}

	followers, _ := db.CountFollowers(ctx, bob.ID)
	if followers != 1 {
		t.Errorf("followers = %d, want 1", followers)
	}
}

func TestToggleFollow_SelfFollowRejected(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	alice := createTestProfile(t, db, "alice")

	err := db.ToggleFollow(ctx, alice.ID, alice.ID, false)
	if !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("ToggleFollow(self) error = %v, want ErrValidation", err)
	}

	followers, _ := db.CountFollowers(ctx, alice.ID)
	if followers != 0 {
		t.Errorf("followers = %d, want 0", followers)
	}
}

func TestToggleFollow_SelfFollowBlockedByConstraint(t *testing.T) {
	db := newTestDB(t)
	alice := createTestProfile(t, db, "alice")

	_, err := db.conn.Exec(
		`INSERT INTO follows (follower_id, following_id, created_at) VALUES (?, ?, CURRENT_TIMESTAMP)`,
		alice.ID, alice.ID,
	)
	if err == nil {
		t.Error("raw self-follow insert should violate the CHECK constraint")
	}
}

func TestToggleFollow_MissingProfile(t *testing.T) {
	db := newTestDB(t)
	alice := createTestProfile(t, db, "alice")

	err := db.ToggleFollow(context.Background(), alice.ID, "ghost", false)
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("ToggleFollow() error = %v, want ErrNotFound", err)
	}
}

func TestCountFollowers_NoRows(t *testing.T) {
	db := newTestDB(t)
	alice := createTestProfile(t, db, "alice")

	n, err := db.CountFollowers(context.Background(), alice.ID)
	if err != nil {
		t.Fatalf("CountFollowers() error = %v", err)
	}
	if n != 0 {
		t.Errorf("CountFollowers() = %d, want 0", n)
	}
}
