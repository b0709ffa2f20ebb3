package service

import (
	"context"
	"log/slog"

	"github.com/sakif/ronin/internal/apperror"
	"github.com/sakif/ronin/internal/events"
	"github.com/sakif/ronin/internal/repository"
)

// FollowService toggles follow relationships and announces them.
type FollowService struct {
	follows   repository.FollowRepository
	publisher events.Publisher
	logger    *slog.Logger
}

func NewFollowService(follows repository.FollowRepository, publisher events.Publisher, logger *slog.Logger) *FollowService {
	return &FollowService{follows: follows, publisher: publisher, logger: logger}
}

// ToggleFollow unfollows when currentlyFollowing, otherwise follows. A
// profile cannot follow itself; that is rejected before the store is called.
func (s *FollowService) ToggleFollow(ctx context.Context, followerID, followeeID string, currentlyFollowing bool) error {
	if followerID == "" {
		return apperror.Unauthenticated("sign in to follow profiles")
	}
	if followerID == followeeID {
		return apperror.ValidationFailed("following_id", "you cannot follow yourself")
	}
	if err := s.follows.ToggleFollow(ctx, followerID, followeeID, currentlyFollowing); err != nil {
		return err
	}

	ev := events.Event{
		Type:    events.FollowToggled,
		ActorID: followerID,
		Subject: followeeID,
		Active:  events.Bool(!currentlyFollowing),
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn("failed to publish change event",
			slog.String("type", string(ev.Type)),
			slog.String("error", err.Error()),
		)
	}
	return nil
}
