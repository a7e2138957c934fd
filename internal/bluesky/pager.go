package bluesky

import (
	"context"

	"github.com/StraySignal/fediverse-radar/internal/followset"
)

var (
	_ followset.Lister = FollowsPager{}
	_ followset.Lister = FollowersPager{}
)

// FollowsPager exposes the follow listing of an actor as pages of handles.
type FollowsPager struct {
	Client *Client
}

// ListFollowPage returns one page of handles the actor follows.
func (pager FollowsPager) ListFollowPage(ctx context.Context, actor string, cursor string, limit int) ([]string, string, error) {
	profiles, nextCursor, err := pager.Client.ListFollowsPage(ctx, actor, cursor, limit)
	if err != nil {
		return nil, "", err
	}
	return handlesOf(profiles), nextCursor, nil
}

// FollowersPager exposes the follower listing of an actor as pages of handles.
type FollowersPager struct {
	Client *Client
}

// ListFollowPage returns one page of handles following the actor.
func (pager FollowersPager) ListFollowPage(ctx context.Context, actor string, cursor string, limit int) ([]string, string, error) {
	profiles, nextCursor, err := pager.Client.ListFollowersPage(ctx, actor, cursor, limit)
	if err != nil {
		return nil, "", err
	}
	return handlesOf(profiles), nextCursor, nil
}

func handlesOf(profiles []Profile) []string {
	handles := make([]string, 0, len(profiles))
	for _, profile := range profiles {
		handles = append(handles, profile.Handle)
	}
	return handles
}
