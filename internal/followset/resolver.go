package followset

import (
	"context"

	"go.uber.org/zap"
)

const (
	defaultPageSize = 100

	logMessagePaginationAborted = "follow list pagination aborted"
	logFieldOwner               = "owner"
	logFieldCollected           = "collected"
)

// Lister fetches one page of account identifiers for an actor. A blank cursor
// requests the first page; the returned cursor is blank on the final page.
type Lister interface {
	ListFollowPage(ctx context.Context, actor string, cursor string, limit int) (identifiers []string, nextCursor string, err error)
}

// ResolveConfig customizes a Resolve call.
type ResolveConfig struct {
	PageSize int
	EntryCap int
	Logger   *zap.Logger
}

// Resolve builds the follow set for an actor by walking the paginated follow
// listing until the service reports no further cursor or the entry cap is
// reached. Pages are fetched strictly sequentially. A page fetch error aborts
// pagination and returns the partial set gathered so far; a partial set is
// valid for downstream filtering.
func Resolve(ctx context.Context, lister Lister, actor string, configuration ResolveConfig) *FollowSet {
	pageSize := configuration.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	followSet := New(actor)
	cursor := ""
	for {
		identifiers, nextCursor, err := lister.ListFollowPage(ctx, actor, cursor, pageSize)
		if err != nil {
			logger.Warn(logMessagePaginationAborted,
				zap.String(logFieldOwner, actor),
				zap.Int(logFieldCollected, followSet.Size()),
				zap.Error(err))
			return followSet
		}
		for _, identifier := range identifiers {
			followSet.Add(identifier)
			if configuration.EntryCap > 0 && followSet.Size() >= configuration.EntryCap {
				return followSet
			}
		}
		if nextCursor == "" {
			return followSet
		}
		cursor = nextCursor
	}
}
