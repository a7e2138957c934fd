package mastodon

import (
	"context"
	"errors"

	"github.com/StraySignal/fediverse-radar/internal/scan"
	"go.uber.org/zap"
)

const (
	logMessageSearchRateLimited = "instance search rate limited"
	logFieldInstance            = "instance"
	logFieldQuery               = "query"
	logFieldRetryAfter          = "retry_after"
)

var _ scan.Prober = (*Client)(nil)

// Probe searches the current instance for the identifier. A non-empty result
// list means the account exists there, an empty one means the instance does
// not know it. Rate limit responses surface the suggested wait so callers can
// retry, every other failure is reported as an error.
func (client *Client) Probe(ctx context.Context, identifier string) scan.ExistenceResult {
	result := scan.ExistenceResult{Identifier: identifier}

	accounts, searchErr := client.SearchAccounts(ctx, identifier)
	if searchErr != nil {
		var limitError *RateLimitedError
		if errors.As(searchErr, &limitError) {
			client.logger.Warn(logMessageSearchRateLimited,
				zap.String(logFieldInstance, limitError.Instance),
				zap.String(logFieldQuery, identifier),
				zap.Duration(logFieldRetryAfter, limitError.RetryAfter))
			result.State = scan.StateRateLimited
			result.RetryAfter = limitError.RetryAfter
			result.Detail = searchErr.Error()
			return result
		}
		result.State = scan.StateError
		result.Detail = searchErr.Error()
		return result
	}
	if len(accounts) == 0 {
		result.State = scan.StateAbsent
		return result
	}
	result.State = scan.StateExists
	return result
}
