package bluesky

import (
	"context"
	"errors"
	"net/http"

	"github.com/StraySignal/fediverse-radar/internal/scan"
)

var _ scan.Prober = (*Client)(nil)

// Probe reports whether an identifier resolves to a live profile on the
// AppView. A not-found response means the account is absent, a rate limit
// response surfaces the suggested wait, and every other failure is reported
// as an error.
func (client *Client) Probe(ctx context.Context, identifier string) scan.ExistenceResult {
	result := scan.ExistenceResult{Identifier: identifier}

	_, err := client.GetProfile(ctx, identifier)
	if err == nil {
		result.State = scan.StateExists
		return result
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusBadRequest, http.StatusNotFound:
			result.State = scan.StateAbsent
			result.Detail = err.Error()
		case http.StatusTooManyRequests:
			result.State = scan.StateRateLimited
			result.RetryAfter = statusErr.RetryAfter
			result.Detail = err.Error()
		default:
			result.State = scan.StateError
			result.Detail = err.Error()
		}
		return result
	}

	result.State = scan.StateError
	result.Detail = err.Error()
	return result
}
