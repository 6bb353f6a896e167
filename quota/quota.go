// Package quota implements the Quota Enforcer (C5): per-account price
// ceilings and a rolling 24-hour request/token cap, checked just before
// a request is dispatched to an upstream provider.
package quota

import (
	"context"
	"time"

	"github.com/ractogw/gateway/access"
	"github.com/ractogw/gateway/catalog"
	"github.com/ractogw/gateway/dispatcherr"
)

// Usage is a trailing-window usage aggregate for one account.
type Usage struct {
	Requests     uint64
	TokensInput  uint64
	TokensOutput uint64
}

// Source looks up an account's usage since a point in time. Implemented
// by the storage package against the persisted message history.
type Source interface {
	UsageSince(ctx context.Context, accountID string, since time.Time) (Usage, error)
}

// Window is the trailing period over which request/token caps apply.
const Window = 24 * time.Hour

// Enforce checks a candidate's per-model price cap and the account's
// rolling request/token caps. A storage error while fetching usage is
// treated as zero usage (fail open): the gateway must not reject traffic
// just because its own accounting store hiccupped.
func Enforce(ctx context.Context, account access.Account, candidate catalog.Routed, src Source) error {
	if cap, ok := account.PriceCapFor(candidate.ResolvedModel); ok {
		if candidate.EstimateCents > float64(cap.MaxCents) {
			return dispatcherr.BadRequest("requested model exceeds account price cap")
		}
	}

	if account.ReqPerDay == nil && account.TokensPerDay == nil {
		return nil
	}

	usage, err := src.UsageSince(ctx, account.ID, time.Now().Add(-Window))
	if err != nil {
		usage = Usage{}
	}

	if account.ReqPerDay != nil && usage.Requests >= uint64(*account.ReqPerDay) {
		return dispatcherr.BadRequest("account request limit reached for today")
	}
	if account.TokensPerDay != nil {
		used := usage.TokensInput + usage.TokensOutput
		if used >= uint64(*account.TokensPerDay) {
			return dispatcherr.BadRequest("account token limit reached for today")
		}
	}
	return nil
}
