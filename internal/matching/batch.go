package matching

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/capcall/riskengine/internal/domain"
)

// BatchMatch pairs a payment with its match, if any.
type BatchMatch struct {
	Payment domain.Payment
	Match   *domain.MatchResult
}

// MatchBatch runs MatchPayment for every payment on a pool of workers.
// Results keep the order of payments. Every payment sees the full candidate
// list; resolving two payments that pick the same call is the caller's job.
func MatchBatch(ctx context.Context, payments []domain.Payment, candidates []domain.MatchCandidate, workers int) ([]BatchMatch, error) {
	if workers < 1 {
		workers = 1
	}
	out := make([]BatchMatch, len(payments))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range payments {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = BatchMatch{
				Payment: payments[i],
				Match:   MatchPayment(payments[i], candidates),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
