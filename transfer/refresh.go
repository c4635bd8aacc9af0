package transfer

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"panshare/internal"
	"panshare/utils"
)

// RefreshFailure pairs a catalog row with the error that stopped its refresh
type RefreshFailure struct {
	Record *internal.CatalogRecord
	Err    error
}

// RefreshReport summarizes a Refresh batch
type RefreshReport struct {
	*utils.BatchSummary
	Failures []RefreshFailure
}

// Refresh re-hosts every record on its own provider and points the rows at
// the new shares, running at most concurrency operations at once. Rows whose
// link no adapter handles are skipped. Individual failures are collected in
// the report; cancellation of ctx or a critical failure, such as an
// unreachable catalog, aborts the batch and is returned.
func (o *Orchestrator) Refresh(ctx context.Context, records []*internal.CatalogRecord, concurrency int, quiet bool) (*RefreshReport, error) {
	if concurrency < 1 {
		concurrency = 1
	}

	tracker := utils.NewProgressTracker(len(records), quiet)
	var mu sync.Mutex
	var failures []RefreshFailure

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, rec := range records {
		if gctx.Err() != nil {
			break
		}
		rec := rec

		if _, ok := o.adapters[o.classifier.Classify(rec.ShareLink)]; !ok {
			tracker.Record(utils.OutcomeSkipped)
			continue
		}

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			id := rec.ID
			_, err := o.CreateShare(gctx, &internal.CreateShareRequest{
				ShareURL:  rec.ShareLink,
				Title:     rec.Name,
				SaveTo:    internal.DestinationPreferences{Quark: true, Baidu: true},
				CatalogID: &id,
			})

			switch {
			case err == nil:
				tracker.Record(utils.OutcomeSucceeded)
			case internal.IsType(err, internal.ErrPartialSuccess):
				tracker.Record(utils.OutcomePartial)
			default:
				tracker.Record(utils.OutcomeFailed)
				mu.Lock()
				failures = append(failures, RefreshFailure{Record: rec, Err: err})
				mu.Unlock()
				if pe := internal.AsPanError(err, internal.ErrTransport); pe.IsCritical() {
					return pe
				}
			}
			return nil
		})
	}

	err := g.Wait()
	summary := tracker.Finish()
	if err == nil {
		err = ctx.Err()
	}
	return &RefreshReport{BatchSummary: summary, Failures: failures}, err
}
