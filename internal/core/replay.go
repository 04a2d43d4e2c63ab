package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kilupskalvis/wvb/internal/batch"
	"github.com/kilupskalvis/wvb/internal/deadletter"
	"github.com/kilupskalvis/wvb/internal/models"
	"github.com/kilupskalvis/wvb/internal/weaviate"
)

// ReplayOptions configures a dead-letter replay.
type ReplayOptions struct {
	Batch  []batch.Option
	Limit  int // maximum records to replay, 0 for all
	Logger *zap.Logger
}

// ReplaySummary counts replay results.
type ReplaySummary struct {
	Replayed  int
	Succeeded int
	Failed    int
	Skipped   int // records whose payload could not be decoded
}

// Replay resubmits dead-lettered items in one flush. Records that now succeed
// are deleted; records that fail again are replaced with their new errors and
// accumulated attempt count.
func Replay(ctx context.Context, t weaviate.Transport, store deadletter.Store, opts ReplayOptions) (*ReplaySummary, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	records, err := store.List(opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	summary := &ReplaySummary{}
	if len(records) == 0 {
		return summary, nil
	}

	b, err := batch.NewObjectsBatcher(t, append([]batch.Option{batch.WithLogger(logger)}, opts.Batch...)...)
	if err != nil {
		return nil, err
	}
	defer b.Close()

	// Outcomes come back in add order per kind; these map them to records.
	var objRecords, refRecords []*deadletter.Record
	for _, rec := range records {
		switch rec.Kind {
		case deadletter.KindObject:
			obj, err := rec.Object()
			if err == nil {
				err = b.AddObject(obj)
			}
			if err != nil {
				logger.Warn("skipping dead letter", zap.Uint64("seq", rec.Seq), zap.Error(err))
				summary.Skipped++
				continue
			}
			objRecords = append(objRecords, rec)
		case deadletter.KindReference:
			ref, err := rec.Reference()
			if err == nil {
				err = b.AddReference(ref)
			}
			if err != nil {
				logger.Warn("skipping dead letter", zap.Uint64("seq", rec.Seq), zap.Error(err))
				summary.Skipped++
				continue
			}
			refRecords = append(refRecords, rec)
		default:
			logger.Warn("skipping dead letter of unknown kind", zap.Uint64("seq", rec.Seq), zap.String("kind", string(rec.Kind)))
			summary.Skipped++
		}
	}
	summary.Replayed = len(objRecords) + len(refRecords)

	result, err := b.Flush(ctx)
	if err != nil {
		var flushErr *batch.FlushError
		if !errors.As(err, &flushErr) || flushErr.Completed == nil {
			// Nothing was confirmed; the journal is left untouched.
			return summary, fmt.Errorf("replay flush: %w", err)
		}
		// Objects were reconciled before the reference send failed.
		if applyErr := applyReplay(store, flushErr.Completed.Objects, objRecords, summary); applyErr != nil {
			return summary, applyErr
		}
		return summary, fmt.Errorf("replay flush: %w", err)
	}

	if err := applyReplay(store, result.Objects, objRecords, summary); err != nil {
		return summary, err
	}
	if err := applyReplay(store, result.References, refRecords, summary); err != nil {
		return summary, err
	}

	logger.Info("replay finished",
		zap.Int("replayed", summary.Replayed),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
	)
	return summary, nil
}

// applyReplay deletes succeeded records and rewrites failed ones.
func applyReplay(store deadletter.Store, outcomes []models.ObjectOutcome, records []*deadletter.Record, summary *ReplaySummary) error {
	if len(outcomes) != len(records) {
		return fmt.Errorf("replay returned %d outcomes for %d records", len(outcomes), len(records))
	}

	var done []uint64
	var again []*deadletter.Record
	now := time.Now()
	for i, o := range outcomes {
		rec := records[i]
		done = append(done, rec.Seq)
		if o.Success {
			summary.Succeeded++
			continue
		}
		summary.Failed++
		next, err := deadletter.FromOutcome(o, now)
		if err != nil {
			return err
		}
		next.Attempts += rec.Attempts
		again = append(again, next)
	}

	if len(again) > 0 {
		if err := store.Put(again...); err != nil {
			return fmt.Errorf("rewrite dead letters: %w", err)
		}
	}
	if err := store.Delete(done...); err != nil {
		return fmt.Errorf("delete replayed dead letters: %w", err)
	}
	return nil
}
