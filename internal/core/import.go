package core

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kilupskalvis/wvb/internal/batch"
	"github.com/kilupskalvis/wvb/internal/deadletter"
	"github.com/kilupskalvis/wvb/internal/models"
	"github.com/kilupskalvis/wvb/internal/weaviate"
)

// maxLineSize bounds one NDJSON line; large multi-vectors need more than bufio's default.
const maxLineSize = 64 << 20

// Line is one NDJSON import record. Exactly one field must be set.
type Line struct {
	Object    *models.BatchObject    `json:"object,omitempty"`
	Reference *models.BatchReference `json:"reference,omitempty"`
}

// ImportOptions configures an import.
type ImportOptions struct {
	Batch       []batch.Option   // passed to the batcher, e.g. WithAutoBatch
	DeadLetters deadletter.Store // optional; final failures are journaled here
	Logger      *zap.Logger
	Progress    ImportProgress
}

// ImportProgress is called after every flush with running totals.
type ImportProgress func(summary ImportSummary)

// ImportSummary counts import results.
type ImportSummary struct {
	Lines        int
	Objects      int
	References   int
	Succeeded    int
	Failed       int
	DeadLettered int
	Flushes      int
}

// flushOutcome is a flush result travelling to the collector goroutine.
type flushOutcome struct {
	result *models.Result
	err    error
}

// Import reads NDJSON lines from r and ingests them through a batcher on t.
// Every item ends up either succeeded or counted as failed; failures are
// dead-lettered when a store is configured. The first fatal flush error is
// returned after the input is exhausted, together with the summary.
func Import(ctx context.Context, t weaviate.Transport, r io.Reader, opts ImportOptions) (*ImportSummary, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	progress := opts.Progress
	if progress == nil {
		progress = func(ImportSummary) {}
	}

	outcomes := make(chan flushOutcome, 16)
	batchOpts := append([]batch.Option{
		batch.WithLogger(logger),
		batch.WithResultCallback(func(result *models.Result, err error) {
			outcomes <- flushOutcome{result: result, err: err}
		}),
	}, opts.Batch...)

	b, err := batch.NewObjectsBatcher(t, batchOpts...)
	if err != nil {
		return nil, err
	}

	summary := &ImportSummary{}
	var fatal, storeErr error
	g := new(errgroup.Group)

	// The collector is the only goroutine touching summary until Wait returns.
	// It keeps draining after a store error so flushes never block.
	g.Go(func() error {
		for o := range outcomes {
			if o.err != nil && fatal == nil {
				fatal = o.err
			}
			if storeErr != nil {
				continue
			}
			storeErr = recordOutcome(opts.DeadLetters, summary, o)
			progress(*summary)
		}
		return storeErr
	})

	var counts lineCounts
	g.Go(func() error {
		readErr := readLines(ctx, r, b, outcomes, &counts)

		// Whatever was buffered before a read error is still sent.
		result, err := b.Flush(ctx)
		outcomes <- flushOutcome{result: result, err: err}

		// Close waits for an in-flight automatic flush, whose callback
		// still needs the channel open.
		b.Close()
		close(outcomes)
		return readErr
	})

	waitErr := g.Wait()
	summary.Lines = counts.lines
	summary.Objects = counts.objects
	summary.References = counts.references
	logger.Info("import finished",
		zap.Int("objects", summary.Objects),
		zap.Int("references", summary.References),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("dead_lettered", summary.DeadLettered),
	)

	if waitErr != nil {
		return summary, waitErr
	}
	return summary, fatal
}

type lineCounts struct {
	lines, objects, references int
}

func readLines(ctx context.Context, r io.Reader, b *batch.ObjectsBatcher, outcomes chan<- flushOutcome, counts *lineCounts) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw := scanner.Bytes()
		counts.lines++
		if len(raw) == 0 {
			continue
		}

		var line Line
		if err := json.Unmarshal(raw, &line); err != nil {
			return fmt.Errorf("line %d: %w", counts.lines, err)
		}
		isObject, err := addLine(ctx, b, line, outcomes)
		if err != nil {
			return fmt.Errorf("line %d: %w", counts.lines, err)
		}
		if isObject {
			counts.objects++
		} else {
			counts.references++
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	return nil
}

// addLine enqueues one line. A full buffer is flushed synchronously and the
// add retried once.
func addLine(ctx context.Context, b *batch.ObjectsBatcher, line Line, outcomes chan<- flushOutcome) (bool, error) {
	var add func() error
	isObject := false
	switch {
	case line.Object != nil && line.Reference == nil:
		isObject = true
		add = func() error { return b.AddObject(line.Object) }
	case line.Reference != nil && line.Object == nil:
		add = func() error { return b.AddReference(line.Reference) }
	default:
		return false, errors.New(`expected exactly one of "object" or "reference"`)
	}

	err := add()
	if errors.Is(err, batch.ErrCapacityExceeded) {
		result, flushErr := b.Flush(ctx)
		outcomes <- flushOutcome{result: result, err: flushErr}
		err = add()
	}
	return isObject, err
}

// recordOutcome folds one flush into the summary and dead-letters failures.
func recordOutcome(store deadletter.Store, summary *ImportSummary, o flushOutcome) error {
	summary.Flushes++

	var failed []models.ObjectOutcome
	if o.result != nil {
		summary.Succeeded += o.result.Succeeded()
		failed = o.result.Failed()
	}

	var flushErr *batch.FlushError
	if errors.As(o.err, &flushErr) {
		failed = append(failed, unconfirmed(flushErr)...)
		if flushErr.Completed != nil {
			summary.Succeeded += flushErr.Completed.Succeeded()
			failed = append(failed, flushErr.Completed.Failed()...)
		}
	}
	summary.Failed += len(failed)

	if store == nil || len(failed) == 0 {
		return nil
	}
	now := time.Now()
	records := make([]*deadletter.Record, 0, len(failed))
	for _, f := range failed {
		rec, err := deadletter.FromOutcome(f, now)
		if err != nil {
			return err
		}
		records = append(records, rec)
	}
	if err := store.Put(records...); err != nil {
		return fmt.Errorf("write dead letters: %w", err)
	}
	summary.DeadLettered += len(records)
	return nil
}

// unconfirmed turns the items of an aborted flush into failed outcomes.
func unconfirmed(fe *batch.FlushError) []models.ObjectOutcome {
	msg := fe.Err.Error()
	out := make([]models.ObjectOutcome, 0, len(fe.Objects)+len(fe.References))
	for _, obj := range fe.Objects {
		out = append(out, models.ObjectOutcome{ID: obj.ID, Errors: []string{msg}, Object: obj})
	}
	for _, ref := range fe.References {
		out = append(out, models.ObjectOutcome{ID: ref.Key(), Errors: []string{msg}, Reference: ref})
	}
	return out
}
