package batch

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/kilupskalvis/wvb/internal/models"
	"github.com/kilupskalvis/wvb/internal/weaviate"
)

// cycle describes how one kind of item is sent and reported.
type cycle[T any] struct {
	kind   string
	send   func(context.Context, []T) (*weaviate.BatchReply, error)
	id     func(T) string
	attach func(*models.ObjectOutcome, T)
}

func objectCycle(t weaviate.Transport) cycle[*models.BatchObject] {
	return cycle[*models.BatchObject]{
		kind:   kindObjects,
		send:   t.SendObjects,
		id:     func(o *models.BatchObject) string { return o.ID },
		attach: func(out *models.ObjectOutcome, o *models.BatchObject) { out.Object = o },
	}
}

func referenceCycle(t weaviate.Transport) cycle[*models.BatchReference] {
	return cycle[*models.BatchReference]{
		kind:   kindReferences,
		send:   t.SendReferences,
		id:     func(r *models.BatchReference) string { return r.Key() },
		attach: func(out *models.ObjectOutcome, r *models.BatchReference) { out.Reference = r },
	}
}

// runCycle sends items, retrying the failed subset until every item has a
// final outcome. Outcomes are indexed like items. The returned status is the
// transport-derived code when every failed item ended on a transport error,
// otherwise 0. A non-nil error is fatal and discards the outcomes.
func runCycle[T any](ctx context.Context, b *ObjectsBatcher, c cycle[T], items []T) ([]models.ObjectOutcome, int, error) {
	outcomes := make([]models.ObjectOutcome, len(items))
	for i, item := range items {
		outcomes[i] = models.ObjectOutcome{ID: c.id(item)}
		c.attach(&outcomes[i], item)
	}
	if len(items) == 0 {
		return outcomes, 0, nil
	}

	pending := make([]int, len(items))
	for i := range pending {
		pending[i] = i
	}
	transportFailed := make([]bool, len(items))
	lastStatus := 0

	for attempt := 1; ; attempt++ {
		subset := make([]T, len(pending))
		for j, idx := range pending {
			subset[j] = items[idx]
		}

		sendCtx, err := b.authorize(ctx)
		if err != nil {
			return nil, 0, err
		}
		reply, sendErr := sendTraced(sendCtx, b, c, subset, attempt)

		var failures []Failure
		if sendErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, 0, ctxErr
			}
			retryable := weaviate.IsTransient(sendErr)
			lastStatus = weaviate.StatusCode(sendErr)
			msg := sendErr.Error()
			for _, idx := range pending {
				outcomes[idx].Attempts = attempt
				outcomes[idx].Success = false
				outcomes[idx].Errors = []string{msg}
				transportFailed[idx] = true
				failures = append(failures, Failure{Index: idx, Messages: []string{msg}, Retryable: retryable})
			}
		} else {
			perItem, err := reconcile(len(subset), reply)
			if err != nil {
				return nil, 0, err
			}
			for j, msgs := range perItem {
				idx := pending[j]
				outcomes[idx].Attempts = attempt
				transportFailed[idx] = false
				if msgs == nil {
					outcomes[idx].Success = true
					outcomes[idx].Errors = nil
					continue
				}
				outcomes[idx].Success = false
				outcomes[idx].Errors = msgs
				failures = append(failures, Failure{Index: idx, Messages: msgs, Retryable: b.policy.classify(msgs)})
			}
		}

		if len(failures) == 0 {
			break
		}
		decision := b.policy.Decide(failures, attempt)
		if decision.GiveUp {
			break
		}

		b.logger.Debug("retrying failed batch items",
			zap.String("kind", c.kind),
			zap.Int("attempt", attempt),
			zap.Int("failed", len(failures)),
			zap.Int("retrying", len(decision.Retry)),
			zap.Duration("backoff", decision.Wait),
		)
		b.metrics.observeRetries(c.kind, len(decision.Retry))
		if err := b.sleep(ctx, decision.Wait); err != nil {
			return nil, 0, err
		}
		pending = decision.Retry
	}

	status := 0
	anyFailed, allTransport := false, true
	for i, o := range outcomes {
		if !o.Success {
			anyFailed = true
			allTransport = allTransport && transportFailed[i]
		}
	}
	if anyFailed && allTransport {
		status = lastStatus
	}
	return outcomes, status, nil
}

func sendTraced[T any](ctx context.Context, b *ObjectsBatcher, c cycle[T], subset []T, attempt int) (*weaviate.BatchReply, error) {
	ctx, span := b.tracer.Start(ctx, "batch.send", trace.WithAttributes(
		attribute.String("batch.kind", c.kind),
		attribute.Int("batch.size", len(subset)),
		attribute.Int("batch.attempt", attempt),
	))
	defer span.End()

	reply, err := c.send(ctx, subset)
	b.metrics.observeSend(c.kind, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if reply != nil {
		span.SetAttributes(attribute.Int("batch.errors", len(reply.Errors)))
	}
	return reply, nil
}
