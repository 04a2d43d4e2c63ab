package batch

import (
	"fmt"
	"net/http"

	"github.com/kilupskalvis/wvb/internal/models"
	"github.com/kilupskalvis/wvb/internal/weaviate"
)

// reconcile maps a batch reply onto a request of size n. The returned slice
// has length n; entry i is nil when item i succeeded and otherwise holds its
// error messages in reply order.
func reconcile(n int, reply *weaviate.BatchReply) ([][]string, error) {
	perItem := make([][]string, n)
	if reply == nil {
		return perItem, nil
	}
	if reply.Positional && reply.Acknowledged != n {
		return nil, &ReconciliationError{
			BatchSize: n,
			Reason:    fmt.Sprintf("reply acknowledged %d items", reply.Acknowledged),
		}
	}
	for _, e := range reply.Errors {
		if e.Index < 0 || e.Index >= n {
			return nil, &ReconciliationError{Index: e.Index, BatchSize: n}
		}
		msg := e.Message
		if msg == "" {
			msg = "unspecified error"
		}
		perItem[e.Index] = append(perItem[e.Index], msg)
	}
	return perItem, nil
}

// aggregateStatus derives the HTTP-style status of a flush result.
// transportStatus is the status of the transport error that caused the final
// failure of every failed item, or 0 when some failure was object-level.
func aggregateStatus(result *models.Result, transportStatus int) int {
	total := result.Total()
	failed := total - result.Succeeded()
	switch {
	case failed == 0:
		return http.StatusOK
	case failed == total && transportStatus != 0:
		return transportStatus
	default:
		return http.StatusUnprocessableEntity
	}
}
