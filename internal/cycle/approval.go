package cycle

import (
	"time"

	"github.com/sells-group/salescycle/internal/model"
)

// ResolveApprovals returns the first approval time per document, restricted
// to docIDs and to events of the given kind. Documents never approved are
// absent from the result.
func ResolveApprovals(docIDs map[string]struct{}, events []model.ApprovalEvent, kind string) map[string]time.Time {
	first := make(map[string]time.Time)
	for _, e := range events {
		if e.Kind != kind {
			continue
		}
		if _, ok := docIDs[e.DocID]; !ok {
			continue
		}
		if cur, ok := first[e.DocID]; !ok || e.CreatedAt.Before(cur) {
			first[e.DocID] = e.CreatedAt
		}
	}
	return first
}
