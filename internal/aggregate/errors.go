package aggregate

import (
	"fmt"

	"github.com/rotisserie/eris"
)

var (
	// ErrDataIntegrityEmpty is returned when every strategy of the selected
	// mode produced zero upstream rows.
	ErrDataIntegrityEmpty = eris.New("aggregate: no rows after exhausting all strategies")
	// ErrRowBudgetExceeded is returned when the merged row set is larger than
	// the configured cap. Rows are never truncated.
	ErrRowBudgetExceeded = eris.New("aggregate: row budget exceeded")
	// ErrDeadlineExceeded is returned when the deadline hook aborts a run.
	ErrDeadlineExceeded = eris.New("aggregate: deadline exceeded")
	// ErrInvalidRequest is returned for malformed requests.
	ErrInvalidRequest = eris.New("aggregate: invalid request")
)

// PartialEnrichmentFailure records an optional metadata lookup that failed.
// It is surfaced as a diagnostics warning and never fails a run.
type PartialEnrichmentFailure struct {
	MessageID string
	Err       error
}

func (e *PartialEnrichmentFailure) Error() string {
	return fmt.Sprintf("enrichment skipped for message %s: %v", e.MessageID, e.Err)
}

func (e *PartialEnrichmentFailure) Unwrap() error {
	return e.Err
}
