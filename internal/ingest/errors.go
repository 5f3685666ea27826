package ingest

import "fmt"

// PublishError marks a degraded-success ingestion: the batch and its
// documents are durably persisted and queryable, but job dispatch stopped
// partway. The missing jobs are recovered by the Republish sweep.
type PublishError struct {
	Published int // jobs emitted before the failure
	Total     int // jobs that should have been emitted
	Err       error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("published %d of %d extraction jobs: %v", e.Published, e.Total, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}
