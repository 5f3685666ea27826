package ingest

import "github.com/sgcan/docingest/internal/store"

// State is the aggregated extraction state of a batch.
type State string

const (
	StateDone       State = "DONE"
	StateInProgress State = "IN_PROGRESS"
)

// Progress is the aggregated view of one batch's documents. It is derived
// from current statuses on every read; the extraction worker may change them
// between any two reads.
type Progress struct {
	Total     int
	Processed int
	Errors    int
	State     State
}

// ProgressFrom reduces per-status counts to the batch progress. A batch is
// DONE once every document has reached a terminal status; an empty batch is
// never DONE.
func ProgressFrom(c store.StatusCounts) Progress {
	state := StateInProgress
	if c.Total > 0 && c.Processed+c.Errors >= c.Total {
		state = StateDone
	}
	return Progress{
		Total:     c.Total,
		Processed: c.Processed,
		Errors:    c.Errors,
		State:     state,
	}
}
