// Package queue emits extraction jobs on a durable message queue.
//
// One job is published per document record, only after the owning batch
// transaction has committed. Delivery is at-least-once: messages are marked
// persistent so they survive a broker restart, and the extraction worker is
// expected to be idempotent on documentId.
package queue

import (
	"context"

	"github.com/google/uuid"
)

// Job instructs the extraction worker to fetch and extract one document.
type Job struct {
	DocumentID uuid.UUID `json:"documentId"`
	BatchID    uuid.UUID `json:"batchId"`
	SourceURL  string    `json:"sourceUrl"`
}

// Publisher emits jobs. Publish may be called repeatedly for the same
// document: a duplicate job for a still-queued document is harmless.
type Publisher interface {
	Publish(ctx context.Context, job Job) error
	Close() error
}
