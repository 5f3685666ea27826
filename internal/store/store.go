// Package store persists ingestion batches and their document records.
//
// Two implementations exist: Postgres (the real one, see postgres.go) and an
// in-memory store used by tests and local development (memory.go). Both
// enforce the same contract: a batch and its documents are created in one
// atomic operation, and the content hash is unique across all batches.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the extraction lifecycle state of a document. This service only
// ever writes StatusQueued; the extraction worker advances it from there.
type Status string

const (
	StatusQueued     Status = "QUEUED"
	StatusProcessing Status = "PROCESSING"
	StatusProcessed  Status = "PROCESSED"
	StatusError      Status = "ERROR"
)

// Valid reports whether s is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusProcessed, StatusError:
		return true
	}
	return false
}

// Batch is one ingested manifest submission.
type Batch struct {
	ID          uuid.UUID
	FileName    string
	OwnerID     uuid.UUID
	ContentHash string
	CreatedAt   time.Time
}

// Document is one normalized manifest row tracked through extraction.
type Document struct {
	ID              uuid.UUID
	BatchID         uuid.UUID
	Code            string
	Title           string
	PublicationDate *string
	SourceFile      string
	SourceURL       string
	PageCount       *int32
	DocType         string
	Status          Status
	ExtractedText   *string
	ErrorMessage    *string
	CreatedAt       time.Time
	UpdatedAt       *time.Time
}

// NewDocument carries the normalized fields for one document to be created.
// Status is not a parameter: every document starts QUEUED.
type NewDocument struct {
	Code            string
	Title           string
	PublicationDate *string
	SourceFile      string
	SourceURL       string
	PageCount       *int32
	DocType         string
}

// CreateBatchParams identifies the batch to create.
type CreateBatchParams struct {
	FileName    string
	OwnerID     uuid.UUID
	ContentHash string
}

// StatusCounts summarizes the documents of one batch by lifecycle state.
type StatusCounts struct {
	Total      int
	Queued     int
	Processing int
	Processed  int
	Errors     int
}

// BatchSummary is the batch-listing read model: the batch plus its current
// status counts, recomputed on every read.
type BatchSummary struct {
	Batch
	Counts StatusCounts
}

var (
	// ErrDuplicateFingerprint reports a content-hash uniqueness violation.
	// Callers treat it as a lost race against an identical concurrent upload
	// and fall back to the dedup-hit path, never as a hard failure.
	ErrDuplicateFingerprint = errors.New("store: batch with identical content hash already exists")

	// ErrBatchNotFound reports a lookup of a batch id or fingerprint with no
	// matching batch.
	ErrBatchNotFound = errors.New("store: batch not found")
)

// IntegrityError reports a stored document status outside the known
// lifecycle states. Unknown statuses are never silently counted.
type IntegrityError struct {
	BatchID uuid.UUID
	Status  string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("store: batch %s holds document with unknown status %q", e.BatchID, e.Status)
}

// Store is the persistence boundary for ingestion.
type Store interface {
	// CreateBatch atomically creates one batch and one QUEUED document per
	// row. If any insert fails, nothing is persisted. A content-hash
	// uniqueness violation is reported as ErrDuplicateFingerprint.
	CreateBatch(ctx context.Context, params CreateBatchParams, docs []NewDocument) (Batch, error)

	// BatchByFingerprint returns the batch with the exact content hash, or
	// ErrBatchNotFound.
	BatchByFingerprint(ctx context.Context, hash string) (Batch, error)

	// BatchByID returns the batch with the given id, or ErrBatchNotFound.
	BatchByID(ctx context.Context, id uuid.UUID) (Batch, error)

	// ListBatches returns all batches with their status counts, newest
	// first. A non-nil owner restricts the listing to that owner's batches.
	ListBatches(ctx context.Context, owner *uuid.UUID) ([]BatchSummary, error)

	// DocumentsByBatch returns the batch's documents ordered by code.
	// Returns ErrBatchNotFound if the batch does not exist.
	DocumentsByBatch(ctx context.Context, batchID uuid.UUID) ([]Document, error)

	// StatusCounts returns the per-status document counts for one batch.
	// A stored status outside the known set yields an *IntegrityError.
	StatusCounts(ctx context.Context, batchID uuid.UUID) (StatusCounts, error)

	// QueuedDocuments returns documents still QUEUED that were created
	// before the cutoff, for the re-publish sweep.
	QueuedDocuments(ctx context.Context, createdBefore time.Time) ([]Document, error)
}
