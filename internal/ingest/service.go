// Package ingest implements the manifest ingestion pipeline: fingerprint,
// dedup gate, parse, transactional registration, and job dispatch.
//
// The whole upload operation is idempotent under byte-identical
// resubmission: any number of uploads of the same content yield exactly one
// batch, one fixed set of documents, and one round of extraction jobs.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sgcan/docingest/internal/fingerprint"
	"github.com/sgcan/docingest/internal/manifest"
	"github.com/sgcan/docingest/internal/queue"
	"github.com/sgcan/docingest/internal/store"
)

// Service orchestrates ingestion over a Store and a job Publisher.
type Service struct {
	store     store.Store
	publisher queue.Publisher
}

// NewService wires the pipeline. Both collaborators are required.
func NewService(st store.Store, pub queue.Publisher) *Service {
	return &Service{store: st, publisher: pub}
}

// Result is the outcome of one Ingest call.
//
// On first-time ingestion Reused is false and RowCount is the number of
// documents created. On a dedup hit Reused is true and Progress carries the
// batch's current aggregated state. Publish is non-nil only for the
// degraded-success case: documents persisted, dispatch incomplete.
type Result struct {
	Reused   bool
	BatchID  uuid.UUID
	FileName string
	RowCount int
	Progress Progress
	Publish  *PublishError
}

// Ingest runs the pipeline for one uploaded manifest.
//
// The registry transaction is the sole correctness boundary: when two
// uploads of identical content race, the storage-level uniqueness constraint
// picks the winner and the loser falls back to the dedup-hit response. A
// *manifest.SchemaError or persistence failure means nothing was ingested.
func (s *Service) Ingest(ctx context.Context, ownerID uuid.UUID, fileName string, data []byte) (Result, error) {
	hash := fingerprint.SumBytes(data)
	log := slog.With("file_name", fileName, "fingerprint", hash)

	// Dedup gate: identical content short-circuits before any parsing.
	existing, err := s.store.BatchByFingerprint(ctx, hash)
	if err == nil {
		log.Info("dedup hit, reusing batch", "batch_id", existing.ID)
		return s.reusedResult(ctx, existing)
	}
	if !errors.Is(err, store.ErrBatchNotFound) {
		return Result{}, fmt.Errorf("dedup lookup: %w", err)
	}

	rows, err := manifest.Parse(bytes.NewReader(data))
	if err != nil {
		return Result{}, err
	}
	parsed, err := rows.Collect()
	if err != nil {
		return Result{}, err
	}

	docs := make([]store.NewDocument, len(parsed))
	for i, row := range parsed {
		docs[i] = toNewDocument(row)
	}

	batch, err := s.store.CreateBatch(ctx, store.CreateBatchParams{
		FileName:    fileName,
		OwnerID:     ownerID,
		ContentHash: hash,
	}, docs)
	if errors.Is(err, store.ErrDuplicateFingerprint) {
		// Lost a race against a concurrent identical upload. The winner's
		// batch is authoritative; answer as a dedup hit.
		winner, lookupErr := s.store.BatchByFingerprint(ctx, hash)
		if lookupErr != nil {
			return Result{}, fmt.Errorf("looking up winning batch after lost race: %w", lookupErr)
		}
		log.Info("lost ingestion race, reusing winning batch", "batch_id", winner.ID)
		return s.reusedResult(ctx, winner)
	}
	if err != nil {
		return Result{}, fmt.Errorf("registering batch: %w", err)
	}

	result := Result{
		BatchID:  batch.ID,
		FileName: batch.FileName,
		RowCount: len(docs),
	}
	result.Publish = s.dispatch(ctx, batch.ID, len(docs))

	log.Info("batch ingested",
		"batch_id", batch.ID,
		"rows", len(docs),
		"dispatch_complete", result.Publish == nil,
	)
	return result, nil
}

// dispatch publishes one job per persisted document. It runs strictly after
// the registry transaction committed, so every referenced document durably
// exists. A broker failure stops the loop and is reported as degraded
// success; it must never undo the persisted batch.
func (s *Service) dispatch(ctx context.Context, batchID uuid.UUID, total int) *PublishError {
	docs, err := s.store.DocumentsByBatch(ctx, batchID)
	if err != nil {
		return &PublishError{Published: 0, Total: total, Err: err}
	}

	for i, doc := range docs {
		job := queue.Job{DocumentID: doc.ID, BatchID: batchID, SourceURL: doc.SourceURL}
		if err := s.publisher.Publish(ctx, job); err != nil {
			slog.Error("job dispatch interrupted",
				"batch_id", batchID,
				"published", i,
				"total", len(docs),
				"error", err,
			)
			return &PublishError{Published: i, Total: len(docs), Err: err}
		}
	}
	return nil
}

// reusedResult builds the dedup-hit response with freshly aggregated
// progress for the existing batch.
func (s *Service) reusedResult(ctx context.Context, batch store.Batch) (Result, error) {
	counts, err := s.store.StatusCounts(ctx, batch.ID)
	if err != nil {
		return Result{}, fmt.Errorf("aggregating reused batch %s: %w", batch.ID, err)
	}
	progress := ProgressFrom(counts)
	return Result{
		Reused:   true,
		BatchID:  batch.ID,
		FileName: batch.FileName,
		RowCount: progress.Total,
		Progress: progress,
	}, nil
}

// Republish re-emits jobs for documents still QUEUED after olderThan. It is
// the reconciliation sweep for dispatch gaps left by broker outages: safe to
// call repeatedly, since a duplicate job for a queued document is harmless.
// Returns the number of jobs re-published.
func (s *Service) Republish(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	docs, err := s.store.QueuedDocuments(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("selecting queued documents: %w", err)
	}

	for i, doc := range docs {
		job := queue.Job{DocumentID: doc.ID, BatchID: doc.BatchID, SourceURL: doc.SourceURL}
		if err := s.publisher.Publish(ctx, job); err != nil {
			return i, fmt.Errorf("republishing document %s: %w", doc.ID, err)
		}
	}

	if len(docs) > 0 {
		slog.Info("republished queued documents", "count", len(docs), "cutoff", cutoff)
	}
	return len(docs), nil
}

// BatchView is one entry of the batch-listing read model.
type BatchView struct {
	Batch    store.Batch
	Progress Progress
}

// ListBatches returns all batches (optionally one owner's) with aggregated
// progress, newest first.
func (s *Service) ListBatches(ctx context.Context, owner *uuid.UUID) ([]BatchView, error) {
	summaries, err := s.store.ListBatches(ctx, owner)
	if err != nil {
		return nil, err
	}
	views := make([]BatchView, len(summaries))
	for i, sum := range summaries {
		views[i] = BatchView{Batch: sum.Batch, Progress: ProgressFrom(sum.Counts)}
	}
	return views, nil
}

// BatchDocuments returns one batch's documents ordered by code.
func (s *Service) BatchDocuments(ctx context.Context, batchID uuid.UUID) ([]store.Document, error) {
	return s.store.DocumentsByBatch(ctx, batchID)
}

func toNewDocument(row manifest.Row) store.NewDocument {
	var pubDate *string
	if row.PublicationDate != "" {
		d := row.PublicationDate
		pubDate = &d
	}
	return store.NewDocument{
		Code:            row.Code,
		Title:           row.Title,
		PublicationDate: pubDate,
		SourceFile:      row.SourceFile,
		SourceURL:       row.SourceURL,
		PageCount:       row.PageCount,
		DocType:         row.DocType,
	}
}
