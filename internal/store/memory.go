package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-memory Store. It backs tests and local development without
// a database while honoring the same contract as Postgres: atomic batch
// creation and content-hash uniqueness.
type Memory struct {
	mu      sync.Mutex
	batches map[uuid.UUID]Batch
	byHash  map[string]uuid.UUID
	docs    map[uuid.UUID][]Document // keyed by batch id

	// InsertFault, when set, is consulted before each document insert and
	// aborts the batch creation with its return value. Tests use it to
	// simulate mid-batch persistence faults.
	InsertFault func(i int, d NewDocument) error
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		batches: make(map[uuid.UUID]Batch),
		byHash:  make(map[string]uuid.UUID),
		docs:    make(map[uuid.UUID][]Document),
	}
}

func (m *Memory) CreateBatch(ctx context.Context, params CreateBatchParams, docs []NewDocument) (Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byHash[params.ContentHash]; exists {
		return Batch{}, ErrDuplicateFingerprint
	}

	batch := Batch{
		ID:          uuid.New(),
		FileName:    params.FileName,
		OwnerID:     params.OwnerID,
		ContentHash: params.ContentHash,
		CreatedAt:   time.Now().UTC(),
	}

	// Stage every document before touching the maps so a fault leaves no
	// partial state behind.
	staged := make([]Document, 0, len(docs))
	for i, d := range docs {
		if m.InsertFault != nil {
			if err := m.InsertFault(i, d); err != nil {
				return Batch{}, err
			}
		}
		staged = append(staged, Document{
			ID:              uuid.New(),
			BatchID:         batch.ID,
			Code:            d.Code,
			Title:           d.Title,
			PublicationDate: d.PublicationDate,
			SourceFile:      d.SourceFile,
			SourceURL:       d.SourceURL,
			PageCount:       d.PageCount,
			DocType:         d.DocType,
			Status:          StatusQueued,
			CreatedAt:       batch.CreatedAt,
		})
	}

	m.batches[batch.ID] = batch
	m.byHash[batch.ContentHash] = batch.ID
	m.docs[batch.ID] = staged
	return batch, nil
}

func (m *Memory) BatchByFingerprint(ctx context.Context, hash string) (Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byHash[hash]
	if !ok {
		return Batch{}, ErrBatchNotFound
	}
	return m.batches[id], nil
}

func (m *Memory) BatchByID(ctx context.Context, id uuid.UUID) (Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.batches[id]
	if !ok {
		return Batch{}, ErrBatchNotFound
	}
	return b, nil
}

func (m *Memory) ListBatches(ctx context.Context, owner *uuid.UUID) ([]BatchSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	summaries := []BatchSummary{}
	for id, b := range m.batches {
		if owner != nil && b.OwnerID != *owner {
			continue
		}
		counts, err := countStatuses(id, m.docs[id])
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, BatchSummary{Batch: b, Counts: counts})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
	})
	return summaries, nil
}

func (m *Memory) DocumentsByBatch(ctx context.Context, batchID uuid.UUID) ([]Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.batches[batchID]; !ok {
		return nil, ErrBatchNotFound
	}
	docs := append([]Document(nil), m.docs[batchID]...)
	sort.Slice(docs, func(i, j int) bool { return docs[i].Code < docs[j].Code })
	return docs, nil
}

func (m *Memory) StatusCounts(ctx context.Context, batchID uuid.UUID) (StatusCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return countStatuses(batchID, m.docs[batchID])
}

func (m *Memory) QueuedDocuments(ctx context.Context, createdBefore time.Time) ([]Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	queued := []Document{}
	for _, docs := range m.docs {
		for _, d := range docs {
			if d.Status == StatusQueued && d.CreatedAt.Before(createdBefore) {
				queued = append(queued, d)
			}
		}
	}
	sort.Slice(queued, func(i, j int) bool { return queued[i].CreatedAt.Before(queued[j].CreatedAt) })
	return queued, nil
}

// SetDocumentStatus mutates one document's status, standing in for the
// external extraction worker in tests.
func (m *Memory) SetDocumentStatus(docID uuid.UUID, status Status) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for batchID, docs := range m.docs {
		for i := range docs {
			if docs[i].ID == docID {
				now := time.Now().UTC()
				m.docs[batchID][i].Status = status
				m.docs[batchID][i].UpdatedAt = &now
				return true
			}
		}
	}
	return false
}

func countStatuses(batchID uuid.UUID, docs []Document) (StatusCounts, error) {
	var c StatusCounts
	for _, d := range docs {
		switch d.Status {
		case StatusQueued:
			c.Queued++
		case StatusProcessing:
			c.Processing++
		case StatusProcessed:
			c.Processed++
		case StatusError:
			c.Errors++
		default:
			return StatusCounts{}, &IntegrityError{BatchID: batchID, Status: string(d.Status)}
		}
		c.Total++
	}
	return c, nil
}
