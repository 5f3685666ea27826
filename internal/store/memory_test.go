package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
)

func testDocs(n int) []NewDocument {
	docs := make([]NewDocument, n)
	for i := range docs {
		docs[i] = NewDocument{
			Code:      fmt.Sprintf("A-%03d", i),
			Title:     fmt.Sprintf("Documento %d", i),
			SourceURL: fmt.Sprintf("https://example.test/doc-%d.pdf", i),
			DocType:   "Acta",
		}
	}
	return docs
}

func TestCreateBatchInitialStatus(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	batch, err := m.CreateBatch(ctx, CreateBatchParams{
		FileName:    "manifest.csv",
		OwnerID:     uuid.New(),
		ContentHash: "aa11",
	}, testDocs(3))
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}

	docs, err := m.DocumentsByBatch(ctx, batch.ID)
	if err != nil {
		t.Fatalf("DocumentsByBatch: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("got %d documents, want 3", len(docs))
	}
	for _, d := range docs {
		if d.Status != StatusQueued {
			t.Errorf("document %s status = %s, want QUEUED", d.Code, d.Status)
		}
		if d.BatchID != batch.ID {
			t.Errorf("document %s batch = %s, want %s", d.Code, d.BatchID, batch.ID)
		}
	}
}

func TestCreateBatchDuplicateFingerprint(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	params := CreateBatchParams{FileName: "a.csv", OwnerID: uuid.New(), ContentHash: "ff00"}

	if _, err := m.CreateBatch(ctx, params, testDocs(1)); err != nil {
		t.Fatalf("first CreateBatch: %v", err)
	}
	_, err := m.CreateBatch(ctx, params, testDocs(1))
	if !errors.Is(err, ErrDuplicateFingerprint) {
		t.Errorf("second CreateBatch error = %v, want ErrDuplicateFingerprint", err)
	}
}

func TestCreateBatchAtomicOnFault(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	boom := errors.New("disk full")

	// Fault on the last row of a 10-row batch.
	m.InsertFault = func(i int, d NewDocument) error {
		if i == 9 {
			return boom
		}
		return nil
	}

	_, err := m.CreateBatch(ctx, CreateBatchParams{
		FileName: "big.csv", OwnerID: uuid.New(), ContentHash: "dd77",
	}, testDocs(10))
	if !errors.Is(err, boom) {
		t.Fatalf("CreateBatch error = %v, want injected fault", err)
	}

	if _, err := m.BatchByFingerprint(ctx, "dd77"); !errors.Is(err, ErrBatchNotFound) {
		t.Errorf("batch persisted despite fault: lookup error = %v", err)
	}
	queued, err := m.QueuedDocuments(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("QueuedDocuments: %v", err)
	}
	if len(queued) != 0 {
		t.Errorf("%d documents persisted despite fault, want 0", len(queued))
	}
}

func TestDocumentsOrderedByCode(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	docs := []NewDocument{
		{Code: "C-3", SourceURL: "https://x.test/c"},
		{Code: "A-1", SourceURL: "https://x.test/a"},
		{Code: "B-2", SourceURL: "https://x.test/b"},
	}
	batch, err := m.CreateBatch(ctx, CreateBatchParams{FileName: "m.csv", OwnerID: uuid.New(), ContentHash: "0b0b"}, docs)
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}

	got, err := m.DocumentsByBatch(ctx, batch.ID)
	if err != nil {
		t.Fatalf("DocumentsByBatch: %v", err)
	}
	for i, want := range []string{"A-1", "B-2", "C-3"} {
		if got[i].Code != want {
			t.Errorf("docs[%d].Code = %s, want %s", i, got[i].Code, want)
		}
	}
}

func TestListBatchesOwnerFilter(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	mine := uuid.New()
	other := uuid.New()

	if _, err := m.CreateBatch(ctx, CreateBatchParams{FileName: "mine.csv", OwnerID: mine, ContentHash: "01"}, testDocs(2)); err != nil {
		t.Fatal(err)
	}
	if _, err := m.CreateBatch(ctx, CreateBatchParams{FileName: "other.csv", OwnerID: other, ContentHash: "02"}, testDocs(1)); err != nil {
		t.Fatal(err)
	}

	all, err := m.ListBatches(ctx, nil)
	if err != nil {
		t.Fatalf("ListBatches(nil): %v", err)
	}
	if len(all) != 2 {
		t.Errorf("unfiltered listing has %d batches, want 2", len(all))
	}

	filtered, err := m.ListBatches(ctx, &mine)
	if err != nil {
		t.Fatalf("ListBatches(owner): %v", err)
	}
	if len(filtered) != 1 || filtered[0].FileName != "mine.csv" {
		t.Errorf("owner filter returned %+v", filtered)
	}
	if filtered[0].Counts.Total != 2 || filtered[0].Counts.Queued != 2 {
		t.Errorf("counts = %+v, want 2 queued of 2", filtered[0].Counts)
	}
}

func TestStatusCountsFollowWorkerWrites(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	batch, err := m.CreateBatch(ctx, CreateBatchParams{FileName: "m.csv", OwnerID: uuid.New(), ContentHash: "0c"}, testDocs(3))
	if err != nil {
		t.Fatal(err)
	}
	docs, _ := m.DocumentsByBatch(ctx, batch.ID)
	m.SetDocumentStatus(docs[0].ID, StatusProcessed)
	m.SetDocumentStatus(docs[1].ID, StatusError)

	c, err := m.StatusCounts(ctx, batch.ID)
	if err != nil {
		t.Fatalf("StatusCounts: %v", err)
	}
	want := StatusCounts{Total: 3, Queued: 1, Processed: 1, Errors: 1}
	if c != want {
		t.Errorf("counts = %+v, want %+v", c, want)
	}
}

func TestStatusCountsRejectsUnknownStatus(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	batch, err := m.CreateBatch(ctx, CreateBatchParams{FileName: "m.csv", OwnerID: uuid.New(), ContentHash: "0d"}, testDocs(1))
	if err != nil {
		t.Fatal(err)
	}
	docs, _ := m.DocumentsByBatch(ctx, batch.ID)
	m.SetDocumentStatus(docs[0].ID, Status("ARCHIVED"))

	_, err = m.StatusCounts(ctx, batch.ID)
	var integrity *IntegrityError
	if !errors.As(err, &integrity) {
		t.Fatalf("StatusCounts error = %v, want *IntegrityError", err)
	}
	if integrity.Status != "ARCHIVED" {
		t.Errorf("IntegrityError.Status = %q, want ARCHIVED", integrity.Status)
	}
}

func TestQueuedDocumentsCutoff(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	batch, err := m.CreateBatch(ctx, CreateBatchParams{FileName: "m.csv", OwnerID: uuid.New(), ContentHash: "0e"}, testDocs(2))
	if err != nil {
		t.Fatal(err)
	}
	docs, _ := m.DocumentsByBatch(ctx, batch.ID)
	m.SetDocumentStatus(docs[0].ID, StatusProcessing)

	queued, err := m.QueuedDocuments(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("QueuedDocuments: %v", err)
	}
	if len(queued) != 1 || queued[0].ID != docs[1].ID {
		t.Errorf("queued = %+v, want only the still-QUEUED document", queued)
	}

	// A cutoff in the past excludes everything.
	queued, err = m.QueuedDocuments(ctx, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(queued) != 0 {
		t.Errorf("past cutoff returned %d documents, want 0", len(queued))
	}
}
