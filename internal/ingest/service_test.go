package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sgcan/docingest/internal/manifest"
	"github.com/sgcan/docingest/internal/queue"
	"github.com/sgcan/docingest/internal/store"
)

const sampleManifest = `Nomenclatura,Titulo,Fecha de publicacion,Documento,URL Documento,Cantidad de paginas,Tipo documento
A-001,Primera acta,05/03/2024,acta1.pdf,https://example.test/acta1.pdf,10,Acta
A-002,Segunda acta,2024-04-01,acta2.pdf,https://example.test/acta2.pdf,doce,Acta
A-003,Tercera acta,,acta3.pdf,https://example.test/acta3.pdf,7,Decisión
`

// fakePublisher records published jobs and can be told to fail from a given
// call onward.
type fakePublisher struct {
	mu        sync.Mutex
	jobs      []queue.Job
	failAfter int // fail once this many jobs have been accepted; -1 = never
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{failAfter: -1}
}

func (f *fakePublisher) Publish(ctx context.Context, job queue.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAfter >= 0 && len(f.jobs) >= f.failAfter {
		return errors.New("broker unavailable")
	}
	f.jobs = append(f.jobs, job)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs)
}

func newTestService() (*Service, *store.Memory, *fakePublisher) {
	mem := store.NewMemory()
	pub := newFakePublisher()
	return NewService(mem, pub), mem, pub
}

func TestIngestFirstTime(t *testing.T) {
	svc, mem, pub := newTestService()
	ctx := context.Background()
	owner := uuid.New()

	res, err := svc.Ingest(ctx, owner, "manifest.csv", []byte(sampleManifest))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if res.Reused {
		t.Error("first-time ingestion reported reused")
	}
	if res.RowCount != 3 {
		t.Errorf("RowCount = %d, want 3", res.RowCount)
	}
	if res.Publish != nil {
		t.Errorf("unexpected publish failure: %v", res.Publish)
	}
	if pub.count() != 3 {
		t.Errorf("%d jobs published, want 3", pub.count())
	}

	docs, err := mem.DocumentsByBatch(ctx, res.BatchID)
	if err != nil {
		t.Fatalf("DocumentsByBatch: %v", err)
	}

	// Normalization carried through to storage: dd/mm/yyyy rewritten,
	// ISO passthrough, bad page count null.
	byCode := map[string]store.Document{}
	for _, d := range docs {
		byCode[d.Code] = d
	}
	if d := byCode["A-001"]; d.PublicationDate == nil || *d.PublicationDate != "2024-03-05" {
		t.Errorf("A-001 date = %v, want 2024-03-05", d.PublicationDate)
	}
	if d := byCode["A-002"]; d.PublicationDate == nil || *d.PublicationDate != "2024-04-01" {
		t.Errorf("A-002 date = %v, want ISO passthrough", d.PublicationDate)
	}
	if d := byCode["A-002"]; d.PageCount != nil {
		t.Errorf("A-002 page count = %v, want nil for malformed cell", *d.PageCount)
	}
	if d := byCode["A-003"]; d.PublicationDate != nil {
		t.Errorf("A-003 date = %v, want nil for empty cell", d.PublicationDate)
	}

	// Jobs reference persisted documents and their source URLs.
	seen := map[uuid.UUID]bool{}
	for _, job := range pub.jobs {
		d, ok := byCode[codeOf(docs, job.DocumentID)]
		if !ok || d.SourceURL != job.SourceURL || job.BatchID != res.BatchID {
			t.Errorf("job %+v does not match a persisted document", job)
		}
		seen[job.DocumentID] = true
	}
	if len(seen) != 3 {
		t.Errorf("jobs cover %d distinct documents, want 3", len(seen))
	}
}

func codeOf(docs []store.Document, id uuid.UUID) string {
	for _, d := range docs {
		if d.ID == id {
			return d.Code
		}
	}
	return ""
}

func TestIngestIdempotent(t *testing.T) {
	svc, mem, pub := newTestService()
	ctx := context.Background()
	owner := uuid.New()

	first, err := svc.Ingest(ctx, owner, "manifest.csv", []byte(sampleManifest))
	if err != nil {
		t.Fatalf("first Ingest: %v", err)
	}

	for i := 0; i < 4; i++ {
		res, err := svc.Ingest(ctx, owner, "renamed.csv", []byte(sampleManifest))
		if err != nil {
			t.Fatalf("repeat Ingest %d: %v", i, err)
		}
		if !res.Reused {
			t.Fatalf("repeat Ingest %d not reported reused", i)
		}
		if res.BatchID != first.BatchID {
			t.Errorf("repeat Ingest %d batch = %s, want %s", i, res.BatchID, first.BatchID)
		}
		// The response carries the original display name, not the resubmitted one.
		if res.FileName != "manifest.csv" {
			t.Errorf("repeat Ingest %d file name = %q", i, res.FileName)
		}
		if res.Progress.Total != 3 || res.Progress.State != StateInProgress {
			t.Errorf("repeat Ingest %d progress = %+v", i, res.Progress)
		}
	}

	if pub.count() != 3 {
		t.Errorf("%d jobs published after 5 uploads, want exactly one round of 3", pub.count())
	}
	batches, err := mem.ListBatches(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(batches) != 1 {
		t.Errorf("%d batches exist, want 1", len(batches))
	}
}

func TestIngestSchemaErrorPersistsNothing(t *testing.T) {
	svc, mem, pub := newTestService()
	ctx := context.Background()

	_, err := svc.Ingest(ctx, uuid.New(), "bad.csv", []byte("Foo,Bar\n1,2\n"))

	var schemaErr *manifest.SchemaError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("Ingest error = %v, want *manifest.SchemaError", err)
	}
	batches, _ := mem.ListBatches(ctx, nil)
	if len(batches) != 0 {
		t.Errorf("schema failure persisted %d batches", len(batches))
	}
	if pub.count() != 0 {
		t.Errorf("schema failure published %d jobs", pub.count())
	}
}

func TestIngestPersistenceFaultIsAllOrNothing(t *testing.T) {
	svc, mem, pub := newTestService()
	ctx := context.Background()
	mem.InsertFault = func(i int, d store.NewDocument) error {
		if i == 2 { // last row
			return errors.New("disk full")
		}
		return nil
	}

	_, err := svc.Ingest(ctx, uuid.New(), "manifest.csv", []byte(sampleManifest))
	if err == nil {
		t.Fatal("Ingest succeeded despite persistence fault")
	}

	batches, _ := mem.ListBatches(ctx, nil)
	if len(batches) != 0 {
		t.Errorf("fault left %d batches behind", len(batches))
	}
	if pub.count() != 0 {
		t.Errorf("fault still published %d jobs", pub.count())
	}

	// The same bytes ingest cleanly once the fault clears.
	mem.InsertFault = nil
	res, err := svc.Ingest(ctx, uuid.New(), "manifest.csv", []byte(sampleManifest))
	if err != nil {
		t.Fatalf("retry Ingest: %v", err)
	}
	if res.Reused || res.RowCount != 3 {
		t.Errorf("retry result = %+v", res)
	}
}

func TestIngestPublishFailureIsDegradedSuccess(t *testing.T) {
	svc, mem, pub := newTestService()
	ctx := context.Background()
	pub.failAfter = 1 // accept one job, then the broker goes away

	res, err := svc.Ingest(ctx, uuid.New(), "manifest.csv", []byte(sampleManifest))
	if err != nil {
		t.Fatalf("Ingest returned hard error for publish failure: %v", err)
	}
	if res.Publish == nil {
		t.Fatal("Result.Publish is nil, want degraded-success marker")
	}
	if res.Publish.Published != 1 || res.Publish.Total != 3 {
		t.Errorf("Publish = %d/%d, want 1/3", res.Publish.Published, res.Publish.Total)
	}

	// Documents are persisted and queryable in QUEUED state regardless.
	counts, err := mem.StatusCounts(ctx, res.BatchID)
	if err != nil {
		t.Fatal(err)
	}
	if counts.Queued != 3 {
		t.Errorf("queued = %d, want 3", counts.Queued)
	}

	// The reconciliation sweep closes the gap once the broker is back.
	pub.failAfter = -1
	n, err := svc.Republish(ctx, 0)
	if err != nil {
		t.Fatalf("Republish: %v", err)
	}
	if n != 3 {
		t.Errorf("Republish re-emitted %d jobs, want all 3 still-queued", n)
	}

	// Running the sweep again is safe: same documents, harmless duplicates.
	if _, err := svc.Republish(ctx, 0); err != nil {
		t.Fatalf("second Republish: %v", err)
	}
}

// racingStore makes every CreateBatch lose the race: a competing identical
// upload is committed first through the inner store.
type racingStore struct {
	*store.Memory
	rival uuid.UUID
}

func (r *racingStore) CreateBatch(ctx context.Context, params store.CreateBatchParams, docs []store.NewDocument) (store.Batch, error) {
	if _, err := r.Memory.BatchByFingerprint(ctx, params.ContentHash); errors.Is(err, store.ErrBatchNotFound) {
		rivalParams := params
		rivalParams.OwnerID = r.rival
		if _, err := r.Memory.CreateBatch(ctx, rivalParams, docs); err != nil {
			return store.Batch{}, fmt.Errorf("rival create: %w", err)
		}
	}
	return r.Memory.CreateBatch(ctx, params, docs)
}

func TestIngestLostRaceFallsBackToReuse(t *testing.T) {
	mem := store.NewMemory()
	pub := newFakePublisher()
	rival := uuid.New()
	svc := NewService(&racingStore{Memory: mem, rival: rival}, pub)
	ctx := context.Background()

	res, err := svc.Ingest(ctx, uuid.New(), "manifest.csv", []byte(sampleManifest))
	if err != nil {
		t.Fatalf("Ingest surfaced lost race as error: %v", err)
	}
	if !res.Reused {
		t.Error("lost race not reported as reuse")
	}
	if res.Progress.Total != 3 {
		t.Errorf("Progress.Total = %d, want 3", res.Progress.Total)
	}

	batches, _ := mem.ListBatches(ctx, nil)
	if len(batches) != 1 {
		t.Errorf("%d batches after race, want 1", len(batches))
	}
	if batches[0].OwnerID != rival {
		t.Error("winning batch is not the rival's")
	}
	// The loser emitted no jobs of its own.
	if pub.count() != 0 {
		t.Errorf("loser published %d jobs, want 0", pub.count())
	}
}

func TestIngestDedupReflectsWorkerProgress(t *testing.T) {
	svc, mem, _ := newTestService()
	ctx := context.Background()

	first, err := svc.Ingest(ctx, uuid.New(), "manifest.csv", []byte(sampleManifest))
	if err != nil {
		t.Fatal(err)
	}

	docs, _ := mem.DocumentsByBatch(ctx, first.BatchID)
	mem.SetDocumentStatus(docs[0].ID, store.StatusProcessed)
	mem.SetDocumentStatus(docs[1].ID, store.StatusProcessed)
	mem.SetDocumentStatus(docs[2].ID, store.StatusError)

	res, err := svc.Ingest(ctx, uuid.New(), "again.csv", []byte(sampleManifest))
	if err != nil {
		t.Fatal(err)
	}
	want := Progress{Total: 3, Processed: 2, Errors: 1, State: StateDone}
	if res.Progress != want {
		t.Errorf("Progress = %+v, want %+v", res.Progress, want)
	}
}

func TestRepublishSkipsAdvancedDocuments(t *testing.T) {
	svc, mem, pub := newTestService()
	ctx := context.Background()

	res, err := svc.Ingest(ctx, uuid.New(), "manifest.csv", []byte(sampleManifest))
	if err != nil {
		t.Fatal(err)
	}
	docs, _ := mem.DocumentsByBatch(ctx, res.BatchID)
	mem.SetDocumentStatus(docs[0].ID, store.StatusProcessing)
	mem.SetDocumentStatus(docs[1].ID, store.StatusProcessed)

	before := pub.count()
	n, err := svc.Republish(ctx, 0)
	if err != nil {
		t.Fatalf("Republish: %v", err)
	}
	if n != 1 {
		t.Errorf("Republish re-emitted %d jobs, want only the QUEUED one", n)
	}
	if pub.count() != before+1 {
		t.Errorf("published %d new jobs, want 1", pub.count()-before)
	}
}

func TestRepublishHonorsAgeThreshold(t *testing.T) {
	svc, _, pub := newTestService()
	ctx := context.Background()

	if _, err := svc.Ingest(ctx, uuid.New(), "manifest.csv", []byte(sampleManifest)); err != nil {
		t.Fatal(err)
	}
	before := pub.count()

	// Freshly created documents are younger than the threshold.
	n, err := svc.Republish(ctx, time.Hour)
	if err != nil {
		t.Fatalf("Republish: %v", err)
	}
	if n != 0 || pub.count() != before {
		t.Errorf("Republish swept %d fresh documents, want 0", n)
	}
}
