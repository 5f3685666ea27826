package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// uniqueViolation is the Postgres error code for a unique constraint breach.
const uniqueViolation = "23505"

// Postgres is the production Store backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// NewPostgres returns a Store backed by pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// EnsureSchema applies the embedded DDL. Safe to run on every startup; all
// statements are IF NOT EXISTS.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

// CreateBatch inserts the batch and its documents in one transaction. The
// bulk document insert uses the COPY protocol. On a content-hash uniqueness
// violation the transaction is rolled back and ErrDuplicateFingerprint is
// returned so the caller can fall back to the dedup-hit path.
func (p *Postgres) CreateBatch(ctx context.Context, params CreateBatchParams, docs []NewDocument) (Batch, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return Batch{}, fmt.Errorf("begin batch transaction: %w", err)
	}
	defer tx.Rollback(ctx) // no-op once committed

	batch := Batch{
		ID:          uuid.New(),
		FileName:    params.FileName,
		OwnerID:     params.OwnerID,
		ContentHash: params.ContentHash,
		CreatedAt:   time.Now().UTC(),
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO batches (id, file_name, owner_id, content_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		batch.ID, batch.FileName, batch.OwnerID, batch.ContentHash, batch.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return Batch{}, ErrDuplicateFingerprint
		}
		return Batch{}, fmt.Errorf("inserting batch: %w", err)
	}

	now := time.Now().UTC()
	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"documents"},
		[]string{"id", "batch_id", "code", "title", "publication_date",
			"source_file", "source_url", "page_count", "doc_type", "status", "created_at"},
		pgx.CopyFromSlice(len(docs), func(i int) ([]any, error) {
			d := docs[i]
			return []any{uuid.New(), batch.ID, d.Code, d.Title, d.PublicationDate,
				d.SourceFile, d.SourceURL, d.PageCount, d.DocType, string(StatusQueued), now}, nil
		}),
	)
	if err != nil {
		return Batch{}, fmt.Errorf("inserting documents: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return Batch{}, ErrDuplicateFingerprint
		}
		return Batch{}, fmt.Errorf("committing batch: %w", err)
	}
	return batch, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

const batchColumns = `id, file_name, owner_id, content_hash, created_at`

func scanBatch(row pgx.Row) (Batch, error) {
	var b Batch
	err := row.Scan(&b.ID, &b.FileName, &b.OwnerID, &b.ContentHash, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Batch{}, ErrBatchNotFound
	}
	if err != nil {
		return Batch{}, fmt.Errorf("scanning batch: %w", err)
	}
	return b, nil
}

func (p *Postgres) BatchByFingerprint(ctx context.Context, hash string) (Batch, error) {
	return scanBatch(p.pool.QueryRow(ctx,
		`SELECT `+batchColumns+` FROM batches WHERE content_hash = $1`, hash))
}

func (p *Postgres) BatchByID(ctx context.Context, id uuid.UUID) (Batch, error) {
	return scanBatch(p.pool.QueryRow(ctx,
		`SELECT `+batchColumns+` FROM batches WHERE id = $1`, id))
}

// countsSelect computes per-status counts with FILTER so a single scan covers
// both the listing read model and integrity checking.
const countsSelect = `
	count(d.id),
	count(*) FILTER (WHERE d.status = 'QUEUED'),
	count(*) FILTER (WHERE d.status = 'PROCESSING'),
	count(*) FILTER (WHERE d.status = 'PROCESSED'),
	count(*) FILTER (WHERE d.status = 'ERROR')`

// checkCounts flags documents whose status fell outside every known bucket.
func checkCounts(batchID uuid.UUID, c StatusCounts) error {
	if c.Queued+c.Processing+c.Processed+c.Errors != c.Total {
		return &IntegrityError{BatchID: batchID, Status: "(unrecognized)"}
	}
	return nil
}

func (p *Postgres) ListBatches(ctx context.Context, owner *uuid.UUID) ([]BatchSummary, error) {
	query := `
		SELECT b.id, b.file_name, b.owner_id, b.content_hash, b.created_at, ` + countsSelect + `
		FROM batches b
		LEFT JOIN documents d ON d.batch_id = b.id`
	args := []any{}
	if owner != nil {
		query += ` WHERE b.owner_id = $1`
		args = append(args, *owner)
	}
	query += `
		GROUP BY b.id
		ORDER BY b.created_at DESC`

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing batches: %w", err)
	}
	defer rows.Close()

	summaries := []BatchSummary{}
	for rows.Next() {
		var s BatchSummary
		if err := rows.Scan(&s.ID, &s.FileName, &s.OwnerID, &s.ContentHash, &s.CreatedAt,
			&s.Counts.Total, &s.Counts.Queued, &s.Counts.Processing,
			&s.Counts.Processed, &s.Counts.Errors); err != nil {
			return nil, fmt.Errorf("scanning batch summary: %w", err)
		}
		if err := checkCounts(s.ID, s.Counts); err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing batches: %w", err)
	}
	return summaries, nil
}

func (p *Postgres) StatusCounts(ctx context.Context, batchID uuid.UUID) (StatusCounts, error) {
	var c StatusCounts
	err := p.pool.QueryRow(ctx,
		`SELECT `+countsSelect+` FROM documents d WHERE d.batch_id = $1`, batchID,
	).Scan(&c.Total, &c.Queued, &c.Processing, &c.Processed, &c.Errors)
	if err != nil {
		return StatusCounts{}, fmt.Errorf("counting documents: %w", err)
	}
	if err := checkCounts(batchID, c); err != nil {
		return StatusCounts{}, err
	}
	return c, nil
}

const documentColumns = `id, batch_id, code, title, publication_date, source_file,
	source_url, page_count, doc_type, status, extracted_text, error_message,
	created_at, updated_at`

func scanDocuments(rows pgx.Rows) ([]Document, error) {
	defer rows.Close()
	docs := []Document{}
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.BatchID, &d.Code, &d.Title, &d.PublicationDate,
			&d.SourceFile, &d.SourceURL, &d.PageCount, &d.DocType, &d.Status,
			&d.ExtractedText, &d.ErrorMessage, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading documents: %w", err)
	}
	return docs, nil
}

func (p *Postgres) DocumentsByBatch(ctx context.Context, batchID uuid.UUID) ([]Document, error) {
	if _, err := p.BatchByID(ctx, batchID); err != nil {
		return nil, err
	}
	rows, err := p.pool.Query(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE batch_id = $1 ORDER BY code`, batchID)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	return scanDocuments(rows)
}

func (p *Postgres) QueuedDocuments(ctx context.Context, createdBefore time.Time) ([]Document, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE status = $1 AND created_at < $2
		 ORDER BY created_at`, string(StatusQueued), createdBefore)
	if err != nil {
		return nil, fmt.Errorf("querying queued documents: %w", err)
	}
	return scanDocuments(rows)
}
