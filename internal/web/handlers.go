package web

import (
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sgcan/docingest/internal/logging"
	"github.com/sgcan/docingest/internal/store"
)

// ownerHeader carries the caller's identity, resolved by an upstream
// gateway. This service treats it as an opaque owner id.
const ownerHeader = "X-Owner-ID"

func ownerID(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.Header.Get(ownerHeader))
	if err != nil {
		return uuid.UUID{}, false
	}
	return id, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"service": "docingest",
		"time":    time.Now().UTC(),
	})
}

// uploadResponse is the first-time ingestion response. Dispatched and
// Warning appear only when job publication stopped partway.
type uploadResponse struct {
	Reused     bool      `json:"reused"`
	BatchID    uuid.UUID `json:"batchId"`
	RowCount   int       `json:"rowCount"`
	Dispatched *int      `json:"dispatched,omitempty"`
	Warning    string    `json:"warning,omitempty"`
}

// reusedResponse is the dedup-hit response.
type reusedResponse struct {
	Reused         bool      `json:"reused"`
	BatchID        uuid.UUID `json:"batchId"`
	DisplayName    string    `json:"displayName"`
	TotalLinks     int       `json:"totalLinks"`
	ProcessedCount int       `json:"processedCount"`
	ErrorCount     int       `json:"errorCount"`
	Status         string    `json:"status"`
}

// handleUpload ingests one manifest file posted as multipart/form-data.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{
			Error: "missing or invalid " + ownerHeader + " header", Code: "UNAUTHORIZED",
		})
		return
	}

	maxSize := s.cfg.Upload.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)

	if err := r.ParseMultipartForm(maxSize); err != nil {
		writeBadRequest(w, "file too large or invalid form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeBadRequest(w, "no file provided")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeBadRequest(w, "failed to read file")
		return
	}
	if len(data) == 0 {
		writeBadRequest(w, "file is empty")
		return
	}

	result, err := s.service.Ingest(r.Context(), owner, header.Filename, data)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	if result.Reused {
		writeJSON(w, http.StatusOK, reusedResponse{
			Reused:         true,
			BatchID:        result.BatchID,
			DisplayName:    result.FileName,
			TotalLinks:     result.Progress.Total,
			ProcessedCount: result.Progress.Processed,
			ErrorCount:     result.Progress.Errors,
			Status:         string(result.Progress.State),
		})
		return
	}

	resp := uploadResponse{BatchID: result.BatchID, RowCount: result.RowCount}
	if result.Publish != nil {
		// Degraded success: everything is persisted, dispatch is incomplete.
		// The republish sweep closes the gap.
		dispatched := result.Publish.Published
		resp.Dispatched = &dispatched
		resp.Warning = "ingestion succeeded but job dispatch is incomplete"
		writeJSON(w, http.StatusAccepted, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// batchListItem is the batch-listing read model.
type batchListItem struct {
	ID             uuid.UUID `json:"id"`
	DisplayName    string    `json:"displayName"`
	CreatedAt      time.Time `json:"createdAt"`
	TotalLinks     int       `json:"totalLinks"`
	ProcessedCount int       `json:"processedCount"`
	ErrorCount     int       `json:"errorCount"`
	Status         string    `json:"status"`
}

// handleListBatches lists batches with aggregated progress, newest first.
// With ?mine=true the listing is restricted to the caller's batches.
func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	var owner *uuid.UUID
	if r.URL.Query().Get("mine") == "true" {
		id, ok := ownerID(r)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{
				Error: "mine=true requires the " + ownerHeader + " header", Code: "UNAUTHORIZED",
			})
			return
		}
		owner = &id
	}

	views, err := s.service.ListBatches(r.Context(), owner)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	items := make([]batchListItem, len(views))
	for i, v := range views {
		items[i] = batchListItem{
			ID:             v.Batch.ID,
			DisplayName:    v.Batch.FileName,
			CreatedAt:      v.Batch.CreatedAt,
			TotalLinks:     v.Progress.Total,
			ProcessedCount: v.Progress.Processed,
			ErrorCount:     v.Progress.Errors,
			Status:         string(v.Progress.State),
		}
	}
	writeJSON(w, http.StatusOK, items)
}

// documentItem is the document-listing read model.
type documentItem struct {
	ID              uuid.UUID `json:"id"`
	Code            string    `json:"code"`
	Title           string    `json:"title"`
	PublicationDate *string   `json:"publicationDate"`
	SourceFileLabel string    `json:"sourceFileLabel"`
	SourceURL       string    `json:"sourceUrl"`
	PageCount       *int32    `json:"pageCount"`
	DocumentType    string    `json:"documentType"`
	Status          string    `json:"status"`
	ExtractedText   *string   `json:"extractedText"`
}

// handleBatchDocuments lists one batch's documents ordered by code.
func (s *Server) handleBatchDocuments(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeBadRequest(w, "invalid batch id")
		return
	}

	docs, err := s.service.BatchDocuments(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	items := make([]documentItem, len(docs))
	for i, d := range docs {
		items[i] = toDocumentItem(d)
	}
	writeJSON(w, http.StatusOK, items)
}

func toDocumentItem(d store.Document) documentItem {
	return documentItem{
		ID:              d.ID,
		Code:            d.Code,
		Title:           d.Title,
		PublicationDate: d.PublicationDate,
		SourceFileLabel: d.SourceFile,
		SourceURL:       d.SourceURL,
		PageCount:       d.PageCount,
		DocumentType:    d.DocType,
		Status:          string(d.Status),
		ExtractedText:   d.ExtractedText,
	}
}

// handleRepublish runs the reconciliation sweep: re-emit jobs for documents
// still QUEUED past the configured age. Safe to trigger repeatedly.
func (s *Server) handleRepublish(w http.ResponseWriter, r *http.Request) {
	count, err := s.service.Republish(r.Context(), s.cfg.Broker.RepublishAge)
	if err != nil {
		logging.FromContext(r.Context()).Error("republish sweep failed",
			"republished", count,
			"error", err,
		)
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"republished": count,
			"error":       "broker unavailable, sweep incomplete",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"republished": count})
}
