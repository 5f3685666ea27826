// Package manifest parses tabular document manifests into normalized rows.
//
// Manifests are comma-separated with one header row. Header names are matched
// against a static alias table (see fields.go) so that accent and underscore
// variants of the same column all resolve to one logical field. Parsing is
// tolerant at the row level: a missing or malformed cell is coerced to its
// neutral value (empty string, nil page count) and the row is kept.
package manifest

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Row is one normalized manifest row. Text fields are trimmed; PageCount is
// nil when the cell was empty or not an integer; PublicationDate is either
// the cell rewritten to ISO form or the trimmed cell verbatim.
type Row struct {
	Code            string
	Title           string
	PublicationDate string
	SourceFile      string
	SourceURL       string
	PageCount       *int32
	DocType         string
}

// SchemaError reports a header row that cannot be matched to the required
// logical columns. Nothing past the header has been read when it is returned.
type SchemaError struct {
	Missing []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("manifest header missing required columns: %s",
		strings.Join(e.Missing, ", "))
}

// Rows is a lazy, forward-only sequence of normalized rows, in the style of
// bufio.Scanner: call Next, then Row, and check Err once Next returns false.
// The sequence is not restartable.
type Rows struct {
	cr        *csv.Reader
	positions [fieldCount]int
	cur       Row
	err       error
}

// Parse reads and resolves the header row of r. It returns a *SchemaError if
// any logical column has no recognized header, before reading any data row.
func Parse(r io.Reader) (*Rows, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1 // rows may be short; cells are padded later
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, &SchemaError{Missing: allCanonicalNames()}
	}
	if err != nil {
		return nil, fmt.Errorf("reading manifest header: %w", err)
	}

	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\uFEFF")
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	positions, missing := resolveHeader(header)
	if len(missing) > 0 {
		return nil, &SchemaError{Missing: missing}
	}

	return &Rows{cr: cr, positions: positions}, nil
}

func allCanonicalNames() []string {
	names := make([]string, 0, fieldCount)
	for _, spec := range fieldSpecs {
		names = append(names, spec.Aliases[0])
	}
	return names
}

// Next advances to the next manifest row. It returns false at end of input
// or on a read error; Err distinguishes the two.
func (rs *Rows) Next() bool {
	if rs.err != nil {
		return false
	}

	record, err := rs.cr.Read()
	if err == io.EOF {
		return false
	}
	if err != nil {
		rs.err = fmt.Errorf("reading manifest row: %w", err)
		return false
	}

	rs.cur = normalizeRow(record, rs.positions)
	return true
}

// Row returns the row read by the last successful call to Next.
func (rs *Rows) Row() Row {
	return rs.cur
}

// Err returns the first read error encountered, if any. A SchemaError never
// appears here; header problems are reported by Parse.
func (rs *Rows) Err() error {
	return rs.err
}

// Collect drains the sequence into a slice. Intended for callers that need
// the full row set anyway, such as the batch registry.
func (rs *Rows) Collect() ([]Row, error) {
	var rows []Row
	for rs.Next() {
		rows = append(rows, rs.Row())
	}
	return rows, rs.Err()
}

// normalizeRow applies the per-row normalization rules. Cells beyond the end
// of a short record read as empty; nothing here can fail.
func normalizeRow(record []string, positions [fieldCount]int) Row {
	cell := func(f Field) string {
		pos := positions[f]
		if pos < 0 || pos >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[pos])
	}

	return Row{
		Code:            cell(FieldCode),
		Title:           cell(FieldTitle),
		PublicationDate: normalizeDate(cell(FieldPublicationDate)),
		SourceFile:      cell(FieldSourceFile),
		SourceURL:       cell(FieldSourceURL),
		PageCount:       parsePageCount(cell(FieldPageCount)),
		DocType:         cell(FieldDocType),
	}
}

// normalizeDate rewrites dd/mm/yyyy to yyyy-mm-dd. Any cell that does not
// match that exact pattern passes through unchanged; the manifest templates
// already carry ISO dates in some columns and those must not be rejected.
func normalizeDate(s string) string {
	if s == "" {
		return ""
	}
	t, err := time.Parse("02/01/2006", s)
	if err != nil {
		return s
	}
	return t.Format("2006-01-02")
}

// parsePageCount parses an integer cell, nil when empty or unparseable.
func parsePageCount(s string) *int32 {
	if s == "" {
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return nil
	}
	v := int32(n)
	return &v
}
