package model

import (
	"strings"
	"time"
)

// ContentFormat is the detected markup dialect of a stored text field.
type ContentFormat string

const (
	FormatHTMLEscaped ContentFormat = "html-escaped"
	FormatHTML        ContentFormat = "html"
	FormatMarkdown    ContentFormat = "markdown"
	FormatEmpty       ContentFormat = "empty"
	FormatUnknown     ContentFormat = "unknown"
)

// AllFormats lists every format in classification order.
var AllFormats = []ContentFormat{FormatEmpty, FormatHTMLEscaped, FormatHTML, FormatMarkdown, FormatUnknown}

// ColumnKind selects which checks the auditor runs on a column.
type ColumnKind string

const (
	ColumnContent ColumnKind = "content"
	ColumnSlug    ColumnKind = "slug"
)

// ColumnRef points at a text column in the store.
type ColumnRef struct {
	Table  string     `json:"table"`
	Column string     `json:"column"`
	Kind   ColumnKind `json:"kind"`
}

// String renders the reference as table.column.
func (c ColumnRef) String() string {
	return c.Table + "." + c.Column
}

// ParseColumnRef splits a "table.column" string. ok is false when either
// part is missing.
func ParseColumnRef(s string, kind ColumnKind) (ColumnRef, bool) {
	table, column, found := strings.Cut(strings.TrimSpace(s), ".")
	if !found || table == "" || column == "" {
		return ColumnRef{}, false
	}
	return ColumnRef{Table: table, Column: column, Kind: kind}, true
}

// ContentField is one stored text value under audit.
type ContentField struct {
	Ref            ColumnRef     `json:"ref"`
	RowID          int64         `json:"row_id"`
	Value          string        `json:"value"`
	DetectedFormat ContentFormat `json:"detected_format"`
	RepairedValue  string        `json:"repaired_value,omitempty"`
	Anomaly        string        `json:"anomaly,omitempty"`
}

// NeedsRepair reports whether a proposed value differs from the stored one.
func (f ContentField) NeedsRepair() bool {
	return f.RepairedValue != "" && f.RepairedValue != f.Value
}

// FieldAudit aggregates the audit of one column.
type FieldAudit struct {
	Ref       ColumnRef             `json:"ref"`
	Scanned   int                   `json:"scanned"`
	Nulls     int                   `json:"nulls"`
	Formats   map[ContentFormat]int `json:"formats"`
	Anomalies int                   `json:"anomalies"`
	Proposed  int                   `json:"proposed"`
	Modified  int                   `json:"modified"`
	Stale     int                   `json:"stale"`
	Conflicts int                   `json:"conflicts"`
	Failed    int                   `json:"failed"`
	Truncated bool                  `json:"truncated"`
	Error     string                `json:"error,omitempty"`
	Samples   []ContentField        `json:"samples,omitempty"`
}

// AuditReport is the result of one auditor invocation.
type AuditReport struct {
	Repair     bool         `json:"repair"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Fields     []FieldAudit `json:"fields"`
	Modified   int          `json:"modified"`
}
