package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/listing-ingest/internal/model"
)

// writeEncoded renders v as json or yaml.
func writeEncoded(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return eris.Wrap(err, "encode yaml")
		}
		return enc.Close()
	default:
		return eris.Errorf("unsupported output format: %s", format)
	}
}

// formatSummary writes a human-readable run summary.
func formatSummary(w io.Writer, s *model.RunSummary) {
	status := "success"
	if !s.Success {
		status = "failed"
	}
	fmt.Fprintf(w, "Run %s: %s (%s)\n", s.RunID, status, s.Duration().Round(time.Millisecond))
	fmt.Fprintf(w, "  links:     %d discovered, %d truncated\n", s.LinksDiscovered, s.LinksTruncated)
	fmt.Fprintf(w, "  listings:  %d inserted, %d skipped, %d errors, %d dropped\n", s.Inserted, s.Skipped, s.Errors, s.Dropped)
	if s.DeadlineExceeded {
		fmt.Fprintln(w, "  deadline exceeded")
	}
	if len(s.SideEffects) > 0 {
		keys := make([]string, 0, len(s.SideEffects))
		for k := range s.SideEffects {
			keys = append(keys, string(k))
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%d", k, s.SideEffects[model.SideEffectStatus(k)]))
		}
		fmt.Fprintf(w, "  side effects: %s\n", strings.Join(parts, " "))
	}
	for _, m := range s.Messages {
		fmt.Fprintf(w, "  - %s\n", m)
	}
	for _, f := range s.Failures {
		fmt.Fprintf(w, "  ! [%s] %s: %s\n", f.Stage, f.URL, f.Message)
	}
	if s.OmittedMessages > 0 {
		fmt.Fprintf(w, "  (%d more messages omitted)\n", s.OmittedMessages)
	}
}

// formatAuditTable writes one row per audited column. Cells are padded by
// display width so non-ASCII table names line up.
func formatAuditTable(w io.Writer, r *model.AuditReport) {
	header := []string{"COLUMN", "SCANNED", "NULLS"}
	for _, f := range model.AllFormats {
		header = append(header, strings.ToUpper(string(f)))
	}
	header = append(header, "ANOMALIES", "PROPOSED", "MODIFIED", "STALE", "CONFLICTS", "FAILED", "NOTE")

	rows := [][]string{header}
	for _, fa := range r.Fields {
		row := []string{fa.Ref.String(), strconv.Itoa(fa.Scanned), strconv.Itoa(fa.Nulls)}
		for _, f := range model.AllFormats {
			row = append(row, strconv.Itoa(fa.Formats[f]))
		}
		note := ""
		switch {
		case fa.Error != "":
			note = "error: " + fa.Error
		case fa.Truncated:
			note = "truncated"
		}
		row = append(row, strconv.Itoa(fa.Anomalies), strconv.Itoa(fa.Proposed), strconv.Itoa(fa.Modified),
			strconv.Itoa(fa.Stale), strconv.Itoa(fa.Conflicts), strconv.Itoa(fa.Failed), note)
		rows = append(rows, row)
	}

	widths := make([]int, len(header))
	for _, row := range rows {
		for i, cell := range row {
			if n := runewidth.StringWidth(cell); n > widths[i] {
				widths[i] = n
			}
		}
	}

	for _, row := range rows {
		var sb strings.Builder
		for i, cell := range row {
			if i > 0 {
				sb.WriteString("  ")
			}
			if i == len(row)-1 {
				sb.WriteString(cell)
				continue
			}
			sb.WriteString(runewidth.FillRight(cell, widths[i]))
		}
		fmt.Fprintln(w, strings.TrimRight(sb.String(), " "))
	}

	mode := "report only"
	if r.Repair {
		mode = "repair"
	}
	fmt.Fprintf(w, "\n%s: %d values modified\n", mode, r.Modified)

	for _, fa := range r.Fields {
		for _, s := range fa.Samples {
			fmt.Fprintf(w, "  %s #%d [%s]", s.Ref, s.RowID, s.DetectedFormat)
			if s.Anomaly != "" {
				fmt.Fprintf(w, " %s", s.Anomaly)
			}
			fmt.Fprintf(w, ": %s\n", runewidth.Truncate(oneLine(s.Value), 60, "..."))
		}
	}
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
