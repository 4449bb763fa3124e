package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"
)

// ParseExportFormat validates a format name. An empty name means JSON.
func ParseExportFormat(name string) (ExportFormat, error) {
	switch f := ExportFormat(name); f {
	case "":
		return ExportFormatJSON, nil
	case ExportFormatJSON, ExportFormatCSV, ExportFormatNDJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unknown export format %q: want json, csv or ndjson", name)
	}
}

// ContentType is the media type of an export in format f.
func (f ExportFormat) ContentType() string {
	switch f {
	case ExportFormatCSV:
		return "text/csv; charset=utf-8"
	case ExportFormatNDJSON:
		return "application/x-ndjson"
	default:
		return "application/json"
	}
}

// csvColumns lists the CSV header and how each cell is read from an event.
// Metadata and change details are JSON only.
var csvColumns = []struct {
	name  string
	value func(*AuditEvent) string
}{
	{"id", func(e *AuditEvent) string { return strconv.FormatInt(e.ID, 10) }},
	{"timestamp", func(e *AuditEvent) string { return e.Timestamp.UTC().Format(time.RFC3339) }},
	{"event_type", func(e *AuditEvent) string { return string(e.EventType) }},
	{"status", func(e *AuditEvent) string { return string(e.Status) }},
	{"actor_id", func(e *AuditEvent) string { return optionalID(e.ActorID) }},
	{"target_user_id", func(e *AuditEvent) string { return optionalID(e.TargetUserID) }},
	{"organization_id", func(e *AuditEvent) string { return optionalID(e.OrganizationID) }},
	{"workspace_id", func(e *AuditEvent) string { return optionalID(e.WorkspaceID) }},
	{"resource_type", func(e *AuditEvent) string { return string(e.ResourceType) }},
	{"resource_id", func(e *AuditEvent) string { return e.ResourceID }},
	{"request_id", func(e *AuditEvent) string { return e.RequestID }},
	{"message", func(e *AuditEvent) string { return e.Message }},
	{"error_message", func(e *AuditEvent) string { return e.ErrorMessage }},
}

// WriteExport streams events to w in format.
func WriteExport(w io.Writer, events []*AuditEvent, format ExportFormat) error {
	switch format {
	case ExportFormatCSV:
		return writeCSV(w, events)
	case ExportFormatNDJSON:
		enc := json.NewEncoder(w)
		for _, event := range events {
			if err := enc.Encode(event); err != nil {
				return fmt.Errorf("failed to encode event %d: %w", event.ID, err)
			}
		}
		return nil
	case ExportFormatJSON:
		if events == nil {
			events = []*AuditEvent{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(events)
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
}

// Export renders events in format into memory.
func Export(events []*AuditEvent, format ExportFormat) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteExport(&buf, events, format); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCSV(w io.Writer, events []*AuditEvent) error {
	writer := csv.NewWriter(w)

	row := make([]string, len(csvColumns))
	for i, col := range csvColumns {
		row[i] = col.name
	}
	if err := writer.Write(row); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, event := range events {
		for i, col := range csvColumns {
			row[i] = col.value(event)
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}

func optionalID(id *int64) string {
	if id == nil {
		return ""
	}
	return strconv.FormatInt(*id, 10)
}
