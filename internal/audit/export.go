package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ExportFormat defines supported export formats.
type ExportFormat string

const (
	// ExportFormatCSV exports logs as comma-separated values.
	ExportFormatCSV ExportFormat = "csv"
	// ExportFormatJSON exports logs as JSON array.
	ExportFormatJSON ExportFormat = "json"
)

// ErrUnsupportedFormat is returned for an unknown export format.
var ErrUnsupportedFormat = errors.New("unsupported export format")

// ExportOptions configures audit log export parameters. Actor and the
// entity filter are mutually exclusive; Actor wins when both are set.
type ExportOptions struct {
	Format     ExportFormat
	From       time.Time // inclusive, zero for unbounded
	To         time.Time // inclusive, zero for unbounded
	Actor      string
	EntityType string
	EntityID   string
	Limit      int // 0 = no limit
}

// ExportLogs exports audit logs matching the given options.
func ExportLogs(ctx context.Context, repo Repository, opts ExportOptions) ([]byte, error) {
	if repo == nil {
		return nil, ErrNilRepository
	}
	if opts.Format != ExportFormatCSV && opts.Format != ExportFormatJSON {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, opts.Format)
	}

	// Query without a limit so the time filter runs before truncation.
	var (
		logs []*AuditLog
		err  error
	)
	switch {
	case opts.Actor != "":
		logs, err = repo.QueryByActor(ctx, opts.Actor, 0)
	case opts.EntityType != "" && opts.EntityID != "":
		logs, err = repo.QueryByEntity(ctx, opts.EntityType, opts.EntityID, 0)
	default:
		logs, err = repo.List(ctx, 0)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query logs: %w", err)
	}

	if !opts.From.IsZero() || !opts.To.IsZero() {
		logs = filterByTimeRange(logs, opts.From, opts.To)
	}
	if opts.Limit > 0 && len(logs) > opts.Limit {
		logs = logs[:opts.Limit]
	}

	if opts.Format == ExportFormatCSV {
		return exportToCSV(logs)
	}
	return exportToJSON(logs)
}

func filterByTimeRange(logs []*AuditLog, from, to time.Time) []*AuditLog {
	var filtered []*AuditLog
	for _, log := range logs {
		if !from.IsZero() && log.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && log.CreatedAt.After(to) {
			continue
		}
		filtered = append(filtered, log)
	}
	return filtered
}

func exportToCSV(logs []*AuditLog) ([]byte, error) {
	buf := new(bytes.Buffer)
	writer := csv.NewWriter(buf)

	header := []string{
		"ID",
		"Timestamp (UTC)",
		"Actor",
		"Entity Type",
		"Entity ID",
		"Action",
		"Outcome",
		"Request ID",
		"IP Address",
		"User Agent",
	}
	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, log := range logs {
		row := []string{
			log.ID,
			log.CreatedAt.UTC().Format(time.RFC3339),
			log.Actor,
			log.EntityType,
			log.EntityID,
			log.Action,
			log.Outcome,
			log.RequestID,
			log.IPAddress,
			log.UserAgent,
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}

type exportLog struct {
	ID         string `json:"id"`
	Timestamp  string `json:"timestamp"`
	Actor      string `json:"actor"`
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	Action     string `json:"action"`
	Outcome    string `json:"outcome"`
	RequestID  string `json:"request_id,omitempty"`
	IPAddress  string `json:"ip_address,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`
}

func exportToJSON(logs []*AuditLog) ([]byte, error) {
	out := make([]exportLog, len(logs))
	for i, log := range logs {
		out[i] = exportLog{
			ID:         log.ID,
			Timestamp:  log.CreatedAt.UTC().Format(time.RFC3339),
			Actor:      log.Actor,
			EntityType: log.EntityType,
			EntityID:   log.EntityID,
			Action:     log.Action,
			Outcome:    log.Outcome,
			RequestID:  log.RequestID,
			IPAddress:  log.IPAddress,
			UserAgent:  log.UserAgent,
		}
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return data, nil
}
