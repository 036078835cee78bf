package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/quellhq/quell/idgen"
)

// Event types recorded by the quell runtime.
const (
	EventRuleApplied   = "rule_applied"
	EventRuleUndone    = "rule_undone"
	EventPresetApplied = "preset_applied"
	EventTweakSession  = "tweak_session"
	EventSiteReset     = "site_reset"
	EventSuggestion    = "suggestion"
	EventMaintenance   = "maintenance"
)

// Event is a domain-level record of one runtime action.
type Event struct {
	Type       string
	Host       string
	Path       string
	Selector   string
	Details    string // optional JSON
	Success    bool
	DurationMs int64
}

// StoredEvent is an Event as read back from the log.
type StoredEvent struct {
	EventID   string
	CreatedAt time.Time
	Event
}

// EventLogger writes domain events and manages retention cleanup.
type EventLogger struct {
	db    *sql.DB
	newID idgen.Generator
}

// EventLoggerOption configures an EventLogger.
type EventLoggerOption func(*EventLogger)

// WithEventIDGenerator sets a custom ID generator for event IDs.
func WithEventIDGenerator(gen idgen.Generator) EventLoggerOption {
	return func(l *EventLogger) { l.newID = gen }
}

// NewEventLogger creates a logger backed by the given observability database.
func NewEventLogger(db *sql.DB, opts ...EventLoggerOption) *EventLogger {
	l := &EventLogger{
		db:    db,
		newID: idgen.Prefixed("evt_", idgen.Default),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// LogEvent records a domain event. Non-blocking: errors are logged via slog
// but do not propagate, so a failing observability store never blocks the
// page pipeline.
func (l *EventLogger) LogEvent(ctx context.Context, event Event) {
	success := 0
	if event.Success {
		success = 1
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO quell_events (
			event_id, event_type, host, path, selector, details, success,
			duration_ms, created_at
		) VALUES (?,?,?,?,?,?,?,?,?)`,
		l.newID(), event.Type, event.Host, event.Path, event.Selector,
		orJSON(event.Details), success, event.DurationMs, time.Now().Unix())
	if err != nil {
		slog.Error("observability: event log failed", "error", err, "event_type", event.Type)
	}
}

// Filter narrows Query results. Zero values mean "any".
type Filter struct {
	Type  string
	Host  string
	Since time.Time
	Limit int // default 100
}

// Query retrieves events matching the filter, newest first.
func (l *EventLogger) Query(ctx context.Context, f Filter) ([]StoredEvent, error) {
	q := `SELECT event_id, event_type, host, path, selector, details, success,
		duration_ms, created_at
		FROM quell_events WHERE 1=1`
	var args []any

	if f.Type != "" {
		q += " AND event_type = ?"
		args = append(args, f.Type)
	}
	if f.Host != "" {
		q += " AND host = ?"
		args = append(args, f.Host)
	}
	if !f.Since.IsZero() {
		q += " AND created_at >= ?"
		args = append(args, f.Since.Unix())
	}

	limit := 100
	if f.Limit > 0 {
		limit = f.Limit
	}
	q += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("observability: query events: %w", err)
	}
	defer rows.Close()

	var events []StoredEvent
	for rows.Next() {
		var (
			e        StoredEvent
			success  int
			duration sql.NullInt64
			created  int64
		)
		if err := rows.Scan(&e.EventID, &e.Type, &e.Host, &e.Path, &e.Selector,
			&e.Details, &success, &duration, &created); err != nil {
			return nil, fmt.Errorf("observability: scan event: %w", err)
		}
		e.Success = success != 0
		if duration.Valid {
			e.DurationMs = duration.Int64
		}
		e.CreatedAt = time.Unix(created, 0)
		events = append(events, e)
	}
	return events, rows.Err()
}

// RetentionConfig specifies per-table retention in days. Zero means no cleanup.
type RetentionConfig struct {
	EventsDays     int
	HeartbeatsDays int
	RunVacuumAfter bool
}

// Cleanup deletes records exceeding the retention thresholds.
func Cleanup(ctx context.Context, db *sql.DB, cfg RetentionConfig) error {
	now := time.Now().Unix()

	type cleanupTarget struct {
		table  string
		column string
		days   int
	}
	targets := []cleanupTarget{
		{"quell_events", "created_at", cfg.EventsDays},
		{"heartbeats", "timestamp", cfg.HeartbeatsDays},
	}

	for _, t := range targets {
		if t.days <= 0 {
			continue
		}
		cutoff := now - int64(t.days*86400)
		q := fmt.Sprintf("DELETE FROM %s WHERE %s < ?", t.table, t.column)
		if _, err := db.ExecContext(ctx, q, cutoff); err != nil {
			return fmt.Errorf("observability: cleanup %s: %w", t.table, err)
		}
	}

	if cfg.RunVacuumAfter {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			return fmt.Errorf("observability: vacuum: %w", err)
		}
	}
	return nil
}

func orJSON(s string) string {
	if s == "" {
		return "{}"
	}
	return s
}
