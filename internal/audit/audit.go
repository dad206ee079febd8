// Package audit records go-to-cue, programmer-capture and playback
// start/stop events to an optional Postgres-backed trail. A nil *sql.DB
// disables recording entirely: callers never have to branch on whether
// auditing is configured.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// EventKind names the audited action.
type EventKind string

const (
	EventGoToCue            EventKind = "go_to_cue"
	EventProgrammerCaptured EventKind = "programmer_captured"
	EventPlaybackStarted    EventKind = "playback_started"
	EventPlaybackStopped    EventKind = "playback_stopped"
	EventDeviceAdded        EventKind = "device_added"
	EventDeviceRemoved      EventKind = "device_removed"
)

// Trail writes audit events to Postgres. A nil db makes every method a
// no-op, so a show run without an audit database configured behaves
// identically except for the missing rows.
type Trail struct {
	db  *sql.DB
	log *logrus.Entry
}

// New wraps db. Passing a nil db is valid and yields a disabled Trail.
func New(db *sql.DB, log *logrus.Entry) *Trail {
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	return &Trail{db: db, log: log}
}

// Open dials a Postgres DSN via lib/pq and wraps the resulting *sql.DB.
func Open(dsn string, log *logrus.Entry) (*Trail, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("audit: ping: %w", err)
	}
	return New(db, log), nil
}

// Close closes the underlying connection pool, if any.
func (t *Trail) Close() error {
	if t.db == nil {
		return nil
	}
	return t.db.Close()
}

// Schema is the table the Trail expects to exist. Migrations are out of
// scope here; an operator runs this (or an equivalent) once.
const Schema = `
CREATE TABLE IF NOT EXISTS lumenrig_audit_events (
	id         uuid PRIMARY KEY,
	kind       text NOT NULL,
	subject    text NOT NULL,
	detail     text NOT NULL DEFAULT '',
	occurred_at timestamptz NOT NULL
)`

// record inserts a single event row. Failures are logged, not returned:
// a broken audit database must never interrupt a live show.
func (t *Trail) record(ctx context.Context, kind EventKind, subject, detail string) {
	if t.db == nil {
		return
	}
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO lumenrig_audit_events (id, kind, subject, detail, occurred_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		uuid.New().String(), string(kind), subject, detail, time.Now().UTC())
	if err != nil {
		t.log.WithError(err).WithField("kind", kind).Warn("audit: record failed")
	}
}

// GoToCue records a layer's transition to a cue.
func (t *Trail) GoToCue(ctx context.Context, cueListName string, num float64, layerName string) {
	t.record(ctx, EventGoToCue, layerName, fmt.Sprintf("cue %v in %s", num, cueListName))
}

// ProgrammerCaptured records that a device's parameters were captured
// into the programmer.
func (t *Trail) ProgrammerCaptured(ctx context.Context, deviceID, paramName string) {
	t.record(ctx, EventProgrammerCaptured, deviceID, paramName)
}

// PlaybackStarted records a playback engine attach.
func (t *Trail) PlaybackStarted(ctx context.Context, rigName string) {
	t.record(ctx, EventPlaybackStarted, rigName, "")
}

// PlaybackStopped records a playback engine detach.
func (t *Trail) PlaybackStopped(ctx context.Context, rigName string) {
	t.record(ctx, EventPlaybackStopped, rigName, "")
}

// DeviceAdded records a device joining the rig.
func (t *Trail) DeviceAdded(ctx context.Context, deviceID, deviceType string) {
	t.record(ctx, EventDeviceAdded, deviceID, deviceType)
}

// DeviceRemoved records a device leaving the rig.
func (t *Trail) DeviceRemoved(ctx context.Context, deviceID, deviceType string) {
	t.record(ctx, EventDeviceRemoved, deviceID, deviceType)
}

// Recent returns the n most recent events, newest first. Returns an
// empty slice, not an error, when auditing is disabled.
func (t *Trail) Recent(ctx context.Context, n int) ([]Event, error) {
	if t.db == nil {
		return nil, nil
	}
	rows, err := t.db.QueryContext(ctx,
		`SELECT id, kind, subject, detail, occurred_at
		 FROM lumenrig_audit_events ORDER BY occurred_at DESC LIMIT $1`, n)
	if err != nil {
		return nil, fmt.Errorf("audit: query recent: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Kind, &e.Subject, &e.Detail, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Event is a single audited action.
type Event struct {
	ID         string
	Kind       string
	Subject    string
	Detail     string
	OccurredAt time.Time
}
