package syncx

import (
	"context"
	"database/sql"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/pkg/errors"
)

const (
	TypeAttemptRecorded   = "AttemptRecorded"
	TypeOverrideConsumed  = "OverrideConsumed"
	TypeOverrideDecided   = "OverrideDecided"
	TypeOverrideRequested = "OverrideRequested"
)

type Event struct {
	Offset    int64  `json:"offset"`
	SiteID    string `json:"site_id"`
	Type      string `json:"type"`
	Key       string `json:"key"`
	DataJSON  string `json:"data"`
	CreatedAt int64  `json:"created_at"`
}

// NewEvent encodes payload as the event data.
func NewEvent(typ, key string, payload any) (Event, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Event{}, errors.Wrapf(err, "encode %s event", typ)
	}
	return Event{Type: typ, Key: key, DataJSON: string(b)}, nil
}

// Log is an append-only audit trail.
type Log interface {
	Append(ctx context.Context, e Event) error
	List(ctx context.Context, afterOffset int64, limit int) ([]Event, error)
}

type EventRepo struct {
	db     *sql.DB
	siteID string
}

func NewEventRepo(db *sql.DB, siteID string) *EventRepo {
	if siteID == "" {
		siteID = "local"
	}
	return &EventRepo{db: db, siteID: siteID}
}

func (r *EventRepo) Append(ctx context.Context, e Event) error {
	if e.SiteID == "" {
		e.SiteID = r.siteID
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO event_log (site_id, typ, key, data, created_at)
		 VALUES ($1,$2,$3,$4,$5)`,
		e.SiteID, e.Type, e.Key, e.DataJSON, time.Now().Unix())
	return errors.Wrapf(err, "append %s event", e.Type)
}

func (r *EventRepo) List(ctx context.Context, afterOffset int64, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT "offset", site_id, typ, key, data, created_at FROM event_log
		 WHERE "offset" > $1 ORDER BY "offset" LIMIT $2`, afterOffset, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list events")
	}
	defer rows.Close()
	out := []Event{}
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.Offset, &e.SiteID, &e.Type, &e.Key, &e.DataJSON, &e.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		out = append(out, e)
	}
	return out, errors.Wrap(rows.Err(), "iterate events")
}

// MemoryLog keeps events in process.
type MemoryLog struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryLog() *MemoryLog { return &MemoryLog{} }

func (m *MemoryLog) Append(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.SiteID == "" {
		e.SiteID = "local"
	}
	e.Offset = int64(len(m.events)) + 1
	e.CreatedAt = time.Now().Unix()
	m.events = append(m.events, e)
	return nil
}

func (m *MemoryLog) List(_ context.Context, afterOffset int64, limit int) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	out := []Event{}
	for _, e := range m.events {
		if e.Offset > afterOffset && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}
