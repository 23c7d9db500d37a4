// Package store keeps a SQLite journal of the alerts the monitor raised and
// the operator acknowledged.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yeonjoon13/intended-route-monitor/internal/model"

	_ "modernc.org/sqlite"
)

// timeFormat is fixed width so that stored times sort as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

type Kind string

const (
	KindAlert        Kind = "alert"
	KindAcknowledged Kind = "acknowledged"
)

// Entry is one journaled alert or acknowledgment.
type Entry struct {
	ID          uuid.UUID
	MMSI        model.MMSI
	Kind        Kind
	OwnLeg      int
	TargetLeg   int
	DistanceNM  float64
	CPATime     time.Time
	Description string
	RecordedAt  time.Time
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the journal at path.
func Open(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS alerts (
		id           TEXT PRIMARY KEY,
		mmsi         INTEGER NOT NULL,
		kind         TEXT NOT NULL,
		own_leg      INTEGER NOT NULL,
		target_leg   INTEGER NOT NULL,
		distance_nm  REAL NOT NULL,
		cpa_time     TEXT NOT NULL,
		description  TEXT NOT NULL,
		recorded_at  TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_alerts_mmsi ON alerts(mmsi, recorded_at);
	`)
	return err
}

// Record journals an alert, as an acknowledgment if a.Acknowledged is set.
func (s *Store) Record(ctx context.Context, a model.Alert) (Entry, error) {
	e := Entry{
		ID:          uuid.New(),
		MMSI:        a.MMSI,
		Kind:        KindAlert,
		OwnLeg:      a.Message.OwnLeg,
		TargetLeg:   a.Message.TargetLeg,
		DistanceNM:  a.Message.Distance,
		CPATime:     a.Message.OwnTime.UTC(),
		Description: a.Message.Description,
		RecordedAt:  s.now().UTC(),
	}
	if a.Acknowledged {
		e.Kind = KindAcknowledged
	}

	err := retryOp(ctx, defaultRetryConfig, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO alerts (id, mmsi, kind, own_leg, target_leg, distance_nm, cpa_time, description, recorded_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID.String(), int64(e.MMSI), string(e.Kind), e.OwnLeg, e.TargetLeg, e.DistanceNM,
			e.CPATime.Format(timeFormat), e.Description, e.RecordedAt.Format(timeFormat),
		)
		return err
	})
	if err != nil {
		return Entry{}, fmt.Errorf("record %s for %d: %w", e.Kind, e.MMSI, err)
	}
	return e, nil
}

// Entries returns journal entries oldest first, for one vessel or for all
// vessels if mmsi is 0. A limit <= 0 returns everything.
func (s *Store) Entries(ctx context.Context, mmsi model.MMSI, limit int) ([]Entry, error) {
	q := `SELECT id, mmsi, kind, own_leg, target_leg, distance_nm, cpa_time, description, recorded_at
	      FROM alerts WHERE (? = 0 OR mmsi = ?) ORDER BY recorded_at, rowid`
	args := []any{int64(mmsi), int64(mmsi)}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                  Entry
			id, kind, cpa, rec string
			mmsiVal            int64
		)
		if err := rows.Scan(&id, &mmsiVal, &kind, &e.OwnLeg, &e.TargetLeg, &e.DistanceNM,
			&cpa, &e.Description, &rec); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		if e.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("entry id %q: %w", id, err)
		}
		if e.CPATime, err = time.Parse(timeFormat, cpa); err != nil {
			return nil, fmt.Errorf("entry %s cpa time: %w", id, err)
		}
		if e.RecordedAt, err = time.Parse(timeFormat, rec); err != nil {
			return nil, fmt.Errorf("entry %s recorded at: %w", id, err)
		}
		e.MMSI = model.MMSI(mmsiVal)
		e.Kind = Kind(kind)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
