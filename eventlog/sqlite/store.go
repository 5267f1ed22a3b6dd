// Package sqlite stores the event log in a single SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/Soyelijah/dashboard-dysaeats-sub001/eventlog"
)

//go:embed schema.sql
var schema string

// Store implements eventlog.Backend on SQLite.
type Store struct {
	sqlDB *sql.DB
}

var _ eventlog.Backend = (*Store)(nil)

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("storage path is required")
	}
	dsn := filepath.Clean(path) +
		"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite db")
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, errors.Wrap(err, "ping sqlite db")
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, errors.Wrap(err, "apply schema")
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close is nil-safe so callers can defer it on every startup path.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) AppendEvent(ctx context.Context, evt eventlog.Event) (eventlog.Event, error) {
	if err := ctx.Err(); err != nil {
		return eventlog.Event{}, err
	}
	metadata, err := sonic.Marshal(evt.Metadata)
	if err != nil {
		return eventlog.Event{}, errors.Wrap(err, "encode metadata")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return eventlog.Event{}, errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback()

	var head int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_type = ? AND aggregate_id = ?`,
		string(evt.AggregateType), evt.AggregateID,
	).Scan(&head)
	if err != nil {
		return eventlog.Event{}, errors.Wrap(err, "read stream head")
	}
	if evt.Version != head+1 {
		return eventlog.Event{}, eventlog.Conflict(evt.Stream(), evt.Version, head)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (id, aggregate_type, aggregate_id, version, event_type, payload, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		evt.ID, string(evt.AggregateType), evt.AggregateID, evt.Version, evt.Type,
		[]byte(evt.Payload), string(metadata), eventlog.ToMillis(evt.CreatedAt),
	)
	if err != nil {
		if isConstraintError(err) {
			return eventlog.Event{}, eventlog.Conflict(evt.Stream(), evt.Version, -1)
		}
		return eventlog.Event{}, errors.Wrap(err, "insert event")
	}
	if err := tx.Commit(); err != nil {
		if isConstraintError(err) {
			return eventlog.Event{}, eventlog.Conflict(evt.Stream(), evt.Version, -1)
		}
		return eventlog.Event{}, errors.Wrap(err, "commit")
	}
	return evt, nil
}

func (s *Store) ListEvents(ctx context.Context, stream eventlog.StreamKey, fromVersion int64) ([]eventlog.Event, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, version, event_type, payload, metadata, created_at
		 FROM events WHERE aggregate_type = ? AND aggregate_id = ? AND version > ?
		 ORDER BY version ASC`,
		string(stream.AggregateType), stream.AggregateID, fromVersion,
	)
	if err != nil {
		return nil, errors.Wrap(err, "query events")
	}
	defer rows.Close()

	var out []eventlog.Event
	for rows.Next() {
		var (
			evt       eventlog.Event
			payload   []byte
			metadata  string
			createdAt int64
		)
		if err := rows.Scan(&evt.ID, &evt.Version, &evt.Type, &payload, &metadata, &createdAt); err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		if metadata != "" {
			if err := sonic.UnmarshalString(metadata, &evt.Metadata); err != nil {
				return nil, errors.Wrapf(err, "decode metadata of %s v%d", stream, evt.Version)
			}
		}
		evt.AggregateType = stream.AggregateType
		evt.AggregateID = stream.AggregateID
		evt.Payload = payload
		evt.CreatedAt = eventlog.FromMillis(createdAt)
		out = append(out, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate events")
	}
	return out, nil
}

func (s *Store) LatestSnapshot(ctx context.Context, stream eventlog.StreamKey) (eventlog.Snapshot, error) {
	var (
		snap      eventlog.Snapshot
		state     []byte
		createdAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT version, state, created_at FROM snapshots WHERE aggregate_type = ? AND aggregate_id = ?`,
		string(stream.AggregateType), stream.AggregateID,
	).Scan(&snap.Version, &state, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return eventlog.Snapshot{}, eventlog.ErrNotFound
	}
	if err != nil {
		return eventlog.Snapshot{}, errors.Wrap(err, "get snapshot")
	}
	snap.AggregateType = stream.AggregateType
	snap.AggregateID = stream.AggregateID
	snap.State = state
	snap.CreatedAt = eventlog.FromMillis(createdAt)
	return snap, nil
}

func (s *Store) PutSnapshot(ctx context.Context, snapshot eventlog.Snapshot) error {
	res, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO snapshots (aggregate_type, aggregate_id, version, state, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (aggregate_type, aggregate_id) DO UPDATE SET
		   version = excluded.version,
		   state = excluded.state,
		   created_at = excluded.created_at
		 WHERE excluded.version >= snapshots.version`,
		string(snapshot.AggregateType), snapshot.AggregateID, snapshot.Version,
		[]byte(snapshot.State), eventlog.ToMillis(snapshot.CreatedAt),
	)
	if err != nil {
		return errors.Wrap(err, "put snapshot")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "put snapshot rows affected")
	}
	if n == 0 {
		return eventlog.ErrStaleSnapshot
	}
	return nil
}

func (s *Store) DeleteEvent(ctx context.Context, stream eventlog.StreamKey, version int64) error {
	res, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM events WHERE aggregate_type = ? AND aggregate_id = ? AND version = ?`,
		string(stream.AggregateType), stream.AggregateID, version,
	)
	if err != nil {
		return errors.Wrap(err, "delete event")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "delete event rows affected")
	}
	if n == 0 {
		return eventlog.ErrNotFound
	}
	return nil
}

func (s *Store) ListStreams(ctx context.Context, aggregateType eventlog.AggregateType) ([]eventlog.StreamInfo, error) {
	query := `SELECT aggregate_type, aggregate_id, MAX(version) FROM events`
	var args []any
	if aggregateType != "" {
		query += ` WHERE aggregate_type = ?`
		args = append(args, string(aggregateType))
	}
	query += ` GROUP BY aggregate_type, aggregate_id ORDER BY aggregate_type, aggregate_id`

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list streams")
	}
	defer rows.Close()

	var out []eventlog.StreamInfo
	for rows.Next() {
		var (
			aggType string
			info    eventlog.StreamInfo
		)
		if err := rows.Scan(&aggType, &info.Stream.AggregateID, &info.Version); err != nil {
			return nil, errors.Wrap(err, "scan stream")
		}
		info.Stream.AggregateType = eventlog.AggregateType(aggType)
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate streams")
	}
	return out, nil
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}
