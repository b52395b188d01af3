package eventstore

import (
	"context"
	"errors"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/podcloud/balados-sync/internal/events"
)

const uniqueViolationCode = "23505"

// Postgres is the EventStore backed by a single Postgres database holding
// both the event table and every read-model table, so that a projector's
// read-model write and its checkpoint update commit atomically (spec
// §4.4). Grounded on mickamy/go-event-sourcing's pgx event store for the
// Append/Load shape.
type Postgres struct {
	pool    *pgxpool.Pool
	breaker *cbWrapper
}

// NewPostgres wires a Postgres-backed EventStore around an existing pool.
func NewPostgres(pool *pgxpool.Pool, cfg CircuitBreakerConfig) *Postgres {
	return &Postgres{pool: pool, breaker: newCBWrapper(cfg)}
}

type appendResult struct {
	newVersion      int64
	globalPositions []int64
}

func (s *Postgres) Append(ctx context.Context, streamID string, expectedVersion int64, evts []events.Event) (int64, []int64, error) {
	if len(evts) == 0 {
		return expectedVersion, nil, nil
	}
	result, err := s.breaker.run(ctx, func(ctx context.Context) (any, error) {
		return s.appendTx(ctx, streamID, expectedVersion, evts)
	})
	if err != nil {
		return 0, nil, err
	}
	ar := result.(appendResult)
	return ar.newVersion, ar.globalPositions, nil
}

func (s *Postgres) appendTx(ctx context.Context, streamID string, expectedVersion int64, evts []events.Event) (appendResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return appendResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Advisory lock keyed on the stream id serializes concurrent appenders
	// to this stream beyond the in-process aggregate-runtime lock (spec
	// §4.1 storage layout: "locks the stream row (advisory lock keyed on
	// hash(stream_id))").
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, streamID); err != nil {
		return appendResult{}, err
	}

	var currentVersion int64
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(stream_version), 0) FROM events WHERE stream_id = $1`,
		streamID,
	).Scan(&currentVersion)
	if err != nil {
		return appendResult{}, err
	}
	if currentVersion != expectedVersion {
		return appendResult{}, &WrongVersionError{StreamID: streamID, ExpectedVersion: expectedVersion, ActualVersion: currentVersion}
	}

	version := expectedVersion
	positions := make([]int64, 0, len(evts))
	for _, e := range evts {
		version++
		metaJSON, err := json.Marshal(e.Metadata)
		if err != nil {
			return appendResult{}, err
		}
		var globalPosition int64
		err = tx.QueryRow(ctx, `
			INSERT INTO events (stream_id, stream_version, type, payload, metadata, recorded_at)
			VALUES ($1, $2, $3, $4, $5, now())
			RETURNING global_position`,
			streamID, version, string(e.Type), []byte(e.Payload), metaJSON,
		).Scan(&globalPosition)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
				return appendResult{}, &WrongVersionError{StreamID: streamID, ExpectedVersion: expectedVersion, ActualVersion: currentVersion}
			}
			return appendResult{}, err
		}
		positions = append(positions, globalPosition)
	}

	if err := tx.Commit(ctx); err != nil {
		return appendResult{}, err
	}
	return appendResult{newVersion: version, globalPositions: positions}, nil
}

func (s *Postgres) ReadStream(ctx context.Context, streamID string, fromVersion int64, max int) ([]events.Event, error) {
	result, err := s.breaker.run(ctx, func(ctx context.Context) (any, error) {
		rows, err := s.pool.Query(ctx, `
			SELECT global_position, stream_id, stream_version, type, payload, metadata, recorded_at
			FROM events
			WHERE stream_id = $1 AND stream_version > $2
			ORDER BY stream_version ASC
			LIMIT $3`,
			streamID, fromVersion, max,
		)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		return scanEvents(rows)
	})
	if err != nil {
		return nil, err
	}
	return result.([]events.Event), nil
}

func (s *Postgres) ReadAll(ctx context.Context, fromGlobalPosition int64, max int) ([]events.Event, error) {
	result, err := s.breaker.run(ctx, func(ctx context.Context) (any, error) {
		rows, err := s.pool.Query(ctx, `
			SELECT global_position, stream_id, stream_version, type, payload, metadata, recorded_at
			FROM events
			WHERE global_position > $1
			ORDER BY global_position ASC
			LIMIT $2`,
			fromGlobalPosition, max,
		)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		return scanEvents(rows)
	})
	if err != nil {
		return nil, err
	}
	return result.([]events.Event), nil
}

func (s *Postgres) DeleteStreamEventsBefore(ctx context.Context, streamID string, keepFromVersion int64) error {
	_, err := s.breaker.run(ctx, func(ctx context.Context) (any, error) {
		_, err := s.pool.Exec(ctx, `DELETE FROM events WHERE stream_id = $1 AND stream_version < $2`, streamID, keepFromVersion)
		return nil, err
	})
	return err
}

func (s *Postgres) StreamsOlderThan(ctx context.Context, olderThan time.Time, max int) ([]string, error) {
	result, err := s.breaker.run(ctx, func(ctx context.Context) (any, error) {
		rows, err := s.pool.Query(ctx, `
			SELECT stream_id
			FROM events
			WHERE type != $1
			GROUP BY stream_id
			HAVING MIN(recorded_at) < $2
			ORDER BY MIN(recorded_at) ASC
			LIMIT $3`,
			string(events.UserCheckpoint), olderThan, max,
		)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		return ids, rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return result.([]string), nil
}

func scanEvents(rows pgx.Rows) ([]events.Event, error) {
	var out []events.Event
	for rows.Next() {
		var (
			e           events.Event
			typ         string
			payload     []byte
			metaJSON    []byte
		)
		if err := rows.Scan(&e.GlobalPosition, &e.StreamID, &e.StreamVersion, &typ, &payload, &metaJSON, &e.RecordedAt); err != nil {
			return nil, err
		}
		e.Type = events.Type(typ)
		e.Payload = payload
		if len(metaJSON) > 0 {
			var meta events.Metadata
			if err := json.Unmarshal(metaJSON, &meta); err != nil {
				return nil, err
			}
			e.Metadata = meta
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
