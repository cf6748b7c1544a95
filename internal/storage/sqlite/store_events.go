package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlitelib "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/perch-reviews/perch/internal/domain/event"
	"github.com/perch-reviews/perch/internal/storage"
)

const eventColumns = "aggregate_id, seq, timestamp, event_type, author_id, subject_id, payload_json"

// AppendEvents atomically appends a batch to the aggregate's journal.
//
// The expected version is compared against the journal's latest sequence
// inside the same transaction that writes the rows, so a concurrent writer
// either lands entirely before or entirely after this batch. On mismatch the
// append fails with storage.ErrConcurrentModification and writes nothing.
func (s *Store) AppendEvents(ctx context.Context, aggregateID string, expectedVersion uint64, events []event.Event) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(aggregateID) == "" {
		return nil, fmt.Errorf("aggregate id is required")
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("at least one event is required")
	}

	// Validate all events before opening a transaction.
	validated := make([]event.Event, len(events))
	for i, evt := range events {
		evt.AggregateID = aggregateID
		v, err := s.registry.ValidateForAppend(evt)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		if v.Timestamp.IsZero() {
			v.Timestamp = time.Now().UTC()
		}
		v.Timestamp = v.Timestamp.UTC().Truncate(time.Millisecond)
		validated[i] = v
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	latest, err := latestSeqTx(ctx, tx, aggregateID)
	if err != nil {
		return nil, err
	}
	if latest != expectedVersion {
		return nil, fmt.Errorf("aggregate %s at seq %d, expected %d: %w",
			aggregateID, latest, expectedVersion, storage.ErrConcurrentModification)
	}

	if latest > 0 {
		if err := s.checkJournalOpen(ctx, tx, aggregateID, validated); err != nil {
			return nil, err
		}
	}

	stored := make([]event.Event, len(validated))
	for i, evt := range validated {
		evt.Seq = latest + uint64(i) + 1
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO events ("+eventColumns+") VALUES (?, ?, ?, ?, ?, ?, ?)",
			evt.AggregateID,
			int64(evt.Seq),
			toMillis(evt.Timestamp),
			string(evt.Type),
			evt.AuthorID,
			evt.SubjectID,
			evt.PayloadJSON,
		); err != nil {
			if isConstraintError(err) {
				return nil, fmt.Errorf("append event %d: %w", i, storage.ErrConcurrentModification)
			}
			return nil, fmt.Errorf("append event %d: %w", i, err)
		}
		stored[i] = evt
	}

	nextSeq := int64(latest) + int64(len(validated)) + 1
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO event_seq (aggregate_id, next_seq) VALUES (?, ?) ON CONFLICT(aggregate_id) DO UPDATE SET next_seq = excluded.next_seq",
		aggregateID, nextSeq,
	); err != nil {
		return nil, fmt.Errorf("update event seq: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return stored, nil
}

// latestSeqTx reads the aggregate's version from the event_seq counter, the
// authoritative source the optimistic concurrency check compares against.
func latestSeqTx(ctx context.Context, tx *sql.Tx, aggregateID string) (uint64, error) {
	var nextSeq int64
	err := tx.QueryRowContext(ctx,
		"SELECT next_seq FROM event_seq WHERE aggregate_id = ?",
		aggregateID,
	).Scan(&nextSeq)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("read event seq: %w", err)
	default:
		return uint64(nextSeq - 1), nil
	}
}

// checkJournalOpen rejects authoring events once the journal holds a
// terminal event.
func (s *Store) checkJournalOpen(ctx context.Context, tx *sql.Tx, aggregateID string, batch []event.Event) error {
	authoring := false
	for _, evt := range batch {
		if def, ok := s.registry.Definition(evt.Type); ok && def.Authoring {
			authoring = true
			break
		}
	}
	if !authoring {
		return nil
	}

	var terminalTypes []any
	for _, def := range s.registry.ListDefinitions() {
		if def.Terminal {
			terminalTypes = append(terminalTypes, string(def.Type))
		}
	}
	if len(terminalTypes) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(terminalTypes)), ", ")
	var closed int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM events WHERE aggregate_id = ? AND event_type IN ("+placeholders+")",
		append([]any{aggregateID}, terminalTypes...)...,
	).Scan(&closed); err != nil {
		return fmt.Errorf("check terminal events: %w", err)
	}
	if closed > 0 {
		return fmt.Errorf("aggregate %s: %w", aggregateID, storage.ErrJournalClosed)
	}
	return nil
}

// ListEvents returns events ordered by sequence ascending.
func (s *Store) ListEvents(ctx context.Context, aggregateID string, afterSeq uint64, limit int) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(aggregateID) == "" {
		return nil, fmt.Errorf("aggregate id is required")
	}

	query := "SELECT " + eventColumns + " FROM events WHERE aggregate_id = ? AND seq > ? ORDER BY seq ASC"
	args := []any{aggregateID, int64(afterSeq)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, int64(limit))
	}

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	return scanEventRows(rows)
}

// GetLatestSeq returns the aggregate's current journal version from the
// event_seq counter, or zero when the aggregate has no events.
func (s *Store) GetLatestSeq(ctx context.Context, aggregateID string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(aggregateID) == "" {
		return 0, fmt.Errorf("aggregate id is required")
	}

	var nextSeq int64
	err := s.sqlDB.QueryRowContext(ctx,
		"SELECT next_seq FROM event_seq WHERE aggregate_id = ?",
		aggregateID,
	).Scan(&nextSeq)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("get latest seq: %w", err)
	default:
		return uint64(nextSeq - 1), nil
	}
}

// Scan returns every event matching the filter, ordered by aggregate id then
// sequence. An empty filter matches nothing.
func (s *Store) Scan(ctx context.Context, filter event.Filter) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	clause, params := scanFilterSQL(filter)
	if clause == "" {
		return nil, nil
	}

	query := "SELECT " + eventColumns + " FROM events WHERE " + clause + " ORDER BY aggregate_id ASC, seq ASC"
	rows, err := s.sqlDB.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("scan events: %w", err)
	}
	defer rows.Close()

	return scanEventRows(rows)
}

// scanFilterSQL translates a domain filter into a WHERE fragment. Clauses
// with an empty type set match nothing and produce no SQL.
func scanFilterSQL(filter event.Filter) (string, []any) {
	var clauses []string
	var params []any
	for _, c := range filter {
		if len(c.Types) == 0 {
			continue
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(c.Types)), ", ")
		clause := "event_type IN (" + placeholders + ")"
		for _, t := range c.Types {
			params = append(params, string(t))
		}
		predicateOK := true
		for _, key := range []string{"aggregate_id", "type", "author_id", "subject_id"} {
			want, ok := c.Predicates[key]
			if !ok {
				continue
			}
			column := key
			if key == "type" {
				column = "event_type"
			}
			clause += " AND " + column + " = ?"
			params = append(params, want)
		}
		for key := range c.Predicates {
			switch key {
			case "aggregate_id", "type", "author_id", "subject_id":
			default:
				// Unknown field never matches.
				predicateOK = false
			}
		}
		if !predicateOK {
			clause += " AND 1 = 0"
		}
		clauses = append(clauses, "("+clause+")")
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return strings.Join(clauses, " OR "), params
}

// VerifyJournal walks every aggregate's journal and reports sequence gaps.
func (s *Store) VerifyJournal(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	aggregateIDs, err := s.listAggregateIDs(ctx)
	if err != nil {
		return err
	}
	for _, aggregateID := range aggregateIDs {
		var lastSeq uint64
		for {
			events, err := s.ListEvents(ctx, aggregateID, lastSeq, 200)
			if err != nil {
				return fmt.Errorf("list events aggregate_id=%s: %w", aggregateID, err)
			}
			if len(events) == 0 {
				break
			}
			for _, evt := range events {
				if evt.Seq != lastSeq+1 {
					return fmt.Errorf("event sequence gap aggregate_id=%s expected=%d got=%d", aggregateID, lastSeq+1, evt.Seq)
				}
				lastSeq = evt.Seq
			}
		}
	}
	return nil
}

func (s *Store) listAggregateIDs(ctx context.Context) ([]string, error) {
	rows, err := s.sqlDB.QueryContext(ctx, "SELECT DISTINCT aggregate_id FROM events ORDER BY aggregate_id")
	if err != nil {
		return nil, fmt.Errorf("list aggregate ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan aggregate id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate aggregate ids: %w", err)
	}
	return ids, nil
}

func scanEventRows(rows *sql.Rows) ([]event.Event, error) {
	var events []event.Event
	for rows.Next() {
		var (
			aggregateID string
			seq         int64
			timestamp   int64
			eventType   string
			authorID    string
			subjectID   string
			payloadJSON []byte
		)
		if err := rows.Scan(&aggregateID, &seq, &timestamp, &eventType, &authorID, &subjectID, &payloadJSON); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, event.Event{
			AggregateID: aggregateID,
			Seq:         uint64(seq),
			Timestamp:   fromMillis(timestamp),
			Type:        event.Type(eventType),
			AuthorID:    authorID,
			SubjectID:   subjectID,
			PayloadJSON: payloadJSON,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlitelib.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}
