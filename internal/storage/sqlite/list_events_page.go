package sqlite

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/perch-reviews/perch/internal/domain/event"
	"github.com/perch-reviews/perch/internal/storage"
)

type listEventsPageSQLPlan struct {
	whereClause      string
	params           []any
	limitClause      string
	countWhereClause string
	countParams      []any
}

func buildListEventsPageSQLPlan(req storage.ListEventsPageRequest, cursorRowID int64) listEventsPageSQLPlan {
	whereClause := "1 = 1"
	var params []any
	if cursorRowID > 0 {
		whereClause = "rowid < ?"
		params = append(params, cursorRowID)
	}
	if req.FilterClause != "" {
		whereClause += " AND " + req.FilterClause
		params = append(params, req.FilterParams...)
	}

	countWhereClause := "1 = 1"
	var countParams []any
	if req.FilterClause != "" {
		countWhereClause += " AND " + req.FilterClause
		countParams = append(countParams, req.FilterParams...)
	}

	return listEventsPageSQLPlan{
		whereClause:      whereClause,
		params:           params,
		limitClause:      fmt.Sprintf("LIMIT %d", req.PageSize+1),
		countWhereClause: countWhereClause,
		countParams:      countParams,
	}
}

// ListEventsPage returns one page of the global journal, newest append first,
// optionally narrowed by a translated filter condition.
func (s *Store) ListEventsPage(ctx context.Context, req storage.ListEventsPageRequest) (storage.ListEventsPageResult, error) {
	if err := ctx.Err(); err != nil {
		return storage.ListEventsPageResult{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.ListEventsPageResult{}, fmt.Errorf("storage is not configured")
	}
	if req.PageSize <= 0 {
		req.PageSize = 50
	}
	if req.PageSize > 200 {
		req.PageSize = 200
	}

	var cursorRowID int64
	if token := strings.TrimSpace(req.PageToken); token != "" {
		parsed, err := strconv.ParseInt(token, 10, 64)
		if err != nil || parsed <= 0 {
			return storage.ListEventsPageResult{}, fmt.Errorf("invalid page token: %q", req.PageToken)
		}
		cursorRowID = parsed
	}

	plan := buildListEventsPageSQLPlan(req, cursorRowID)

	query := fmt.Sprintf(
		"SELECT rowid, %s FROM events WHERE %s ORDER BY rowid DESC %s",
		eventColumns,
		plan.whereClause,
		plan.limitClause,
	)

	rows, err := s.sqlDB.QueryContext(ctx, query, plan.params...)
	if err != nil {
		return storage.ListEventsPageResult{}, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := make([]event.Event, 0, req.PageSize)
	var lastRowID int64
	for rows.Next() {
		var (
			rowID       int64
			aggregateID string
			seq         int64
			timestamp   int64
			eventType   string
			authorID    string
			subjectID   string
			payloadJSON []byte
		)
		if err := rows.Scan(&rowID, &aggregateID, &seq, &timestamp, &eventType, &authorID, &subjectID, &payloadJSON); err != nil {
			return storage.ListEventsPageResult{}, fmt.Errorf("scan event: %w", err)
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
		lastRowID = rowID
		if len(events) > req.PageSize {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return storage.ListEventsPageResult{}, fmt.Errorf("iterate events: %w", err)
	}

	hasMore := len(events) > req.PageSize
	if hasMore {
		events = events[:req.PageSize]
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM events WHERE %s", plan.countWhereClause)
	var totalSize int
	if err := s.sqlDB.QueryRowContext(ctx, countQuery, plan.countParams...).Scan(&totalSize); err != nil {
		return storage.ListEventsPageResult{}, fmt.Errorf("count events: %w", err)
	}

	result := storage.ListEventsPageResult{
		Events:    events,
		TotalSize: totalSize,
	}
	if hasMore {
		// lastRowID belongs to the peeked row just past the page boundary.
		// Rowids are dense per query order, so rowid < lastRowID+1 resumes
		// exactly at that row.
		result.NextPageToken = strconv.FormatInt(lastRowID+1, 10)
	}
	return result, nil
}
