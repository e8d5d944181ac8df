// Package data provides database access layer and repository implementations for the siteward job system.
package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/greywolf-labs/siteward/internal/data/pgxutil"
	"github.com/greywolf-labs/siteward/internal/domain/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	defaultEventSortField = "created_at"
	sortByEventType       = "event_type"

	eventListDefaultLimit = 50
	eventListMaxLimit     = 1000
)

// eventColumns is the column list shared by every Event SELECT so struct
// scanning via pgx.RowToStructByName stays in sync with the schema.
const eventColumns = `id, session_id, source_job_id, event_type, event_data, metadata, storage_key, priority, should_process, processed, created_at`

// EventRepo provides database operations for event management.
type EventRepo struct{ DB *sql.DB }

// BulkInsert inserts multiple events into the database in a single
// transaction using pgx batching. process marks every inserted row as ready
// (or not) for the rules engine to pick up.
func (r *EventRepo) BulkInsert(ctx context.Context, req model.BulkEventRequest, process bool) (int, error) {
	n, err := r.withEventTx(ctx, func(tx pgx.Tx) (int, error) {
		return batchInsertEvents(ctx, tx, req, func(int) bool { return process })
	})
	if err != nil {
		return 0, fmt.Errorf("bulk insert transaction failed: %w", err)
	}
	return n, nil
}

// BulkInsertWithProcessingFlags inserts multiple events with an individual
// should_process flag per event, indexed by position in req.Events.
func (r *EventRepo) BulkInsertWithProcessingFlags(ctx context.Context, req model.BulkEventRequest, shouldProcess map[int]bool) (int, error) {
	n, err := r.withEventTx(ctx, func(tx pgx.Tx) (int, error) {
		return batchInsertEvents(ctx, tx, req, func(i int) bool { return shouldProcess[i] })
	})
	if err != nil {
		return 0, fmt.Errorf("bulk insert with processing flags transaction failed: %w", err)
	}
	return n, nil
}

// BulkInsertCopy inserts multiple events using PostgreSQL COPY. It trades
// per-row error reporting for throughput, so prefer it over BulkInsert once
// batches run past a thousand or so events.
func (r *EventRepo) BulkInsertCopy(ctx context.Context, req model.BulkEventRequest, process bool) (int, error) {
	n, err := r.withEventTx(ctx, func(tx pgx.Tx) (int, error) {
		rows := make([][]any, len(req.Events))
		for i, e := range req.Events {
			rows[i] = eventCopyRow(req, e, process)
		}

		copied, copyErr := tx.CopyFrom(ctx, pgx.Identifier{"events"}, eventCopyColumns(), pgx.CopyFromRows(rows))
		if copyErr != nil {
			return 0, fmt.Errorf("failed to bulk copy events: %w", copyErr)
		}

		if req.SourceJobID != nil {
			if err := bumpJobEventCount(ctx, tx, *req.SourceJobID, int(copied)); err != nil {
				return 0, err
			}
		}
		return int(copied), nil
	})
	if err != nil {
		return 0, fmt.Errorf("bulk copy transaction failed: %w", err)
	}
	return n, nil
}

func (r *EventRepo) withEventTx(ctx context.Context, fn func(pgx.Tx) (int, error)) (int, error) {
	var n int
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Opts: &sql.TxOptions{Isolation: sql.LevelReadCommitted},
		Fn: func(tx pgx.Tx) error {
			var txErr error
			n, txErr = fn(tx)
			return txErr
		},
	})
	return n, err
}

func eventCopyColumns() []string {
	return []string{"session_id", "source_job_id", "event_type", "event_data", "metadata", "storage_key", "priority", "should_process"}
}

func eventCopyRow(req model.BulkEventRequest, e model.RawEvent, process bool) []any {
	return []any{
		req.SessionID, req.SourceJobID, e.Type, e.Data, eventMetadataOrEmpty(e.Metadata), e.StorageKey, eventPriority(e), process,
	}
}

func eventPriority(e model.RawEvent) int {
	if e.Priority != nil {
		return *e.Priority
	}
	return 0
}

func eventMetadataOrEmpty(meta json.RawMessage) json.RawMessage {
	if len(meta) == 0 {
		return json.RawMessage(`{}`)
	}
	return meta
}

// batchInsertEvents queues one INSERT per event in a pgx batch, decides each
// row's should_process flag via shouldProcess(index), and - if the events
// came from a scraping job - rolls the inserted count into job_meta so
// CountByJob can answer without a full table scan.
func batchInsertEvents(ctx context.Context, tx pgx.Tx, req model.BulkEventRequest, shouldProcess func(int) bool) (int, error) {
	batch := &pgx.Batch{}
	for i, e := range req.Events {
		batch.Queue(`
			INSERT INTO events(session_id, source_job_id, event_type, event_data, metadata, storage_key, priority, should_process)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, req.SessionID, req.SourceJobID, e.Type, e.Data, eventMetadataOrEmpty(e.Metadata), e.StorageKey, eventPriority(e), shouldProcess(i))
	}

	br := tx.SendBatch(ctx, batch)
	defer br.Close()

	created := 0
	for i := range req.Events {
		if _, err := br.Exec(); err != nil {
			return 0, fmt.Errorf("failed to insert event %d: %w", i, err)
		}
		created++
	}
	if err := br.Close(); err != nil {
		return 0, fmt.Errorf("batch close: %w", err)
	}

	if req.SourceJobID != nil && created > 0 {
		if err := bumpJobEventCount(ctx, tx, *req.SourceJobID, created); err != nil {
			return 0, err
		}
	}
	return created, nil
}

// bumpJobEventCount maintains the denormalized job_meta.event_count counter
// CountByJob reads from when no filters are in play, so a busy job's total
// doesn't require scanning its events on every page load.
func bumpJobEventCount(ctx context.Context, tx pgx.Tx, jobID string, delta int) error {
	if delta <= 0 || strings.TrimSpace(jobID) == "" {
		return nil
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO job_meta (job_id, event_count, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (job_id) DO UPDATE
		SET event_count = job_meta.event_count + EXCLUDED.event_count,
		    updated_at = now()
	`, jobID, delta)
	if err != nil {
		return fmt.Errorf("update job_meta event_count: %w", err)
	}
	return nil
}

// eventQuery accumulates a WHERE clause and its bound args as filters are
// applied one at a time, tracking the next free placeholder index.
type eventQuery struct {
	where []string
	args  []any
	next  int
}

func newEventQueryForJob(jobID string) *eventQuery {
	return &eventQuery{where: []string{"source_job_id = $1"}, args: []any{jobID}, next: 2}
}

func (q *eventQuery) and(clause string, args ...any) {
	q.where = append(q.where, fmt.Sprintf(clause, q.placeholders(len(args))...))
	q.args = append(q.args, args...)
}

func (q *eventQuery) placeholders(n int) []any {
	out := make([]any, n)
	for i := range out {
		out[i] = fmt.Sprintf("$%d", q.next)
		q.next++
	}
	return out
}

func (q *eventQuery) whereClause() string {
	return " WHERE " + strings.Join(q.where, " AND ")
}

func applyEventFilters(q *eventQuery, opts model.EventListByJobOptions) {
	if opts.EventType != nil && *opts.EventType != "" {
		q.and("event_type = %s", *opts.EventType)
	}
	if opts.Category != nil && *opts.Category != "" {
		applyCategoryFilter(q, *opts.Category)
	}
	if opts.SearchQuery != nil && *opts.SearchQuery != "" {
		q.and("event_data::text ILIKE %s", "%"+*opts.SearchQuery+"%")
	}
}

// categoryPatterns maps a UI-facing category label to the event_type
// patterns (exact matches and ILIKE globs) it expands to.
var categoryPatterns = map[string]struct { //nolint:gochecknoglobals // static config table
	ilike  []string
	equals []string
}{
	"screenshot":  {ilike: []string{"%screenshot%"}},
	"worker_log":  {equals: []string{"worker.log"}, ilike: []string{"%.log"}},
	"job_failure": {ilike: []string{"%jobfailure%", "%job.failure%"}},
	"network":     {ilike: []string{"%request%", "%response%", "%network%"}},
	"console":     {ilike: []string{"%console%"}, equals: []string{"log"}},
	"security":    {ilike: []string{"Security.%", "%dynamiccodeeval%"}},
	"page":        {ilike: []string{"%goto%", "%navigate%", "%page.goto%"}},
	"action":      {ilike: []string{"%click%", "%type%", "%waitforselector%", "%setcontent%", "%select%", "%hover%"}},
	"error":       {ilike: []string{"%error%", "%exception%"}},
}

func applyCategoryFilter(q *eventQuery, category string) {
	cfg, ok := categoryPatterns[category]
	if !ok {
		return
	}

	var clauses []string
	for _, pattern := range cfg.ilike {
		clauses = append(clauses, fmt.Sprintf("event_type ILIKE %s", q.placeholders(1)[0]))
		q.args = append(q.args, pattern)
	}
	for _, value := range cfg.equals {
		clauses = append(clauses, fmt.Sprintf("event_type = %s", q.placeholders(1)[0]))
		q.args = append(q.args, value)
	}
	if len(clauses) > 0 {
		q.where = append(q.where, "("+strings.Join(clauses, " OR ")+")")
	}
}

func clampEventLimit(limit int) int {
	switch {
	case limit <= 0:
		return eventListDefaultLimit
	case limit > eventListMaxLimit:
		return eventListMaxLimit
	default:
		return limit
	}
}

func eventSortColumnsFor(sortBy string) []string {
	if canonicalSortField(sortBy) == sortByEventType {
		return []string{sortByEventType, defaultEventSortField, "id"}
	}
	return []string{defaultEventSortField, "id"}
}

func eventOrderBy(sortBy, sortDir string) string {
	cols := eventSortColumnsFor(sortBy)
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = c + " " + sortDir
	}
	return " ORDER BY " + strings.Join(parts, ", ")
}

// resolvedEventSort picks the active sort field+direction from request
// options and, if a cursor is present, cross-checks the two agree - a
// cursor minted under one sort can't be replayed against another.
func resolvedEventSort(opts model.EventListByJobOptions, cur *eventCursorPayload) (sortBy, sortDir string, err error) {
	sortBy, sortDir = defaultEventSortField, sortDirAsc
	var explicitBy, explicitDir bool

	if opts.SortBy != nil {
		if v := canonicalSortField(*opts.SortBy); v != "" {
			sortBy, explicitBy = v, true
		}
	}
	if opts.SortDir != nil {
		if v := canonicalSortDir(*opts.SortDir); v != "" {
			sortDir, explicitDir = v, true
		}
	}

	if cur == nil {
		return sortBy, sortDir, nil
	}
	if explicitBy && sortBy != cur.SortBy {
		return "", "", fmt.Errorf("cursor sort mismatch: %s vs %s", sortBy, cur.SortBy)
	}
	if explicitDir && sortDir != cur.SortDir {
		return "", "", fmt.Errorf("cursor sort direction mismatch: %s vs %s", sortDir, cur.SortDir)
	}
	return cur.SortBy, cur.SortDir, nil
}

func eventCursorFromOptions(opts model.EventListByJobOptions) (cur *eventCursorPayload, seekBefore bool, err error) {
	if opts.CursorAfter != nil && opts.CursorBefore != nil {
		return nil, false, errors.New("only one of cursor_after or cursor_before can be set")
	}

	token := ""
	if opts.CursorAfter != nil {
		token = *opts.CursorAfter
	}
	if opts.CursorBefore != nil {
		token = *opts.CursorBefore
		seekBefore = true
	}
	if token == "" {
		return nil, seekBefore, nil
	}

	parsed, err := parseEventCursorToken(token)
	if err != nil {
		return nil, false, err
	}
	return &parsed, seekBefore, nil
}

// ListByJob returns events associated with a specific job. Filters
// (EventType, Category, SearchQuery) narrow the result set; SortBy/SortDir
// choose the ordering; a cursor (CursorAfter/CursorBefore) switches from
// offset to keyset pagination.
func (r *EventRepo) ListByJob(ctx context.Context, opts model.EventListByJobOptions) (*model.EventListPage, error) {
	q := newEventQueryForJob(opts.JobID)
	applyEventFilters(q, opts)

	cur, seekBefore, err := eventCursorFromOptions(opts)
	if err != nil {
		return nil, err
	}
	sortBy, sortDir, err := resolvedEventSort(opts, cur)
	if err != nil {
		return nil, err
	}
	limit := clampEventLimit(opts.Limit)

	if cur == nil {
		events, err := r.fetchEventsOffset(ctx, q, eventOrderBy(sortBy, sortDir), max(opts.Offset, 0), limit)
		if err != nil {
			return nil, err
		}
		return &model.EventListPage{Events: events}, nil
	}

	return r.fetchEventsKeyset(ctx, q, keysetPlan{sortBy: sortBy, sortDir: sortDir, limit: limit, seekBefore: seekBefore, cursor: cur})
}

func (r *EventRepo) fetchEventsOffset(ctx context.Context, q *eventQuery, orderClause string, offset, limit int) ([]*model.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events` + q.whereClause() + orderClause
	args := append(append([]any{}, q.args...), limit, offset)
	query += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, q.next, q.next+1)

	return queryEvents(ctx, r.DB, query, args)
}

// keysetPlan carries everything fetchEventsKeyset needs beyond the WHERE
// clause already built up in eventQuery.
type keysetPlan struct {
	sortBy     string
	sortDir    string
	limit      int
	seekBefore bool
	cursor     *eventCursorPayload
}

func (r *EventRepo) fetchEventsKeyset(ctx context.Context, q *eventQuery, plan keysetPlan) (*model.EventListPage, error) {
	query, args := keysetQuery(q, plan)

	rows, err := queryEvents(ctx, r.DB, query, args)
	if err != nil {
		return nil, err
	}

	hasMore := len(rows) > plan.limit
	if hasMore {
		rows = rows[:plan.limit]
	}
	if plan.seekBefore {
		reverseEventSlice(rows)
	}

	next, prev, err := eventPageCursors(rows, plan, hasMore)
	if err != nil {
		return nil, err
	}
	return &model.EventListPage{Events: rows, NextCursor: next, PrevCursor: prev}, nil
}

func keysetQuery(q *eventQuery, plan keysetPlan) (string, []any) {
	cols := eventSortColumnsFor(plan.sortBy)
	comparator := ">"
	orderDir := plan.sortDir
	if plan.sortDir == sortDirDesc {
		comparator = "<"
	}
	if plan.seekBefore {
		comparator = flipComparator(comparator)
		orderDir = flipSortDir(plan.sortDir)
	}

	placeholders := q.placeholders(len(cols))
	clause := fmt.Sprintf("(%s) %s (%s)", strings.Join(cols, ", "), comparator, joinAny(placeholders, ", "))
	whereClause := q.whereClause() + " AND " + clause

	args := append(append([]any{}, q.args...), eventCursorArgs(plan.sortBy, plan.cursor)...)
	args = append(args, plan.limit+1) // fetch one extra row to detect a further page

	query := `SELECT ` + eventColumns + ` FROM events` + whereClause + eventOrderBy(plan.sortBy, orderDir)
	query += fmt.Sprintf(` LIMIT $%d`, q.next)
	return query, args
}

func joinAny(vals []any, sep string) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, sep)
}

func eventCursorArgs(sortBy string, cur *eventCursorPayload) []any {
	var args []any
	if sortBy == sortByEventType {
		var et any
		if cur.EventType != nil {
			et = *cur.EventType
		}
		args = append(args, et)
	}
	return append(args, cur.CreatedAt, cur.ID)
}

func flipComparator(op string) string {
	if op == "<" {
		return ">"
	}
	return "<"
}

func flipSortDir(dir string) string {
	if dir == sortDirDesc {
		return sortDirAsc
	}
	return sortDirDesc
}

func reverseEventSlice(events []*model.Event) {
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
}

// eventPageCursors derives the next/prev tokens for a keyset page. A forward
// ("after") scan always knows where it started (prev) but only knows there's
// more to fetch (next) once hasMore is true; a backward ("before") scan is
// the mirror image.
func eventPageCursors(events []*model.Event, plan keysetPlan, hasMore bool) (next, prev *string, err error) {
	if len(events) == 0 {
		return nil, nil, nil
	}

	encode := func(ev *model.Event, label string) (*string, error) {
		token, err := encodeEventCursorPayload(newEventCursorFromEvent(ev, plan.sortBy, plan.sortDir))
		if err != nil {
			return nil, fmt.Errorf("encode %s cursor: %w", label, err)
		}
		return &token, nil
	}

	first, last := events[0], events[len(events)-1]

	if plan.seekBefore || hasMore {
		c, err := encode(last, "next")
		if err != nil {
			return nil, nil, err
		}
		next = c
	}
	if !plan.seekBefore || hasMore {
		c, err := encode(first, "prev")
		if err != nil {
			return nil, nil, err
		}
		prev = c
	}

	return next, prev, nil
}

func queryEvents(ctx context.Context, db *sql.DB, query string, args []any) ([]*model.Event, error) {
	var out []*model.Event
	err := pgxutil.WithPgxConn(ctx, db, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("query events: %w", err)
		}
		defer rows.Close()

		collected, err := pgx.CollectRows(rows, pgx.RowToStructByName[model.Event])
		if err != nil {
			return fmt.Errorf("collect events: %w", err)
		}
		out = make([]*model.Event, len(collected))
		for i := range collected {
			out[i] = &collected[i]
		}
		return nil
	})
	return out, err
}

// CountByJob returns the total count of events for a job honoring the same
// filters ListByJob applies. When no filters are set it prefers the
// precomputed job_meta.event_count over scanning the events table.
func (r *EventRepo) CountByJob(ctx context.Context, opts model.EventListByJobOptions) (int, error) {
	if opts.EventType == nil && opts.Category == nil && opts.SearchQuery == nil {
		if count, ok, err := r.precomputedEventCount(ctx, opts.JobID); err != nil {
			return 0, err
		} else if ok {
			return count, nil
		}
	}

	q := newEventQueryForJob(opts.JobID)
	applyEventFilters(q, opts)
	query := `SELECT COUNT(*) FROM events` + q.whereClause()

	var count int
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		return conn.QueryRow(ctx, query, q.args...).Scan(&count)
	}); err != nil {
		return 0, fmt.Errorf("count events by job: %w", err)
	}
	return count, nil
}

func (r *EventRepo) precomputedEventCount(ctx context.Context, jobID string) (int, bool, error) {
	if strings.TrimSpace(jobID) == "" {
		return 0, false, nil
	}

	var count int
	err := r.DB.QueryRowContext(ctx, `SELECT event_count FROM job_meta WHERE job_id = $1`, jobID).Scan(&count)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, false, nil
	case err != nil:
		return 0, false, fmt.Errorf("get precomputed event count: %w", err)
	default:
		return count, true, nil
	}
}

// ListWithFilters returns events with optional filtering by event type,
// category, and text search, offset-paginated with no cursor support. It
// exists alongside ListByJob for callers (exports, bulk reprocessing) that
// want a plain page without keyset bookkeeping.
func (r *EventRepo) ListWithFilters(ctx context.Context, opts model.EventListByJobOptions) ([]*model.Event, error) {
	q := newEventQueryForJob(opts.JobID)
	applyEventFilters(q, opts)

	sortBy, sortDir := defaultEventSortField, "ASC"
	if opts.SortBy != nil {
		if v := canonicalSortField(*opts.SortBy); v != "" {
			sortBy = v
		}
	}
	if opts.SortDir != nil {
		if v := canonicalSortDir(*opts.SortDir); v != "" {
			sortDir = v
		}
	}

	limit := clampEventLimit(opts.Limit)
	offset := max(opts.Offset, 0)

	query := `SELECT ` + eventColumns + ` FROM events` + q.whereClause() + eventOrderBy(sortBy, sortDir)
	query += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, q.next, q.next+1)
	args := append(append([]any{}, q.args...), limit, offset)

	return queryEvents(ctx, r.DB, query, args)
}

// MarkProcessedByIDs sets processed=true for the given event IDs and returns
// the number of rows updated.
func (r *EventRepo) MarkProcessedByIDs(ctx context.Context, eventIDs []string) (int, error) {
	if len(eventIDs) == 0 {
		return 0, nil
	}
	uids, err := parseEventUUIDs(eventIDs)
	if err != nil {
		return 0, err
	}

	var updated int
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		ct, err := conn.Exec(ctx, `UPDATE events SET processed = TRUE WHERE id = ANY($1) AND processed = FALSE`, uids)
		if err != nil {
			return fmt.Errorf("mark events processed: %w", err)
		}
		updated = int(ct.RowsAffected())
		return nil
	}); err != nil {
		return 0, err
	}
	return updated, nil
}

// GetByIDs retrieves events by their IDs, ordered oldest first.
func (r *EventRepo) GetByIDs(ctx context.Context, eventIDs []string) ([]*model.Event, error) {
	if len(eventIDs) == 0 {
		return []*model.Event{}, nil
	}
	uids, err := parseEventUUIDs(eventIDs)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + eventColumns + ` FROM events WHERE id = ANY($1) ORDER BY created_at ASC, id ASC`
	return queryEvents(ctx, r.DB, query, []any{uids})
}

func parseEventUUIDs(ids []string) ([]uuid.UUID, error) {
	uids := make([]uuid.UUID, 0, len(ids))
	for _, s := range ids {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("invalid uuid in eventIDs: %w", err)
		}
		uids = append(uids, id)
	}
	return uids, nil
}
