package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/greywolf-labs/siteward/internal/core"
	"github.com/greywolf-labs/siteward/internal/data/pgxutil"
	"github.com/greywolf-labs/siteward/internal/domain"
	"github.com/greywolf-labs/siteward/internal/domain/model"
)

// jobInsertSpec carries the prepared fields for a single job insert, used by
// both the pgx-transaction path (Create) and the plain *sql.Tx path
// (CreateInTx) so they share one query builder.
type jobInsertSpec struct {
	req        *model.CreateJobRequest
	payload    []byte
	metadata   []byte
	maxRetries int
}

const defaultRetryDelaySeconds = 30

func (r *JobRepo) retryDelay() int {
	if r.cfg.RetryDelaySeconds > 0 {
		return r.cfg.RetryDelaySeconds
	}
	return defaultRetryDelaySeconds
}

func (r *JobRepo) touchJobMetaStatus(ctx context.Context, id string, status model.JobStatus) error {
	if strings.TrimSpace(id) == "" || !status.Valid() {
		return nil
	}

	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO job_meta (job_id, last_status, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (job_id) DO UPDATE
		SET last_status = EXCLUDED.last_status,
		    updated_at = now()
	`, id, status)
	if err != nil {
		return fmt.Errorf("update job_meta status: %w", err)
	}
	return nil
}

// reserveNextSQL atomically claims the oldest, highest-priority pending job
// of a given type that's actually due, skipping rows other reservers already
// hold a lock on.
const reserveNextSQL = `
  WITH cte AS (
    SELECT id FROM jobs
    WHERE type = $1 AND status = 'pending' AND scheduled_at <= $2
    ORDER BY priority DESC, scheduled_at ASC, created_at ASC
    LIMIT 1
    FOR UPDATE SKIP LOCKED
  )
  UPDATE jobs j
  SET
    status = 'running',
    started_at = COALESCE(j.started_at, $3),
    lease_expires_at = $4,
    updated_at = $5
  FROM cte
  WHERE j.id = cte.id
  RETURNING j.id, j.type, j.status, j.priority, j.payload, j.metadata, j.session_id, j.site_id, j.source_id, j.is_test, j.scheduled_at, j.started_at, j.completed_at, j.retry_count, j.max_retries, j.last_error, j.lease_expires_at, j.created_at, j.updated_at`

// Create creates a new job in the database with the given parameters.
func (r *JobRepo) Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	spec, err := r.buildInsertSpec(req)
	if err != nil {
		return nil, err
	}

	var job *model.Job
	txErr := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			var insertErr error
			job, insertErr = r.insertJobPgx(ctx, tx, spec)
			return insertErr
		},
	})
	if txErr != nil {
		return nil, txErr
	}
	return job, nil
}

// CreateInTx inserts a job within an existing SQL transaction.
func (r *JobRepo) CreateInTx(ctx context.Context, sqlTx *sql.Tx, req *model.CreateJobRequest) (*model.Job, error) {
	if sqlTx == nil {
		return nil, errors.New("transaction is required")
	}

	spec, err := r.buildInsertSpec(req)
	if err != nil {
		return nil, err
	}

	query, args := r.renderInsertQuery(spec)
	job, err := scanJobRow(sqlTx.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, fmt.Errorf("collect job: %w", err)
	}

	if notifyErr := notifyJobAdded(ctx, sqlTx, req.Type, job.ID); notifyErr != nil {
		return nil, notifyErr
	}
	return job, nil
}

// buildInsertSpec validates req and prepares its payload/metadata/maxRetries
// for insertion, shared by both Create's and CreateInTx's code paths.
func (r *JobRepo) buildInsertSpec(req *model.CreateJobRequest) (*jobInsertSpec, error) {
	if req == nil {
		return nil, errors.New("create job request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	metadata := []byte(`{}`)
	if req.Metadata != nil {
		if metadata, err = json.Marshal(req.Metadata); err != nil {
			return nil, fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	return &jobInsertSpec{
		req:        req,
		payload:    payload,
		metadata:   metadata,
		maxRetries: resolveMaxRetries(req),
	}, nil
}

func resolveMaxRetries(req *model.CreateJobRequest) int {
	switch {
	case req.IsTest && req.MaxRetries <= 0:
		return 0
	case req.MaxRetries > 0:
		return req.MaxRetries
	default:
		return 3
	}
}

// insertJobPgx inserts a job within a pgx.Tx, notifies listeners, and
// returns the created job.
func (r *JobRepo) insertJobPgx(ctx context.Context, tx pgx.Tx, spec *jobInsertSpec) (*model.Job, error) {
	query, args := r.renderInsertQuery(spec)

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	job, collectErr := singleJobFromRows(rows)
	rows.Close()
	if collectErr != nil {
		return nil, fmt.Errorf("collect job: %w", collectErr)
	}

	channel := "job_added_" + string(spec.req.Type)
	if _, execErr := tx.Exec(ctx, `SELECT pg_notify($1::text, $2::text)`, channel, job.ID); execErr != nil {
		return nil, fmt.Errorf("send job notification: %w", execErr)
	}
	return job, nil
}

func notifyJobAdded(ctx context.Context, sqlTx *sql.Tx, jobType model.JobType, jobID string) error {
	channel := "job_added_" + string(jobType)
	if _, err := sqlTx.ExecContext(ctx, `SELECT pg_notify($1::text, $2::text)`, channel, jobID); err != nil {
		return fmt.Errorf("send job notification: %w", err)
	}
	return nil
}

// renderInsertQuery builds the parameterized INSERT for spec.
func (r *JobRepo) renderInsertQuery(spec *jobInsertSpec) (string, []any) {
	query := `
      INSERT INTO jobs(type, status, priority, payload, metadata, session_id, site_id, source_id, is_test, scheduled_at, max_retries)
      VALUES ($1,'pending',$2,$3,$4,$5,$6,$7,$8,$9,$10)
      RETURNING ` + jobColumns

	scheduledAt := r.timeProvider.Now().UTC()
	if spec.req.ScheduledAt != nil {
		scheduledAt = spec.req.ScheduledAt.UTC()
	}

	args := []any{
		spec.req.Type,
		spec.req.Priority,
		spec.payload,
		spec.metadata,
		spec.req.SessionID,
		spec.req.SiteID,
		spec.req.SourceID,
		spec.req.IsTest,
		scheduledAt,
		spec.maxRetries,
	}
	return query, args
}

func singleJobFromRows(rows pgx.Rows) (*model.Job, error) {
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, pgx.ErrNoRows
	}

	job, err := scanJobRow(rows)
	if err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return job, nil
}

type jobRowScanner interface {
	Scan(dest ...any) error
}

// jobRowFields holds the nullable/raw columns scanJobRow can't decode
// straight into model.Job, so they can be normalized afterward in one place.
type jobRowFields struct {
	payload, metadata                      []byte
	sessionID, siteID, sourceID, lastError sql.NullString
	startedAt, completedAt, leaseExpiresAt  sql.NullTime
}

func scanJobRow(scanner jobRowScanner) (*model.Job, error) {
	job := &model.Job{}
	var f jobRowFields

	err := scanner.Scan(
		&job.ID, &job.Type, &job.Status, &job.Priority,
		&f.payload, &f.metadata,
		&f.sessionID, &f.siteID, &f.sourceID,
		&job.IsTest, &job.ScheduledAt,
		&f.startedAt, &f.completedAt,
		&job.RetryCount, &job.MaxRetries,
		&f.lastError, &f.leaseExpiresAt,
		&job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Payload = jsonOrEmptyObject(f.payload)
	job.Metadata = jsonOrEmptyObject(f.metadata)
	job.SessionID = nullStringPtr(f.sessionID)
	job.SiteID = nullStringPtr(f.siteID)
	job.SourceID = nullStringPtr(f.sourceID)
	job.LastError = nullStringPtr(f.lastError)
	job.StartedAt = nullTimePtr(f.startedAt)
	job.CompletedAt = nullTimePtr(f.completedAt)
	job.LeaseExpiresAt = nullTimePtr(f.leaseExpiresAt)
	return job, nil
}

func jsonOrEmptyObject(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return append(json.RawMessage(nil), raw...)
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// leaseReclaimLockNamespace is the advisory-lock major key used when
// reclaiming expired leases, kept distinct from other subsystems' advisory
// locks so they never collide.
const leaseReclaimLockNamespace int64 = 1001

func leaseReclaimLockKey(jobType model.JobType) int64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(jobType))
	sum := h.Sum32()
	if max := uint32(math.MaxInt32); sum > max {
		sum &= max
	}
	return int64(sum)
}

// reclaimExpiredLeases requeues jobs of jobType whose lease ran out without
// a heartbeat, and returns how many were requeued. An advisory lock scoped
// to jobType keeps concurrent reservers from racing each other over the
// same batch.
func (r *JobRepo) reclaimExpiredLeases(ctx context.Context, jobType model.JobType) (int64, error) {
	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			lockKey := leaseReclaimLockKey(jobType)
			if err := tx.QueryRowContext(ctx,
				"SELECT pg_try_advisory_xact_lock($1::integer, $2::integer)",
				leaseReclaimLockNamespace, lockKey,
			).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				return nil
			}

			now := r.timeProvider.Now()
			res, err := tx.ExecContext(ctx, `
          UPDATE jobs
          SET status = 'pending', lease_expires_at = NULL
          WHERE type = $1 AND status = 'running'
            AND lease_expires_at IS NOT NULL
            AND lease_expires_at < $2
        `, jobType, now.UTC())
			if err != nil {
				return fmt.Errorf("requeue expired: %w", err)
			}
			rowsAffected, err = res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return rowsAffected, nil
}

// ReserveNext reserves the next available job of the given type for processing.
func (r *JobRepo) ReserveNext(ctx context.Context, jobType model.JobType, leaseSeconds int) (*model.Job, error) {
	if !jobType.Valid() {
		return nil, fmt.Errorf("invalid job type: %s", jobType)
	}

	if _, err := r.reclaimExpiredLeases(ctx, jobType); err != nil {
		return nil, fmt.Errorf("requeue expired jobs: %w", err)
	}

	var job *model.Job
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Opts: &sql.TxOptions{Isolation: sql.LevelReadCommitted, ReadOnly: false},
		Fn: func(tx pgx.Tx) error {
			now := r.timeProvider.Now()
			leaseExpiresAt := now.Add(time.Duration(leaseSeconds) * time.Second)

			rows, err := tx.Query(ctx, reserveNextSQL, jobType, now.UTC(), now.UTC(), leaseExpiresAt.UTC(), now.UTC())
			if err != nil {
				return fmt.Errorf("reserve job: %w", err)
			}
			defer rows.Close()

			reserved, err := singleJobFromRows(rows)
			if errors.Is(err, pgx.ErrNoRows) {
				return model.ErrNoJobsAvailable
			}
			if err != nil {
				return fmt.Errorf("reserve job: %w", err)
			}
			job = reserved
			return nil
		},
	})
	if err != nil {
		if errors.Is(err, model.ErrNoJobsAvailable) {
			return nil, model.ErrNoJobsAvailable
		}
		return nil, err
	}
	return job, nil
}

// Heartbeat refreshes the lease on a running job.
func (r *JobRepo) Heartbeat(ctx context.Context, jobID string, leaseSeconds int) (bool, error) {
	if leaseSeconds <= 0 {
		return false, errors.New("leaseSeconds must be positive")
	}

	now := r.timeProvider.Now().UTC()
	leaseExpiresAt := now.Add(time.Duration(leaseSeconds) * time.Second)

	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET lease_expires_at = $2,
		    updated_at = $3
		WHERE id = $1 AND status = 'running'
	`, jobID, leaseExpiresAt, now)
	if err != nil {
		return false, fmt.Errorf("heartbeat job: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("heartbeat rows affected: %w", err)
	}
	return n > 0, nil
}

// schedulerFireKey is the scheduler-owned task_name/fire_key pair a job's
// metadata may carry, used to release the task's active-fire slot once the
// job reaches a terminal state.
type schedulerFireKey struct {
	taskName sql.NullString
	fireKey  sql.NullString
}

func (k schedulerFireKey) valid() bool { return k.taskName.Valid && k.fireKey.Valid }

// release clears the scheduler's active-fire-key bookkeeping for k, logging
// (rather than failing the caller) if that cleanup itself errors — a job
// already reached a terminal state at this point and that result shouldn't
// be lost over a best-effort side record.
func (r *JobRepo) releaseSchedulerFireKey(ctx context.Context, k schedulerFireKey) {
	if !k.valid() {
		return
	}
	if err := r.clearActiveFireKey(ctx, k.taskName.String, k.fireKey.String); err != nil && r.logger != nil {
		r.logger.ErrorContext(ctx, "clear active fire key failed",
			"task_name", k.taskName.String, "fire_key", k.fireKey.String, "error", err)
	}
}

// Complete marks a job as completed successfully.
func (r *JobRepo) Complete(ctx context.Context, id string) (bool, error) {
	now := r.timeProvider.Now().UTC()

	var fireKey schedulerFireKey
	err := r.DB.QueryRowContext(ctx, `
		UPDATE jobs
		SET status = 'completed',
		    completed_at = $2,
		    updated_at = $3,
		    lease_expires_at = NULL,
		    last_error = NULL
		WHERE id = $1 AND status = 'running'
		RETURNING metadata->>'scheduler.task_name', metadata->>'scheduler.fire_key'
	`, id, now, now).Scan(&fireKey.taskName, &fireKey.fireKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to complete job: %w", err)
	}

	r.releaseSchedulerFireKey(ctx, fireKey)
	r.warnOnMetaStatusErr(ctx, id, model.JobStatusCompleted)
	return true, nil
}

// Fail marks a job as failed with the given error message, or reschedules it
// for retry if it hasn't exhausted max_retries.
func (r *JobRepo) Fail(ctx context.Context, id, errMsg string) (bool, error) {
	now := r.timeProvider.Now()
	retryAt := now.Add(time.Duration(r.retryDelay()) * time.Second)

	var status string
	var fireKey schedulerFireKey
	err := r.DB.QueryRowContext(ctx, `
      UPDATE jobs
      SET
        last_error = $2,
        retry_count = retry_count + 1,
        status = CASE WHEN retry_count + 1 >= max_retries THEN 'failed' ELSE 'pending' END,
        completed_at = CASE WHEN retry_count + 1 >= max_retries THEN $3::timestamptz ELSE NULL END,
        lease_expires_at = NULL,
        scheduled_at = CASE WHEN retry_count + 1 >= max_retries THEN scheduled_at
                            ELSE $4::timestamptz END,
        updated_at = $5
      WHERE id = $1 AND status = 'running'
      RETURNING status, metadata->>'scheduler.task_name', metadata->>'scheduler.fire_key'
    `, id, errMsg, now.UTC(), retryAt.UTC(), now.UTC()).Scan(&status, &fireKey.taskName, &fireKey.fireKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("fail job: %w", err)
	}

	if status != string(model.JobStatusFailed) {
		return true, nil
	}

	r.releaseSchedulerFireKey(ctx, fireKey)
	r.warnOnMetaStatusErr(ctx, id, model.JobStatus(status))
	return true, nil
}

func (r *JobRepo) warnOnMetaStatusErr(ctx context.Context, id string, status model.JobStatus) {
	if err := r.touchJobMetaStatus(ctx, id, status); err != nil && r.logger != nil {
		r.logger.WarnContext(ctx, "update job_meta status failed", "job_id", id, "status", status, "error", err)
	}
}

func (r *JobRepo) clearActiveFireKey(ctx context.Context, taskName, fireKey string) error {
	if strings.TrimSpace(taskName) == "" || strings.TrimSpace(fireKey) == "" {
		return nil
	}

	_, err := r.DB.ExecContext(ctx, `
		UPDATE scheduled_jobs
		SET active_fire_key = NULL,
		    active_fire_key_set_at = NULL,
		    updated_at = $3
		WHERE task_name = $1
		  AND active_fire_key = $2
	`, taskName, fireKey, r.timeProvider.Now().UTC())
	if err != nil {
		return fmt.Errorf("clear active fire key: %w", err)
	}
	return nil
}

// Stats returns statistics about jobs of the given type in different states.
func (r *JobRepo) Stats(ctx context.Context, jobType model.JobType) (*model.JobStats, error) {
	var s model.JobStats
	err := r.DB.QueryRowContext(ctx, `
  SELECT
    count(*) FILTER (WHERE status = 'pending')   AS pending,
    count(*) FILTER (WHERE status = 'running')   AS running,
    count(*) FILTER (WHERE status = 'completed') AS completed,
    count(*) FILTER (WHERE status = 'failed')    AS failed
  FROM jobs
  WHERE type = $1
  `, jobType).Scan(&s.Pending, &s.Running, &s.Completed, &s.Failed)
	if err != nil {
		return nil, fmt.Errorf("failed to get job stats: %w", err)
	}
	return &s, nil
}

// WaitForNotification waits for a PostgreSQL notification indicating new jobs are available.
func (r *JobRepo) WaitForNotification(ctx context.Context, jobType model.JobType) error {
	conn, err := r.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get conn from pool: %w", err)
	}
	defer func() { _ = conn.Close() }()

	channel := "job_added_" + string(jobType)
	quoted := pgx.Identifier{channel}.Sanitize()

	if _, err := conn.ExecContext(ctx, "LISTEN "+quoted); err != nil {
		return fmt.Errorf("listen %s: %w", channel, err)
	}
	defer func() { _, _ = conn.ExecContext(context.Background(), "UNLISTEN "+quoted) }()

	return conn.Raw(func(dc any) error {
		sc, ok := dc.(*stdlib.Conn)
		if !ok {
			return errors.New("unexpected driver connection type; expected *stdlib.Conn")
		}
		_, err := sc.Conn().WaitForNotification(ctx)
		return err
	})
}

// GetByID retrieves a job by its ID.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	var job *model.Job
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
		if err != nil {
			return err
		}
		defer rows.Close()
		job, err = singleJobFromRows(rows)
		return err
	})

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// RunningJobExistsByTaskName checks if there is a running job for the given scheduler task.
func (r *JobRepo) RunningJobExistsByTaskName(ctx context.Context, taskName string, now time.Time) (bool, error) {
	mask, err := r.JobStatesByTaskName(ctx, taskName, now)
	if err != nil {
		return false, err
	}
	return mask.Has(domain.OverrunStateRunning), nil
}

// JobStatesByTaskName returns a bitmask describing which overrun states currently exist for a scheduler task.
func (r *JobRepo) JobStatesByTaskName(ctx context.Context, taskName string, now time.Time) (domain.OverrunStateMask, error) {
	var hasRunning, hasPending, hasRetrying bool
	err := r.DB.QueryRowContext(ctx, `
		SELECT
			COALESCE(bool_or(status = 'running' AND lease_expires_at > $1), FALSE) AS has_running,
			COALESCE(bool_or(status = 'pending'), FALSE) AS has_pending,
			COALESCE(bool_or(status = 'pending' AND COALESCE(retry_count, 0) > 0), FALSE) AS has_retrying
		FROM jobs
		WHERE metadata->>'scheduler.task_name' = $2
		  AND status IN ('running', 'pending')
	`, now.UTC(), taskName).Scan(&hasRunning, &hasPending, &hasRetrying)
	if err != nil {
		return 0, fmt.Errorf("check job states by task name: %w", err)
	}

	var mask domain.OverrunStateMask
	if hasRunning {
		mask |= domain.OverrunStateRunning
	}
	if hasPending {
		mask |= domain.OverrunStatePending
	}
	if hasRetrying {
		mask |= domain.OverrunStateRetrying
	}
	return mask, nil
}

// Delete safely deletes a job by ID with state machine safety checks.
func (r *JobRepo) Delete(ctx context.Context, id string) error {
	now := r.timeProvider.Now()
	res, err := r.DB.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE id = $1
		  AND status IN ('pending', 'completed', 'failed')
		  AND (lease_expires_at IS NULL OR lease_expires_at <= $2)
	`, id, now.UTC())
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}

	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	} else if n > 0 {
		return nil
	}

	return r.explainUndeletedJob(ctx, id, now)
}

// explainUndeletedJob is called when Delete's row-matching DELETE affects
// nothing; it re-reads the job to report exactly why (not found, wrong
// state, or still leased) instead of a bare "not deleted".
func (r *JobRepo) explainUndeletedJob(ctx context.Context, id string, now time.Time) error {
	job, err := r.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			return ErrJobNotFound
		}
		return fmt.Errorf("failed to re-check job after delete attempt: %w", err)
	}

	if !isJobStatusDeletable(job.Status) {
		return ErrJobNotDeletable
	}
	if job.LeaseExpiresAt != nil && now.Before(*job.LeaseExpiresAt) {
		return ErrJobReserved
	}
	return errors.New("unexpected state: job is in deletable state but delete failed")
}

// DeleteByPayloadField deletes jobs by matching a JSON field in the payload.
func (r *JobRepo) DeleteByPayloadField(ctx context.Context, params core.DeleteByPayloadFieldParams) (int, error) {
	if !params.JobType.Valid() {
		return 0, fmt.Errorf("invalid job type: %s", params.JobType)
	}

	now := r.timeProvider.Now()
	res, err := r.DB.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE type = $1
		  AND status = 'pending'
		  AND (lease_expires_at IS NULL OR lease_expires_at <= $2)
		  AND payload->$3 = to_jsonb($4::text)
	`, params.JobType, now.UTC(), params.FieldName, params.FieldValue)
	if err != nil {
		return 0, fmt.Errorf("delete jobs by payload field: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return int(n), nil
}

func isJobStatusDeletable(status model.JobStatus) bool {
	return status == model.JobStatusPending ||
		status == model.JobStatusCompleted ||
		status == model.JobStatusFailed
}
