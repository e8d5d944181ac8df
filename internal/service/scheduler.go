// Package service provides business logic services for the siteward job system.
package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/greywolf-labs/siteward/internal/core"
	"github.com/greywolf-labs/siteward/internal/data"
	"github.com/greywolf-labs/siteward/internal/domain"
	"github.com/greywolf-labs/siteward/internal/domain/model"
	domainscheduler "github.com/greywolf-labs/siteward/internal/domain/scheduler"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// jobSourceContext carries the site/source IDs embedded in a scheduled
// task's payload, used both to tag the resulting job and (for browser jobs)
// to resolve script content from the source cache.
type jobSourceContext struct {
	SiteID   string `json:"site_id"`
	SourceID string `json:"source_id"`
}

// SchedulerServiceOptions holds the dependencies for creating a
// SchedulerService. Grouped into an options struct to keep the constructor's
// parameter count down as the project's other services do.
type SchedulerServiceOptions struct {
	Repo            core.ScheduledJobsRepository
	Jobs            core.JobRepository
	JobIntrospector core.JobIntrospector
	Config          *core.SchedulerConfig
	TimeProvider    data.TimeProvider
	SourceCache     *core.SourceCacheService // optional: enables browser-job script caching
	Logger          *slog.Logger
}

// SchedulerService processes due scheduled tasks: for each one it applies
// the configured overrun policy, enqueues a job when the policy says to,
// and records last_queued_at / the active fire key. Multiple replicas can
// run Tick concurrently - correctness comes from Postgres advisory locks
// and FOR UPDATE SKIP LOCKED in the repository layer, not from anything in
// this type.
type SchedulerService struct {
	repo         core.ScheduledJobsRepository
	jobs         core.JobRepository
	jobq         core.JobIntrospector
	cfg          core.SchedulerConfig
	timeProvider data.TimeProvider
	sourceCache  *core.SourceCacheService
	logger       *slog.Logger

	taskProcessor *domainscheduler.TaskProcessor
}

// NewSchedulerService creates a new SchedulerService with the given
// dependencies, applying defaults for anything left unset.
func NewSchedulerService(opts SchedulerServiceOptions) *SchedulerService {
	if opts.TimeProvider == nil {
		opts.TimeProvider = &data.RealTimeProvider{}
	}
	if opts.Config == nil {
		defaultCfg := core.DefaultSchedulerConfig()
		opts.Config = &defaultCfg
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	svc := &SchedulerService{
		repo:         opts.Repo,
		jobs:         opts.Jobs,
		jobq:         opts.JobIntrospector,
		cfg:          *opts.Config,
		timeProvider: opts.TimeProvider,
		sourceCache:  opts.SourceCache,
		logger:       opts.Logger,
	}
	svc.taskProcessor = domainscheduler.NewTaskProcessor(domainscheduler.TaskProcessorOptions{
		DefaultPolicy: opts.Config.Strategy.Overrun,
		DefaultStates: opts.Config.Strategy.OverrunStates,
		StateReader:   opts.JobIntrospector,
	})
	return svc
}

// Tick finds tasks due as of now, attempts to claim each one via an
// advisory lock keyed by task name, and processes the ones this replica
// wins the lock for. It returns how many tasks this call actually advanced
// (enqueued a job for, or otherwise mutated) - not how many were due.
func (s *SchedulerService) Tick(ctx context.Context, now time.Time) (int, error) {
	due, err := s.repo.FindDue(ctx, now, s.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("find due tasks: %w", err)
	}

	advanced := 0
	for _, task := range due {
		won, err := s.claimAndProcess(ctx, task)
		if err != nil {
			return advanced, fmt.Errorf("process task %s: %w", task.TaskName, err)
		}
		if won {
			advanced++
		}
	}
	return advanced, nil
}

// claimAndProcess tries to take the advisory lock for task and, if it wins,
// runs the scheduler's domain logic against it within the lock's
// transaction. A lost race (another replica already holds the lock) is not
// an error - it just means this tick contributed nothing for that task.
func (s *SchedulerService) claimAndProcess(ctx context.Context, task domain.ScheduledTask) (bool, error) {
	worked := false
	ok, err := s.repo.TryWithTaskLock(ctx, task.TaskName, func(ctx context.Context, tx *sql.Tx) error {
		result, err := s.runTaskProcessor(ctx, tx, task)
		if err != nil {
			return err
		}
		worked = result
		return nil
	})
	if err != nil {
		return false, err
	}
	return ok && worked, nil
}

func (s *SchedulerService) runTaskProcessor(ctx context.Context, tx *sql.Tx, task domain.ScheduledTask) (bool, error) {
	if s.taskProcessor == nil {
		return false, errors.New("task processor is not configured")
	}

	result, err := s.taskProcessor.Process(ctx, domainscheduler.ProcessParams{
		Task:     task,
		Now:      s.timeProvider.Now(),
		Store:    schedulerStoreAdapter{repo: s.repo, tx: tx},
		Enqueuer: schedulerEnqueuerAdapter{service: s, tx: tx},
	})
	if err != nil {
		return false, err
	}
	if result == nil {
		return false, nil
	}
	return result.Worked, nil
}

// schedulerStoreAdapter adapts the repository's transactional methods to
// the domainscheduler.TaskStore interface, binding them to a single tx so
// the domain package doesn't need to know about *sql.Tx.
type schedulerStoreAdapter struct {
	repo core.ScheduledJobsRepository
	tx   *sql.Tx
}

func (a schedulerStoreAdapter) MarkQueued(ctx context.Context, params domain.MarkQueuedParams) (bool, error) {
	return a.repo.MarkQueuedTx(ctx, a.tx, params)
}

func (a schedulerStoreAdapter) UpdateActiveFireKey(ctx context.Context, params domain.UpdateActiveFireKeyParams) error {
	return a.repo.UpdateActiveFireKeyTx(ctx, a.tx, params)
}

// schedulerEnqueuerAdapter adapts SchedulerService.enqueueJob to the
// domainscheduler.Enqueuer interface.
type schedulerEnqueuerAdapter struct {
	service *SchedulerService
	tx      *sql.Tx
}

func (e schedulerEnqueuerAdapter) Enqueue(ctx context.Context, task domain.ScheduledTask, fireKey string) (bool, error) {
	return e.service.enqueueJob(ctx, enqueueJobParams{Tx: e.tx, Task: task, FireKey: fireKey})
}

// enqueueJobParams are the inputs to enqueueJob.
type enqueueJobParams struct {
	Tx      *sql.Tx
	Task    domain.ScheduledTask
	FireKey string
}

// enqueueJob creates the job a due task fires. Returns created=true if a
// new job row was inserted; false for a benign duplicate (the fire key's
// unique constraint absorbed a race between replicas).
func (s *SchedulerService) enqueueJob(ctx context.Context, params enqueueJobParams) (bool, error) {
	var srcCtx jobSourceContext
	if err := json.Unmarshal(params.Task.Payload, &srcCtx); err != nil {
		return false, fmt.Errorf("parse task payload: %w", err)
	}

	if s.cfg.DefaultJobType == model.JobTypeBrowser && s.sourceCache != nil {
		if err := s.cacheSourceFor(ctx, srcCtx.SourceID); err != nil {
			return false, fmt.Errorf("cache source content: %w", err)
		}
	}

	req, err := s.buildCreateJobRequest(ctx, params.Task, srcCtx, params.FireKey)
	if err != nil {
		return false, fmt.Errorf("build job request: %w", err)
	}

	return s.insertJobIdempotent(ctx, params.Tx, req)
}

// buildCreateJobRequest assembles the CreateJobRequest for a fired task:
// job type is inferred from the task name (falling back to the scheduler's
// configured default), browser jobs get their script payload resolved, and
// site/source associations are attached when the payload names valid UUIDs.
func (s *SchedulerService) buildCreateJobRequest(ctx context.Context, task domain.ScheduledTask, srcCtx jobSourceContext, fireKey string) (*model.CreateJobRequest, error) {
	meta, err := json.Marshal(map[string]any{
		"scheduler.task_name": task.TaskName,
		"scheduler.interval":  task.Interval.String(),
		"scheduler.fire_key":  fireKey,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	jobType := s.cfg.DefaultJobType
	if specific, ok := determineJobTypeFromTaskName(task.TaskName); ok {
		jobType = specific
	}

	payload := task.Payload
	if jobType == model.JobTypeBrowser {
		payload = s.resolveBrowserPayload(ctx, task.Payload, srcCtx)
	}

	req := &model.CreateJobRequest{
		Type:       jobType,
		Priority:   s.cfg.DefaultPriority,
		Payload:    payload,
		Metadata:   meta,
		MaxRetries: s.cfg.MaxRetries,
		IsTest:     false,
	}
	if id, err := uuid.Parse(srcCtx.SiteID); err == nil {
		s := id.String()
		req.SiteID = &s
	}
	if id, err := uuid.Parse(srcCtx.SourceID); err == nil {
		s := id.String()
		req.SourceID = &s
	}
	return req, nil
}

// insertJobIdempotent creates req, treating a unique-fire-key violation as
// a successful no-op rather than an error - another replica already won
// this fire.
func (s *SchedulerService) insertJobIdempotent(ctx context.Context, tx *sql.Tx, req *model.CreateJobRequest) (bool, error) {
	var err error
	switch {
	case tx == nil:
		_, err = s.jobs.Create(ctx, req)
	default:
		creator, ok := s.jobs.(core.JobRepositoryTx)
		if !ok {
			if s.logger != nil {
				s.logger.WarnContext(ctx, "job repository missing transactional support; falling back to non-transactional create")
			}
			_, err = s.jobs.Create(ctx, req)
			break
		}
		_, err = creator.CreateInTx(ctx, tx, req)
	}

	if err == nil {
		return true, nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return false, nil
	}
	return false, fmt.Errorf("create job: %w", err)
}

func (s *SchedulerService) cacheSourceFor(ctx context.Context, sourceID string) error {
	if sourceID == "" {
		return nil
	}
	return s.sourceCache.CacheSourceContent(ctx, sourceID)
}

// resolveBrowserPayload decides what script content a browser job runs
// with: an explicit script/url already in the task payload wins, falling
// back to whatever the source cache has for SourceID, and finally the raw
// scheduled payload if neither is available.
func (s *SchedulerService) resolveBrowserPayload(ctx context.Context, schedPayload json.RawMessage, srcCtx jobSourceContext) json.RawMessage {
	if pl, ok := existingBrowserPayload(schedPayload, srcCtx); ok {
		return pl
	}
	if pl, ok := s.cachedBrowserPayload(ctx, srcCtx); ok {
		return pl
	}
	return schedPayload
}

// existingBrowserPayload returns schedPayload re-serialized with site/source
// context attached, if it already names a script or url to run.
func existingBrowserPayload(schedPayload json.RawMessage, srcCtx jobSourceContext) (json.RawMessage, bool) {
	var candidate map[string]any
	if err := json.Unmarshal(schedPayload, &candidate); err != nil || candidate == nil {
		return nil, false
	}
	_, hasScript := candidate["script"]
	_, hasURL := candidate["url"]
	if !hasScript && !hasURL {
		return nil, false
	}
	pl, err := attachSourceContext(candidate, srcCtx)
	if err != nil {
		return nil, false
	}
	return pl, true
}

func (s *SchedulerService) cachedBrowserPayload(ctx context.Context, srcCtx jobSourceContext) (json.RawMessage, bool) {
	if s.sourceCache == nil || srcCtx.SourceID == "" {
		return nil, false
	}

	script, err := s.sourceCache.GetCachedSourceContent(ctx, srcCtx.SourceID)
	if err != nil {
		s.logger.WarnContext(ctx, "scheduler: get cached source content failed", "error", err, "source_id", srcCtx.SourceID)
	}
	if len(script) == 0 {
		script = s.refreshSourceCache(ctx, srcCtx.SourceID)
	}
	if len(script) == 0 {
		return nil, false
	}

	pl, err := attachSourceContext(map[string]any{"script": string(script)}, srcCtx)
	if err != nil {
		return nil, false
	}
	return pl, true
}

func (s *SchedulerService) refreshSourceCache(ctx context.Context, sourceID string) []byte {
	if err := s.sourceCache.CacheSourceContent(ctx, sourceID); err != nil {
		s.logger.WarnContext(ctx, "scheduler: cache source content failed", "error", err, "source_id", sourceID)
		return nil
	}
	b, err := s.sourceCache.GetCachedSourceContent(ctx, sourceID)
	if err != nil {
		s.logger.WarnContext(ctx, "scheduler: second get cached source content failed", "error", err, "source_id", sourceID)
		return nil
	}
	return b
}

// attachSourceContext stamps site_id/source_id onto a browser payload (when
// present) and marshals it.
func attachSourceContext(payload map[string]any, srcCtx jobSourceContext) (json.RawMessage, error) {
	if srcCtx.SiteID != "" {
		payload["site_id"] = srcCtx.SiteID
	}
	if srcCtx.SourceID != "" {
		payload["source_id"] = srcCtx.SourceID
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal browser payload: %w", err)
	}
	return json.RawMessage(b), nil
}

// determineJobTypeFromTaskName infers a job type from a scheduled task's
// naming convention, where one exists. Tasks with no recognized prefix
// fall back to the scheduler's configured default job type.
func determineJobTypeFromTaskName(taskName string) (model.JobType, bool) {
	const secretRefreshPrefix = "secret-refresh:"
	if strings.HasPrefix(taskName, secretRefreshPrefix) {
		return model.JobTypeSecretRefresh, true
	}
	return "", false
}
