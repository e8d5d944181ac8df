package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/greywolf-labs/siteward/internal/core"
	"github.com/greywolf-labs/siteward/internal/data"
	"github.com/greywolf-labs/siteward/internal/domain"
	"github.com/greywolf-labs/siteward/internal/domain/model"
	domainscheduler "github.com/greywolf-labs/siteward/internal/domain/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testTaskID      = "task-1"
	testPayloadJSON = `{"test": true}`
)

type mockScheduledJobsRepo struct {
	mock.Mock
}

func (m *mockScheduledJobsRepo) FindDue(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledTask, error) {
	args := m.Called(ctx, now, limit)
	return args.Get(0).([]domain.ScheduledTask), args.Error(1)
}

func (m *mockScheduledJobsRepo) FindDueTx(
	ctx context.Context,
	tx *sql.Tx,
	p domain.FindDueParams,
) ([]domain.ScheduledTask, error) {
	args := m.Called(ctx, tx, p)
	return args.Get(0).([]domain.ScheduledTask), args.Error(1)
}

func (m *mockScheduledJobsRepo) MarkQueued(ctx context.Context, id string, now time.Time) (bool, error) {
	args := m.Called(ctx, id, now)
	return args.Bool(0), args.Error(1)
}

func (m *mockScheduledJobsRepo) MarkQueuedTx(ctx context.Context, tx *sql.Tx, p domain.MarkQueuedParams) (bool, error) {
	args := m.Called(ctx, tx, p)
	return args.Bool(0), args.Error(1)
}

func (m *mockScheduledJobsRepo) TryWithTaskLock(
	ctx context.Context,
	taskName string,
	fn func(context.Context, *sql.Tx) error,
) (bool, error) {
	args := m.Called(ctx, taskName, fn)
	if args.Bool(0) {
		return true, fn(ctx, nil)
	}
	return false, args.Error(1)
}

func (m *mockScheduledJobsRepo) UpdateActiveFireKeyTx(
	ctx context.Context,
	tx *sql.Tx,
	p domain.UpdateActiveFireKeyParams,
) error {
	args := m.Called(ctx, tx, p)
	return args.Error(0)
}

type mockJobRepository struct {
	mock.Mock
}

func (m *mockJobRepository) Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Job), args.Error(1)
}

func (m *mockJobRepository) CreateInTx(
	ctx context.Context,
	tx *sql.Tx,
	req *model.CreateJobRequest,
) (*model.Job, error) {
	args := m.Called(ctx, tx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Job), args.Error(1)
}

func (m *mockJobRepository) GetByID(ctx context.Context, id string) (*model.Job, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Job), args.Error(1)
}

func (m *mockJobRepository) ReserveNext(
	ctx context.Context,
	jobType model.JobType,
	leaseSeconds int,
) (*model.Job, error) {
	args := m.Called(ctx, jobType, leaseSeconds)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Job), args.Error(1)
}

func (m *mockJobRepository) WaitForNotification(ctx context.Context, jobType model.JobType) error {
	args := m.Called(ctx, jobType)
	return args.Error(0)
}

func (m *mockJobRepository) Heartbeat(ctx context.Context, jobID string, leaseSeconds int) (bool, error) {
	args := m.Called(ctx, jobID, leaseSeconds)
	return args.Bool(0), args.Error(1)
}

func (m *mockJobRepository) Complete(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockJobRepository) Fail(ctx context.Context, id, errMsg string) (bool, error) {
	args := m.Called(ctx, id, errMsg)
	return args.Bool(0), args.Error(1)
}

func (m *mockJobRepository) Stats(ctx context.Context, jobType model.JobType) (*model.JobStats, error) {
	args := m.Called(ctx, jobType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.JobStats), args.Error(1)
}

func (m *mockJobRepository) List(ctx context.Context, opts *model.JobListOptions) ([]*model.JobWithEventCount, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.JobWithEventCount), args.Error(1)
}

func (m *mockJobRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockJobRepository) DeleteByPayloadField(
	ctx context.Context,
	params core.DeleteByPayloadFieldParams,
) (int, error) {
	args := m.Called(ctx, params)
	return args.Int(0), args.Error(1)
}

type mockJobIntrospector struct {
	mock.Mock
}

func (m *mockJobIntrospector) RunningJobExistsByTaskName(
	ctx context.Context,
	taskName string,
	now time.Time,
) (bool, error) {
	args := m.Called(ctx, taskName, now)
	return args.Bool(0), args.Error(1)
}

func (m *mockJobIntrospector) JobStatesByTaskName(
	ctx context.Context,
	taskName string,
	now time.Time,
) (domain.OverrunStateMask, error) {
	args := m.Called(ctx, taskName, now)
	mask, _ := args.Get(0).(domain.OverrunStateMask)
	return mask, args.Error(1)
}

// schedulerRig bundles a SchedulerService under test with its mocks and
// clock, cutting the boilerplate every test below used to repeat on its own.
type schedulerRig struct {
	Repo  *mockScheduledJobsRepo
	Jobs  *mockJobRepository
	Jobq  *mockJobIntrospector
	Clock *data.FixedTimeProvider
	Svc   *SchedulerService
}

// newSchedulerRig wires a fresh set of mocks into a SchedulerService. Pass
// cfg to exercise non-default overrun strategy/limits; nil uses the
// service's built-in defaults.
func newSchedulerRig(at time.Time, cfg *core.SchedulerConfig) *schedulerRig {
	rig := &schedulerRig{
		Repo:  &mockScheduledJobsRepo{},
		Jobs:  &mockJobRepository{},
		Jobq:  &mockJobIntrospector{},
		Clock: data.NewFixedTimeProvider(at),
	}
	rig.Svc = NewSchedulerService(SchedulerServiceOptions{
		Repo:            rig.Repo,
		Jobs:            rig.Jobs,
		JobIntrospector: rig.Jobq,
		Config:          cfg,
		TimeProvider:    rig.Clock,
	})
	return rig
}

func overrunConfig(policy domain.OverrunPolicy) *core.SchedulerConfig {
	cfg := core.DefaultSchedulerConfig()
	cfg.Strategy.Overrun = policy
	return &cfg
}

func simpleTask(name string) domain.ScheduledTask {
	return domain.ScheduledTask{
		ID:       testTaskID,
		TaskName: name,
		Payload:  json.RawMessage(testPayloadJSON),
		Interval: 5 * time.Minute,
	}
}

func (rig *schedulerRig) assertAll(t *testing.T) {
	t.Helper()
	rig.Repo.AssertExpectations(t)
	rig.Jobs.AssertExpectations(t)
	rig.Jobq.AssertExpectations(t)
}

func TestSchedulerService_Tick_NoTasks(t *testing.T) {
	rig := newSchedulerRig(time.Now(), nil)
	ctx := context.Background()
	now := rig.Clock.Now()

	rig.Repo.On("FindDue", ctx, now, 25).Return([]domain.ScheduledTask{}, nil)

	processed, err := rig.Svc.Tick(ctx, now)

	require.NoError(t, err)
	assert.Equal(t, 0, processed)
	rig.Repo.AssertExpectations(t)
}

func TestSchedulerService_Tick_SingleTask_QueuePolicy(t *testing.T) {
	rig := newSchedulerRig(time.Now(), overrunConfig(domain.OverrunPolicyQueue))
	ctx := context.Background()
	now := rig.Clock.Now()
	task := simpleTask("test-task")

	rig.Repo.On("FindDue", ctx, now, 25).Return([]domain.ScheduledTask{task}, nil)
	rig.Repo.On("TryWithTaskLock", ctx, "test-task", mock.Anything).Return(true, nil)

	expectedJob := &model.Job{ID: "job-1", Type: model.JobTypeBrowser}
	rig.Jobs.On("Create", ctx, mock.MatchedBy(func(req *model.CreateJobRequest) bool {
		return req.Type == model.JobTypeBrowser &&
			req.Priority == 0 &&
			req.MaxRetries == 3 &&
			string(req.Payload) == testPayloadJSON
	})).Return(expectedJob, nil)

	rig.Repo.On("MarkQueuedTx", ctx, (*sql.Tx)(nil), mock.MatchedBy(func(p domain.MarkQueuedParams) bool {
		return p.ID == testTaskID && p.Now.Equal(now) && p.ActiveFireKey != nil && *p.ActiveFireKey != "" &&
			p.ActiveFireKeySetAt != nil
	})).Return(true, nil)

	processed, err := rig.Svc.Tick(ctx, now)

	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	rig.assertAll(t)
}

func TestSchedulerService_Tick_SingleTask_SkipPolicy_NoRunningJob(t *testing.T) {
	rig := newSchedulerRig(time.Now(), overrunConfig(domain.OverrunPolicySkip))
	ctx := context.Background()
	now := rig.Clock.Now()
	task := simpleTask("test-task")

	rig.Repo.On("FindDue", ctx, now, 25).Return([]domain.ScheduledTask{task}, nil)
	rig.Repo.On("TryWithTaskLock", ctx, "test-task", mock.Anything).Return(true, nil)
	rig.Jobq.On("JobStatesByTaskName", ctx, "test-task", now).Return(domain.OverrunStateMask(0), nil)
	rig.Repo.On("MarkQueuedTx", ctx, (*sql.Tx)(nil), mock.MatchedBy(func(p domain.MarkQueuedParams) bool {
		return p.ID == testTaskID && p.Now.Equal(now)
	})).Return(true, nil)
	rig.Repo.On("UpdateActiveFireKeyTx", ctx, (*sql.Tx)(nil), mock.MatchedBy(func(p domain.UpdateActiveFireKeyParams) bool {
		return p.ID == testTaskID && p.FireKey != nil && *p.FireKey != ""
	})).Return(nil)

	expectedJob := &model.Job{ID: "job-1", Type: model.JobTypeBrowser}
	rig.Jobs.On("Create", ctx, mock.AnythingOfType("*model.CreateJobRequest")).Return(expectedJob, nil)

	processed, err := rig.Svc.Tick(ctx, now)

	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	rig.assertAll(t)
}

func TestSchedulerService_Tick_SkipPolicy_SetActiveFireKeyError(t *testing.T) {
	rig := newSchedulerRig(time.Now(), overrunConfig(domain.OverrunPolicySkip))
	ctx := context.Background()
	now := rig.Clock.Now()
	task := simpleTask("test-task")

	rig.Repo.On("FindDue", ctx, now, 25).Return([]domain.ScheduledTask{task}, nil)
	rig.Repo.On("TryWithTaskLock", ctx, "test-task", mock.Anything).Return(true, nil)
	rig.Jobq.On("JobStatesByTaskName", ctx, "test-task", now).Return(domain.OverrunStateMask(0), nil)
	rig.Repo.On("MarkQueuedTx", ctx, (*sql.Tx)(nil), mock.MatchedBy(func(p domain.MarkQueuedParams) bool {
		return p.ID == testTaskID && p.Now.Equal(now)
	})).Return(true, nil)
	rig.Jobs.On("Create", ctx, mock.AnythingOfType("*model.CreateJobRequest")).Return(&model.Job{ID: "job-1"}, nil)
	rig.Repo.On("UpdateActiveFireKeyTx", ctx, (*sql.Tx)(nil), mock.AnythingOfType("domain.UpdateActiveFireKeyParams")).
		Return(errors.New("set key failed"))

	processed, err := rig.Svc.Tick(ctx, now)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "set active fire key")
	assert.Equal(t, 0, processed)
	rig.assertAll(t)
}

func TestSchedulerService_Tick_SingleTask_SkipPolicy_RunningJobExists(t *testing.T) {
	rig := newSchedulerRig(time.Now(), overrunConfig(domain.OverrunPolicySkip))
	ctx := context.Background()
	now := rig.Clock.Now()
	task := simpleTask("test-task")

	rig.Repo.On("FindDue", ctx, now, 25).Return([]domain.ScheduledTask{task}, nil)
	rig.Repo.On("TryWithTaskLock", ctx, "test-task", mock.Anything).Return(true, nil)
	rig.Jobq.On("JobStatesByTaskName", ctx, "test-task", now).Return(domain.OverrunStateRunning, nil)
	rig.Repo.On("MarkQueuedTx", ctx, (*sql.Tx)(nil), mock.MatchedBy(func(p domain.MarkQueuedParams) bool {
		return p.ID == testTaskID && p.Now.Equal(now)
	})).Return(true, nil)

	// Create must NOT be called: a running job blocks enqueue under Skip.

	processed, err := rig.Svc.Tick(ctx, now)

	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	rig.assertAll(t)
}

func TestSchedulerService_Tick_SkipPolicy_PendingStateBlocks(t *testing.T) {
	rig := newSchedulerRig(time.Now(), overrunConfig(domain.OverrunPolicySkip))
	ctx := context.Background()
	now := rig.Clock.Now()

	stateMask := domain.OverrunStateRunning | domain.OverrunStatePending | domain.OverrunStateRetrying
	task := simpleTask("test-task")
	task.OverrunStates = &stateMask

	rig.Repo.On("FindDue", ctx, now, 25).Return([]domain.ScheduledTask{task}, nil)
	rig.Repo.On("TryWithTaskLock", ctx, "test-task", mock.Anything).Return(true, nil)
	rig.Jobq.On("JobStatesByTaskName", ctx, "test-task", now).Return(domain.OverrunStatePending, nil)
	rig.Repo.On("MarkQueuedTx", ctx, (*sql.Tx)(nil), mock.MatchedBy(func(p domain.MarkQueuedParams) bool {
		return p.ID == testTaskID && p.Now.Equal(now)
	})).Return(true, nil)

	processed, err := rig.Svc.Tick(ctx, now)

	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	rig.Jobs.AssertNotCalled(t, "Create", mock.Anything)
	rig.Repo.AssertExpectations(t)
	rig.Jobq.AssertExpectations(t)
}

func TestSchedulerService_Tick_SingleTask_ReschedulePolicy(t *testing.T) {
	rig := newSchedulerRig(time.Now(), overrunConfig(domain.OverrunPolicyReschedule))
	ctx := context.Background()
	now := rig.Clock.Now()
	task := simpleTask("test-task")

	rig.Repo.On("FindDue", ctx, now, 25).Return([]domain.ScheduledTask{task}, nil)
	rig.Repo.On("TryWithTaskLock", ctx, "test-task", mock.Anything).Return(true, nil)
	rig.Repo.On("MarkQueuedTx", ctx, (*sql.Tx)(nil), mock.MatchedBy(func(p domain.MarkQueuedParams) bool {
		return p.ID == testTaskID && p.Now.Equal(now)
	})).Return(true, nil)

	// Create must NOT be called: reschedule re-arms without enqueuing.

	processed, err := rig.Svc.Tick(ctx, now)

	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	rig.assertAll(t)
}

func TestSchedulerService_Tick_LockNotAcquired(t *testing.T) {
	rig := newSchedulerRig(time.Now(), nil)
	ctx := context.Background()
	now := rig.Clock.Now()
	task := simpleTask("test-task")

	rig.Repo.On("FindDue", ctx, now, 25).Return([]domain.ScheduledTask{task}, nil)
	rig.Repo.On("TryWithTaskLock", ctx, "test-task", mock.Anything).Return(false, nil)

	processed, err := rig.Svc.Tick(ctx, now)

	require.NoError(t, err)
	assert.Equal(t, 0, processed)
	rig.Repo.AssertExpectations(t)
}

func TestSchedulerService_Tick_FindDueError(t *testing.T) {
	rig := newSchedulerRig(time.Now(), nil)
	ctx := context.Background()
	now := rig.Clock.Now()

	rig.Repo.On("FindDue", ctx, now, 25).Return([]domain.ScheduledTask{}, errors.New("database error"))

	processed, err := rig.Svc.Tick(ctx, now)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "find due tasks")
	assert.Equal(t, 0, processed)
	rig.Repo.AssertExpectations(t)
}

func TestSchedulerService_Tick_JobCreationError(t *testing.T) {
	rig := newSchedulerRig(time.Now(), overrunConfig(domain.OverrunPolicyQueue))
	ctx := context.Background()
	now := rig.Clock.Now()
	task := simpleTask("test-task")

	rig.Repo.On("FindDue", ctx, now, 25).Return([]domain.ScheduledTask{task}, nil)
	rig.Repo.On("TryWithTaskLock", ctx, "test-task", mock.Anything).Return(true, nil)
	rig.Jobs.On("Create", ctx, mock.AnythingOfType("*model.CreateJobRequest")).
		Return(nil, errors.New("job creation failed"))

	processed, err := rig.Svc.Tick(ctx, now)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "process task test-task")
	assert.Contains(t, err.Error(), "enqueue job")
	assert.Equal(t, 0, processed)
	rig.Repo.AssertExpectations(t)
	rig.Jobs.AssertExpectations(t)
}

func TestSchedulerService_Tick_JobIntrospectorError(t *testing.T) {
	rig := newSchedulerRig(time.Now(), overrunConfig(domain.OverrunPolicySkip))
	ctx := context.Background()
	now := rig.Clock.Now()
	task := simpleTask("test-task")

	rig.Repo.On("FindDue", ctx, now, 25).Return([]domain.ScheduledTask{task}, nil)
	rig.Repo.On("TryWithTaskLock", ctx, "test-task", mock.Anything).Return(true, nil)
	rig.Jobq.On("JobStatesByTaskName", ctx, "test-task", now).
		Return(domain.OverrunStateMask(0), errors.New("introspector error"))

	processed, err := rig.Svc.Tick(ctx, now)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "process task test-task")
	assert.Contains(t, err.Error(), "check overrun policy")
	assert.Equal(t, 0, processed)
	rig.Repo.AssertExpectations(t)
	rig.Jobq.AssertExpectations(t)
}

func TestSchedulerService_Tick_MarkQueuedError(t *testing.T) {
	rig := newSchedulerRig(time.Now(), overrunConfig(domain.OverrunPolicySkip))
	ctx := context.Background()
	now := rig.Clock.Now()
	task := simpleTask("test-task")

	rig.Repo.On("FindDue", ctx, now, 25).Return([]domain.ScheduledTask{task}, nil)
	rig.Repo.On("TryWithTaskLock", ctx, "test-task", mock.Anything).Return(true, nil)
	rig.Jobq.On("JobStatesByTaskName", ctx, "test-task", now).Return(domain.OverrunStateMask(0), nil)
	rig.Repo.On("MarkQueuedTx", ctx, (*sql.Tx)(nil), mock.MatchedBy(func(p domain.MarkQueuedParams) bool {
		return p.ID == testTaskID && p.Now.Equal(now)
	})).Return(false, errors.New("mark queued failed"))

	processed, err := rig.Svc.Tick(ctx, now)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "process task test-task")
	assert.Contains(t, err.Error(), "mark task queued")
	assert.Equal(t, 0, processed)
	rig.Repo.AssertExpectations(t)
	rig.Jobq.AssertExpectations(t)
}

func TestSchedulerService_Tick_DefensiveRecheck_TaskNoLongerDue(t *testing.T) {
	fixedTime := time.Now()
	rig := newSchedulerRig(fixedTime, nil)
	ctx := context.Background()
	now := fixedTime

	// Due when FindDue ran, but already queued by the time the defensive
	// recheck inside the advisory lock fires - a race between replicas.
	task := simpleTask("test-task")
	task.LastQueuedAt = &fixedTime

	rig.Repo.On("FindDue", ctx, now, 25).Return([]domain.ScheduledTask{task}, nil)
	rig.Repo.On("TryWithTaskLock", ctx, "test-task", mock.Anything).Return(true, nil)

	processed, err := rig.Svc.Tick(ctx, now)

	require.NoError(t, err)
	assert.Equal(t, 0, processed)
	rig.assertAll(t)
}

func TestSchedulerService_Tick_TimeBoundaryEdgeCase(t *testing.T) {
	baseTime := time.Date(2023, 1, 1, 12, 0, 0, 0, time.UTC)
	rig := newSchedulerRig(baseTime, overrunConfig(domain.OverrunPolicyQueue))
	ctx := context.Background()
	now := baseTime

	lastQueued := baseTime.Add(-5 * time.Minute)
	task := simpleTask("boundary-task")
	task.LastQueuedAt = &lastQueued

	rig.Repo.On("FindDue", ctx, now, 25).Return([]domain.ScheduledTask{task}, nil)
	rig.Repo.On("TryWithTaskLock", ctx, "boundary-task", mock.Anything).Return(true, nil)
	expectedJob := &model.Job{ID: "job-1", Type: model.JobTypeBrowser}
	rig.Jobs.On("Create", ctx, mock.AnythingOfType("*model.CreateJobRequest")).Return(expectedJob, nil)
	rig.Repo.On("MarkQueuedTx", ctx, (*sql.Tx)(nil), mock.MatchedBy(func(p domain.MarkQueuedParams) bool {
		return p.ID == testTaskID && p.Now.Equal(now)
	})).Return(true, nil)

	processed, err := rig.Svc.Tick(ctx, now)

	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	rig.Repo.AssertExpectations(t)
	rig.Jobs.AssertExpectations(t)
}

func TestSchedulerService_Tick_MultipleTasks_PartialFailure(t *testing.T) {
	rig := newSchedulerRig(time.Now(), overrunConfig(domain.OverrunPolicyQueue))
	ctx := context.Background()
	now := rig.Clock.Now()

	task1 := domain.ScheduledTask{
		ID:       "task-1",
		TaskName: "success-task",
		Payload:  json.RawMessage(testPayloadJSON),
		Interval: 5 * time.Minute,
	}
	task2 := domain.ScheduledTask{
		ID:       "task-2",
		TaskName: "failure-task",
		Payload:  json.RawMessage(testPayloadJSON),
		Interval: 5 * time.Minute,
	}

	rig.Repo.On("FindDue", ctx, now, 25).Return([]domain.ScheduledTask{task1, task2}, nil)

	rig.Repo.On("TryWithTaskLock", ctx, "success-task", mock.Anything).Return(true, nil)
	expectedJob := &model.Job{ID: "job-1", Type: model.JobTypeBrowser}
	rig.Jobs.On("Create", ctx, mock.MatchedBy(func(req *model.CreateJobRequest) bool {
		return string(req.Payload) == testPayloadJSON
	})).Return(expectedJob, nil).Once()
	rig.Repo.On("MarkQueuedTx", ctx, (*sql.Tx)(nil), mock.MatchedBy(func(p domain.MarkQueuedParams) bool {
		return p.ID == "task-1"
	})).Return(true, nil)

	rig.Repo.On("TryWithTaskLock", ctx, "failure-task", mock.Anything).Return(true, nil)
	rig.Jobs.On("Create", ctx, mock.MatchedBy(func(req *model.CreateJobRequest) bool {
		return string(req.Payload) == testPayloadJSON
	})).Return(nil, errors.New("job creation failed")).Once()

	processed, err := rig.Svc.Tick(ctx, now)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "process task failure-task")
	assert.Equal(t, 1, processed) // the success-task still counts before the later failure
	rig.Repo.AssertExpectations(t)
	rig.Jobs.AssertExpectations(t)
}

func TestSchedulerService_Configuration_Defaults(t *testing.T) {
	rig := newSchedulerRig(time.Now(), nil)

	assert.Equal(t, 25, rig.Svc.cfg.BatchSize)
	assert.Equal(t, model.JobTypeBrowser, rig.Svc.cfg.DefaultJobType)
	assert.Equal(t, 0, rig.Svc.cfg.DefaultPriority)
	assert.Equal(t, 3, rig.Svc.cfg.MaxRetries)
	assert.Equal(t, domain.OverrunPolicySkip, rig.Svc.cfg.Strategy.Overrun)
	assert.NotNil(t, rig.Svc.timeProvider)
}

func TestSchedulerService_Configuration_CustomValues(t *testing.T) {
	cfg := core.SchedulerConfig{
		BatchSize:       50,
		DefaultJobType:  model.JobTypeRules,
		DefaultPriority: 10,
		MaxRetries:      5,
		Strategy: domain.StrategyOptions{
			Overrun: domain.OverrunPolicyQueue,
		},
	}
	rig := newSchedulerRig(time.Now(), &cfg)

	assert.Equal(t, 50, rig.Svc.cfg.BatchSize)
	assert.Equal(t, model.JobTypeRules, rig.Svc.cfg.DefaultJobType)
	assert.Equal(t, 10, rig.Svc.cfg.DefaultPriority)
	assert.Equal(t, 5, rig.Svc.cfg.MaxRetries)
	assert.Equal(t, domain.OverrunPolicyQueue, rig.Svc.cfg.Strategy.Overrun)
	assert.Equal(t, rig.Clock, rig.Svc.timeProvider)
}

func TestSchedulerService_EnqueueJob_SiteRunAssociations(t *testing.T) {
	rig := newSchedulerRig(time.Now(), nil)
	ctx := context.Background()
	siteID := "550e8400-e29b-41d4-a716-446655440000"
	sourceID := "660f9500-f39c-52e5-b827-557766551111"

	payloadBytes, err := json.Marshal(struct {
		SiteID   string `json:"site_id"`
		SourceID string `json:"source_id"`
	}{SiteID: siteID, SourceID: sourceID})
	require.NoError(t, err)

	task := domain.ScheduledTask{
		ID:       testTaskID,
		TaskName: "site:" + siteID,
		Payload:  payloadBytes,
		Interval: 5 * time.Minute,
	}

	rig.Jobs.On("Create", ctx, mock.MatchedBy(func(req *model.CreateJobRequest) bool {
		return req.SiteID != nil && *req.SiteID == siteID &&
			req.SourceID != nil && *req.SourceID == sourceID &&
			req.IsTest == false
	})).Return(&model.Job{ID: "job-123"}, nil)

	fireKey := domainscheduler.ComputeFireKey(task, rig.Clock.Now())

	created, err := rig.Svc.enqueueJob(ctx, enqueueJobParams{
		Task:    task,
		FireKey: fireKey,
	})

	require.NoError(t, err)
	require.True(t, created)
	rig.Jobs.AssertExpectations(t)
}

func TestSchedulerService_EnqueueJob_UsesTransactionalRepository(t *testing.T) {
	rig := newSchedulerRig(time.Now(), nil)
	ctx := context.Background()
	task := domain.ScheduledTask{
		ID:       testTaskID,
		TaskName: "test-task",
		Payload:  json.RawMessage(`{"foo": "bar"}`),
		Interval: time.Minute,
	}

	var dummyTx sql.Tx
	rig.Jobs.On("CreateInTx", ctx, &dummyTx, mock.AnythingOfType("*model.CreateJobRequest")).
		Return(&model.Job{ID: "job-456"}, nil)

	fireKey := domainscheduler.ComputeFireKey(task, rig.Clock.Now())

	created, err := rig.Svc.enqueueJob(ctx, enqueueJobParams{
		Tx:      &dummyTx,
		Task:    task,
		FireKey: fireKey,
	})

	require.NoError(t, err)
	assert.True(t, created)
	rig.Jobs.AssertCalled(t, "CreateInTx", ctx, &dummyTx, mock.AnythingOfType("*model.CreateJobRequest"))
	rig.Jobs.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestSchedulerService_EnqueueJob_InvalidUUIDs(t *testing.T) {
	rig := newSchedulerRig(time.Now(), nil)
	ctx := context.Background()

	payloadBytes, err := json.Marshal(struct {
		SiteID   string `json:"site_id"`
		SourceID string `json:"source_id"`
	}{SiteID: "invalid-site-id", SourceID: "invalid-source-id"})
	require.NoError(t, err)

	task := domain.ScheduledTask{
		ID:       testTaskID,
		TaskName: "site:invalid",
		Payload:  payloadBytes,
		Interval: 5 * time.Minute,
	}

	rig.Jobs.On("Create", ctx, mock.MatchedBy(func(req *model.CreateJobRequest) bool {
		return req.SiteID == nil && req.SourceID == nil && req.IsTest == false
	})).Return(&model.Job{ID: "job-123"}, nil)

	fireKey := domainscheduler.ComputeFireKey(task, rig.Clock.Now())

	created, err := rig.Svc.enqueueJob(ctx, enqueueJobParams{
		Task:    task,
		FireKey: fireKey,
	})

	require.NoError(t, err)
	require.True(t, created)
	rig.Jobs.AssertExpectations(t)
}

func TestSchedulerService_EnqueueJob_InvalidPayload(t *testing.T) {
	rig := newSchedulerRig(time.Now(), nil)
	ctx := context.Background()

	task := domain.ScheduledTask{
		ID:       testTaskID,
		TaskName: "invalid-task",
		Payload:  json.RawMessage(`{invalid json`),
		Interval: 5 * time.Minute,
	}

	fireKey := domainscheduler.ComputeFireKey(task, rig.Clock.Now())

	created, err := rig.Svc.enqueueJob(ctx, enqueueJobParams{
		Task:    task,
		FireKey: fireKey,
	})

	require.Error(t, err)
	require.False(t, created)
	require.Contains(t, err.Error(), "parse task payload")
}
