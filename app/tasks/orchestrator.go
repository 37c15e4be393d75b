package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/lysyi3m/vod-comb/app/alert"
	"github.com/lysyi3m/vod-comb/app/category"
	"github.com/lysyi3m/vod-comb/app/collector"
	"github.com/lysyi3m/vod-comb/app/database"
)

// CollectionRunner executes one collection run.
type CollectionRunner interface {
	Run(ctx context.Context, plan collector.Plan, ctrl collector.Control) *collector.Report
}

// HealthChecker probes sources on demand.
type HealthChecker interface {
	Check(ctx context.Context, src database.Source) (database.HealthRecord, error)
	CheckAll(ctx context.Context, sources []database.Source) []database.HealthRecord
}

// Options are the orchestrator's scheduling knobs.
type Options struct {
	IncrementalHours    int
	IncrementalSchedule string
	HealthSchedule      string
}

// Orchestrator owns the task lifecycle: it accepts task requests, claims
// at most one task at a time, drives the fetch coordinator, and applies
// the terminal transition the run's outcome calls for.
type Orchestrator struct {
	taskRepo    database.TaskRepository
	sourceRepo  database.SourceRepository
	mappingRepo database.MappingRepository
	healthRepo  database.HealthRepository
	runner      CollectionRunner
	checker     HealthChecker
	notifier    alert.Notifier
	opts        Options

	cron   *cron.Cron
	wake   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewOrchestrator(
	taskRepo database.TaskRepository,
	sourceRepo database.SourceRepository,
	mappingRepo database.MappingRepository,
	healthRepo database.HealthRepository,
	runner CollectionRunner,
	checker HealthChecker,
	notifier alert.Notifier,
	opts Options,
) *Orchestrator {
	return &Orchestrator{
		taskRepo:    taskRepo,
		sourceRepo:  sourceRepo,
		mappingRepo: mappingRepo,
		healthRepo:  healthRepo,
		runner:      runner,
		checker:     checker,
		notifier:    notifier,
		opts:        opts,
		cron:        cron.New(),
		wake:        make(chan struct{}, 1),
	}
}

// Start launches the runner loop and the scheduled jobs. A task left in
// running state by a crash or shutdown is claimed and resumed first.
func (o *Orchestrator) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel

	if o.opts.IncrementalSchedule != "" {
		if _, err := o.cron.AddFunc(o.opts.IncrementalSchedule, func() {
			o.enqueueScheduledIncremental()
		}); err != nil {
			return fmt.Errorf("invalid incremental schedule: %w", err)
		}
	}
	if o.opts.HealthSchedule != "" {
		if _, err := o.cron.AddFunc(o.opts.HealthSchedule, func() {
			o.runScheduledHealthCheck(ctx)
		}); err != nil {
			return fmt.Errorf("invalid health schedule: %w", err)
		}
	}
	o.cron.Start()

	o.wg.Add(1)
	go o.runLoop(ctx)
	o.Wake()

	return nil
}

// Stop halts the schedules and interrupts the running task, if any. The
// interrupted task keeps its running status and is resumed on next start.
func (o *Orchestrator) Stop() {
	o.cron.Stop()
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
	slog.Info("Task orchestrator stopped")
}

// Wake nudges the runner loop without blocking.
func (o *Orchestrator) Wake() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *Orchestrator) runLoop(ctx context.Context) {
	defer o.wg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.wake:
		case <-ticker.C:
		}

		o.drain(ctx)
	}
}

// drain claims and executes tasks until the queue is empty.
func (o *Orchestrator) drain(ctx context.Context) {
	for ctx.Err() == nil {
		task, err := o.claim()
		if err != nil {
			slog.Error("Failed to claim task", "error", err)
			return
		}
		if task == nil {
			return
		}

		o.execute(ctx, task)

		if ctx.Err() != nil {
			return
		}
	}
}

// claim returns the task to execute: a leftover running task takes
// precedence over the pending queue.
func (o *Orchestrator) claim() (*database.CollectionTask, error) {
	running, err := o.taskRepo.GetRunningTask()
	if err != nil {
		return nil, err
	}
	if running != nil {
		return running, nil
	}

	id, err := o.taskRepo.NextPendingTaskID()
	if err != nil || id == "" {
		return nil, err
	}

	ok, err := o.taskRepo.TryMarkRunning(id)
	if err != nil || !ok {
		return nil, err
	}

	return o.taskRepo.GetTask(id)
}

// runControl is the coordinator's callback surface for one run.
type runControl struct {
	repo   database.TaskRepository
	ctx    context.Context
	taskID string
	base   database.TaskCounters
}

func (c *runControl) ShouldStop() string {
	if c.ctx.Err() != nil {
		return database.StopPause
	}
	mode, err := c.repo.GetStopRequest(c.taskID)
	if err != nil {
		slog.Error("Failed to read stop request", "task_id", c.taskID, "error", err)
		return database.StopCancel
	}
	return mode
}

func (c *runControl) Checkpoint(cp database.Checkpoint, counters database.TaskCounters) error {
	if err := c.repo.SaveCheckpoint(cp); err != nil {
		return err
	}
	return c.repo.UpdateProgress(c.taskID, addCounters(c.base, counters), cp)
}

func (c *runControl) Log(level, action, message string) {
	if err := c.repo.AppendLog(c.taskID, level, action, message); err != nil {
		slog.Error("Failed to append task log", "task_id", c.taskID, "error", err)
	}
}

func (o *Orchestrator) execute(ctx context.Context, task *database.CollectionTask) {
	started := time.Now()

	plan, err := o.buildPlan(task)
	if err != nil {
		slog.Error("Failed to prepare task", "task_id", task.ID, "error", err)
		if markErr := o.taskRepo.MarkFailed(task.ID, err.Error()); markErr != nil {
			slog.Error("Failed to mark task failed", "task_id", task.ID, "error", markErr)
		}
		o.notifier.Notify("task_failed", map[string]any{
			"task_id": task.ID,
			"type":    task.Type,
			"error":   err.Error(),
		})
		return
	}

	ctrl := &runControl{repo: o.taskRepo, ctx: ctx, taskID: task.ID, base: task.Counters}
	ctrl.Log("info", "start", fmt.Sprintf("collecting from %d sources", len(plan.Sources)))

	report := o.runner.Run(ctx, *plan, ctrl)
	counters := addCounters(task.Counters, report.Counters)

	status := o.finishTask(ctx, task, report, ctrl)

	slog.Info("Task completed",
		"task_id", task.ID,
		"type", task.Type,
		"status", status,
		"processed", counters.Processed,
		"new", counters.New,
		"updated", counters.Updated,
		"skipped", counters.Skipped,
		"errors", counters.Errors,
		"duration", time.Since(started).Round(time.Millisecond))
}

// finishTask applies the transition the run's outcome calls for and
// returns the resulting status.
func (o *Orchestrator) finishTask(ctx context.Context, task *database.CollectionTask, report *collector.Report, ctrl *runControl) string {
	switch {
	case report.Stopped == database.StopPause && ctx.Err() != nil:
		// Shutdown interrupt: keep running status so the next start
		// resumes from the saved checkpoints.
		ctrl.Log("info", "interrupt", "run interrupted by shutdown")
		return database.TaskStatusRunning

	case report.Stopped == database.StopPause:
		if err := o.taskRepo.MarkPaused(task.ID); err != nil {
			slog.Error("Failed to mark task paused", "task_id", task.ID, "error", err)
		}
		ctrl.Log("info", "pause", "paused at the last saved page")
		return database.TaskStatusPaused

	case report.Stopped == database.StopCancel:
		if err := o.taskRepo.MarkCancelled(task.ID); err != nil {
			slog.Error("Failed to mark task cancelled", "task_id", task.ID, "error", err)
		}
		ctrl.Log("info", "cancel", "cancelled by request")
		return database.TaskStatusCancelled

	case len(report.SourceErrors) > 0 && !report.ProducedData:
		terr := &TaskError{SourceErrors: report.SourceErrors}
		if err := o.taskRepo.MarkFailed(task.ID, terr.Error()); err != nil {
			slog.Error("Failed to mark task failed", "task_id", task.ID, "error", err)
		}
		ctrl.Log("error", "fail", terr.Error())
		o.notifier.Notify("task_failed", map[string]any{
			"task_id": task.ID,
			"type":    task.Type,
			"error":   terr.Error(),
		})
		return database.TaskStatusFailed

	default:
		if err := o.taskRepo.MarkCompleted(task.ID); err != nil {
			slog.Error("Failed to mark task completed", "task_id", task.ID, "error", err)
		}
		if len(report.SourceErrors) > 0 {
			terr := &TaskError{SourceErrors: report.SourceErrors}
			ctrl.Log("warn", "finish", fmt.Sprintf("completed with source errors: %s", terr.Error()))
		}
		return database.TaskStatusCompleted
	}
}

// buildPlan snapshots sources, mappings, health, and checkpoints. A task
// sees one consistent view for its whole run.
func (o *Orchestrator) buildPlan(task *database.CollectionTask) (*collector.Plan, error) {
	sources, err := o.sourceRepo.ListActiveSources()
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("no active sources configured")
	}

	mappings, err := o.mappingRepo.GetAllMappings()
	if err != nil {
		return nil, fmt.Errorf("failed to load category mappings: %w", err)
	}

	healthRecords, err := o.healthRepo.ListHealth()
	if err != nil {
		return nil, fmt.Errorf("failed to load health records: %w", err)
	}
	healthByID := make(map[string]string, len(healthRecords))
	for _, rec := range healthRecords {
		healthByID[rec.SourceID] = rec.Status
	}

	checkpoints, err := o.taskRepo.GetCheckpoints(task.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoints: %w", err)
	}

	return &collector.Plan{
		Task:        *task,
		Sources:     sources,
		Health:      healthByID,
		Mapper:      category.NewMapper(mappings),
		Checkpoints: checkpoints,
	}, nil
}

func (o *Orchestrator) CreateTask(req TaskRequest) (*database.CollectionTask, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	if req.Type == database.TaskTypeSource {
		src, err := o.sourceRepo.GetSource(req.ScopeSourceID)
		if err != nil {
			return nil, fmt.Errorf("failed to look up source: %w", err)
		}
		if src == nil {
			return nil, fmt.Errorf("source '%s' not found", req.ScopeSourceID)
		}
	}

	hours := req.Hours
	if req.Type == database.TaskTypeIncremental && hours == 0 {
		hours = o.opts.IncrementalHours
	}

	task := &database.CollectionTask{
		ID:              uuid.NewString(),
		Type:            req.Type,
		Status:          database.TaskStatusPending,
		Priority:        req.Priority,
		ScopeSourceID:   req.ScopeSourceID,
		ScopeCategoryID: req.ScopeCategoryID,
		Hours:           hours,
	}

	if err := o.taskRepo.CreateTask(task); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	slog.Info("Task created", "task_id", task.ID, "type", task.Type, "priority", task.Priority)
	o.Wake()

	return task, nil
}

func (o *Orchestrator) GetTask(id string) (*database.CollectionTask, error) {
	return o.taskRepo.GetTask(id)
}

func (o *Orchestrator) ListTasks(status string, limit int) ([]database.CollectionTask, error) {
	return o.taskRepo.ListTasks(status, limit)
}

func (o *Orchestrator) GetProgress(id string) (*TaskProgress, error) {
	task, err := o.taskRepo.GetTask(id)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, nil
	}

	checkpointsByID, err := o.taskRepo.GetCheckpoints(id)
	if err != nil {
		return nil, err
	}

	checkpoints := make([]database.Checkpoint, 0, len(checkpointsByID))
	for _, cp := range checkpointsByID {
		checkpoints = append(checkpoints, cp)
	}

	return &TaskProgress{Task: *task, Checkpoints: checkpoints}, nil
}

func (o *Orchestrator) GetLogs(id string, limit int) ([]database.TaskLogEntry, error) {
	return o.taskRepo.GetLogs(id, limit)
}

// PauseTask requests a cooperative pause. The task keeps running until
// the coordinator reaches its next page boundary.
func (o *Orchestrator) PauseTask(id string) error {
	ok, err := o.taskRepo.RequestStop(id, database.StopPause)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("task is not running")
	}
	return nil
}

// ResumeTask puts a paused task back into running state. It fails when
// another task currently holds the running slot.
func (o *Orchestrator) ResumeTask(id string) error {
	task, err := o.taskRepo.GetTask(id)
	if err != nil {
		return err
	}
	if task == nil {
		return fmt.Errorf("task not found")
	}
	if task.Status != database.TaskStatusPaused {
		return fmt.Errorf("task is not paused")
	}

	ok, err := o.taskRepo.TryMarkRunning(id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("another task is already running")
	}

	o.Wake()
	return nil
}

// CancelTask cancels a pending or paused task immediately, or requests a
// cooperative cancel of a running one.
func (o *Orchestrator) CancelTask(id string) error {
	task, err := o.taskRepo.GetTask(id)
	if err != nil {
		return err
	}
	if task == nil {
		return fmt.Errorf("task not found")
	}

	if task.Status == database.TaskStatusRunning {
		ok, err := o.taskRepo.RequestStop(id, database.StopCancel)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("task is not cancellable")
		}
		return nil
	}

	ok, err := o.taskRepo.CancelInactive(id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("task is not cancellable")
	}
	return nil
}

// DeleteTask removes a terminal task and its checkpoints and logs.
func (o *Orchestrator) DeleteTask(id string) error {
	ok, err := o.taskRepo.DeleteTask(id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("task not found or not finished")
	}
	return nil
}

func (o *Orchestrator) CheckHealth(ctx context.Context, sourceID string) (database.HealthRecord, error) {
	src, err := o.sourceRepo.GetSource(sourceID)
	if err != nil {
		return database.HealthRecord{}, err
	}
	if src == nil {
		return database.HealthRecord{}, fmt.Errorf("source '%s' not found", sourceID)
	}
	return o.checker.Check(ctx, *src)
}

func (o *Orchestrator) CheckAllHealth(ctx context.Context) []database.HealthRecord {
	sources, err := o.sourceRepo.ListActiveSources()
	if err != nil {
		slog.Error("Failed to list sources for health check", "error", err)
		return nil
	}
	return o.checker.CheckAll(ctx, sources)
}

func (o *Orchestrator) ListHealth() ([]database.HealthRecord, error) {
	return o.healthRepo.ListHealth()
}

func (o *Orchestrator) enqueueScheduledIncremental() {
	if _, err := o.CreateTask(TaskRequest{Type: database.TaskTypeIncremental}); err != nil {
		slog.Error("Failed to enqueue scheduled incremental task", "error", err)
	}
}

func (o *Orchestrator) runScheduledHealthCheck(ctx context.Context) {
	records := o.CheckAllHealth(ctx)
	for _, rec := range records {
		if rec.Status == database.HealthError || rec.Status == database.HealthTimeout {
			o.notifier.Notify("source_unhealthy", map[string]any{
				"source_id":    rec.SourceID,
				"status":       rec.Status,
				"success_rate": rec.SuccessRate,
			})
		}
	}
}
