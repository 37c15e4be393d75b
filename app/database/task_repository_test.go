package database

import (
	"testing"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := NewConnection(":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, _, err := RunMigrations(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	return db
}

func TestTaskLifecycle(t *testing.T) {
	repo := NewTaskRepository(newTestDB(t))

	task := &CollectionTask{Type: TaskTypeFull}
	if err := repo.CreateTask(task); err != nil {
		t.Fatalf("Failed to create task: %v", err)
	}
	if task.ID == "" {
		t.Fatal("Expected task id to be assigned")
	}
	if task.Status != TaskStatusPending {
		t.Errorf("Expected status pending, got %s", task.Status)
	}

	ok, err := repo.TryMarkRunning(task.ID)
	if err != nil {
		t.Fatalf("Failed to mark running: %v", err)
	}
	if !ok {
		t.Fatal("Expected task to transition to running")
	}

	got, err := repo.GetRunningTask()
	if err != nil {
		t.Fatalf("Failed to get running task: %v", err)
	}
	if got == nil || got.ID != task.ID {
		t.Fatal("Expected the created task to be running")
	}

	if err := repo.MarkCompleted(task.ID); err != nil {
		t.Fatalf("Failed to mark completed: %v", err)
	}

	got, err = repo.GetTask(task.ID)
	if err != nil {
		t.Fatalf("Failed to get task: %v", err)
	}
	if got.Status != TaskStatusCompleted {
		t.Errorf("Expected status completed, got %s", got.Status)
	}
	if got.FinishedAt == nil {
		t.Error("Expected finished_at to be set")
	}
}

func TestSingleRunningInvariant(t *testing.T) {
	repo := NewTaskRepository(newTestDB(t))

	first := &CollectionTask{Type: TaskTypeFull}
	second := &CollectionTask{Type: TaskTypeIncremental}
	if err := repo.CreateTask(first); err != nil {
		t.Fatalf("Failed to create first task: %v", err)
	}
	if err := repo.CreateTask(second); err != nil {
		t.Fatalf("Failed to create second task: %v", err)
	}

	ok, err := repo.TryMarkRunning(first.ID)
	if err != nil || !ok {
		t.Fatalf("Expected first task to start, ok=%v err=%v", ok, err)
	}

	// Second task must stay pending while the first holds running.
	ok, err = repo.TryMarkRunning(second.ID)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if ok {
		t.Fatal("Second task must not enter running while first is running")
	}

	if err := repo.MarkCompleted(first.ID); err != nil {
		t.Fatalf("Failed to complete first task: %v", err)
	}

	ok, err = repo.TryMarkRunning(second.ID)
	if err != nil || !ok {
		t.Fatalf("Expected second task to start after first finished, ok=%v err=%v", ok, err)
	}
}

func TestNextPendingTaskFIFO(t *testing.T) {
	repo := NewTaskRepository(newTestDB(t))

	first := &CollectionTask{Type: TaskTypeFull}
	if err := repo.CreateTask(first); err != nil {
		t.Fatalf("Failed to create first task: %v", err)
	}
	second := &CollectionTask{Type: TaskTypeIncremental}
	if err := repo.CreateTask(second); err != nil {
		t.Fatalf("Failed to create second task: %v", err)
	}
	urgent := &CollectionTask{Type: TaskTypeSource, ScopeSourceID: "s1", Priority: 10}
	if err := repo.CreateTask(urgent); err != nil {
		t.Fatalf("Failed to create urgent task: %v", err)
	}

	id, err := repo.NextPendingTaskID()
	if err != nil {
		t.Fatalf("Failed to get next pending: %v", err)
	}
	if id != urgent.ID {
		t.Errorf("Expected highest priority task %s, got %s", urgent.ID, id)
	}

	if ok, _ := repo.CancelInactive(urgent.ID); !ok {
		t.Fatal("Expected pending task to be cancellable")
	}

	id, err = repo.NextPendingTaskID()
	if err != nil {
		t.Fatalf("Failed to get next pending: %v", err)
	}
	if id != first.ID {
		t.Errorf("Expected FIFO order (first task %s), got %s", first.ID, id)
	}
}

func TestStopRequestOnlyWhileRunning(t *testing.T) {
	repo := NewTaskRepository(newTestDB(t))

	task := &CollectionTask{Type: TaskTypeFull}
	if err := repo.CreateTask(task); err != nil {
		t.Fatalf("Failed to create task: %v", err)
	}

	ok, err := repo.RequestStop(task.ID, StopPause)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if ok {
		t.Error("Pause must be rejected for a pending task")
	}

	if ok, _ := repo.TryMarkRunning(task.ID); !ok {
		t.Fatal("Expected task to start")
	}

	ok, err = repo.RequestStop(task.ID, StopPause)
	if err != nil || !ok {
		t.Fatalf("Expected pause request to succeed, ok=%v err=%v", ok, err)
	}

	stop, err := repo.GetStopRequest(task.ID)
	if err != nil {
		t.Fatalf("Failed to get stop request: %v", err)
	}
	if stop != StopPause {
		t.Errorf("Expected stop request 'pause', got '%s'", stop)
	}

	if err := repo.MarkPaused(task.ID); err != nil {
		t.Fatalf("Failed to mark paused: %v", err)
	}

	got, _ := repo.GetTask(task.ID)
	if got.Status != TaskStatusPaused {
		t.Errorf("Expected status paused, got %s", got.Status)
	}
	if got.StopRequested != StopNone {
		t.Errorf("Expected stop request cleared, got '%s'", got.StopRequested)
	}

	// paused -> running (resume)
	if ok, _ := repo.TryMarkRunning(task.ID); !ok {
		t.Fatal("Expected paused task to resume")
	}
}

func TestDeleteOnlyTerminalTasks(t *testing.T) {
	repo := NewTaskRepository(newTestDB(t))

	task := &CollectionTask{Type: TaskTypeFull}
	if err := repo.CreateTask(task); err != nil {
		t.Fatalf("Failed to create task: %v", err)
	}

	ok, err := repo.DeleteTask(task.ID)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if ok {
		t.Error("Pending task must not be deletable")
	}

	if ok, _ := repo.CancelInactive(task.ID); !ok {
		t.Fatal("Expected pending task to be cancellable")
	}

	ok, err = repo.DeleteTask(task.ID)
	if err != nil || !ok {
		t.Fatalf("Expected cancelled task to be deletable, ok=%v err=%v", ok, err)
	}
}

func TestCheckpointsAndProgress(t *testing.T) {
	repo := NewTaskRepository(newTestDB(t))

	task := &CollectionTask{Type: TaskTypeFull}
	if err := repo.CreateTask(task); err != nil {
		t.Fatalf("Failed to create task: %v", err)
	}

	cp := Checkpoint{TaskID: task.ID, SourceID: "s1", Page: 3, TotalPages: 10}
	if err := repo.SaveCheckpoint(cp); err != nil {
		t.Fatalf("Failed to save checkpoint: %v", err)
	}

	counters := TaskCounters{Processed: 60, New: 40, Updated: 10, Skipped: 8, Errors: 2}
	if err := repo.UpdateProgress(task.ID, counters, cp); err != nil {
		t.Fatalf("Failed to update progress: %v", err)
	}

	got, err := repo.GetTask(task.ID)
	if err != nil {
		t.Fatalf("Failed to get task: %v", err)
	}
	if got.Counters != counters {
		t.Errorf("Expected counters %+v, got %+v", counters, got.Counters)
	}
	sum := got.Counters.New + got.Counters.Updated + got.Counters.Skipped + got.Counters.Errors
	if got.Counters.Processed != sum {
		t.Errorf("Counter invariant violated: processed=%d sum=%d", got.Counters.Processed, sum)
	}
	if got.CursorSourceID != "s1" || got.CursorPage != 3 {
		t.Errorf("Expected cursor (s1, 3), got (%s, %d)", got.CursorSourceID, got.CursorPage)
	}

	cps, err := repo.GetCheckpoints(task.ID)
	if err != nil {
		t.Fatalf("Failed to get checkpoints: %v", err)
	}
	if len(cps) != 1 || cps["s1"].Page != 3 {
		t.Errorf("Expected one checkpoint at page 3, got %+v", cps)
	}
}
