package database

import (
	"time"
)

type SourceRepository interface {
	UpsertSource(src Source) error
	GetSource(id string) (*Source, error)
	ListSources() ([]Source, error)
	ListActiveSources() ([]Source, error)
	UpdateDetectedFormat(id string, format string) error
	GetSourceCount() (int, error)
}

type MappingRepository interface {
	UpsertCategory(cat Category) error
	ReplaceMappings(sourceID string, mappings []CategoryMapping) error
	GetAllMappings() ([]CategoryMapping, error)
}

type HealthRepository interface {
	GetHealth(sourceID string) (*HealthRecord, error)
	ListHealth() ([]HealthRecord, error)
	UpsertHealth(rec HealthRecord) error
}

type TaskRepository interface {
	CreateTask(task *CollectionTask) error
	GetTask(id string) (*CollectionTask, error)
	ListTasks(status string, limit int) ([]CollectionTask, error)
	GetRunningTask() (*CollectionTask, error)
	NextPendingTaskID() (string, error)
	CountTasksByStatus() (map[string]int, error)

	// TryMarkRunning performs the durable check-and-set that enforces the
	// single-running-task invariant. Returns false when the task is not in
	// a startable state or another task currently holds running.
	TryMarkRunning(id string) (bool, error)
	RequestStop(id string, mode string) (bool, error)
	GetStopRequest(id string) (string, error)
	CancelInactive(id string) (bool, error)
	MarkPaused(id string) error
	MarkCompleted(id string) error
	MarkFailed(id string, lastError string) error
	MarkCancelled(id string) error
	DeleteTask(id string) (bool, error)

	UpdateProgress(id string, counters TaskCounters, cursor Checkpoint) error
	SaveCheckpoint(cp Checkpoint) error
	GetCheckpoints(taskID string) (map[string]Checkpoint, error)

	AppendLog(taskID, level, action, message string) error
	GetLogs(taskID string, limit int) ([]TaskLogEntry, error)
}

type CatalogRepository interface {
	GetByIdentityKey(key string) (*Video, error)
	UpsertVideo(video *Video) error
	GetVideoCount() (int, error)
	CountFetchedSince(since time.Time) (int, error)
}
