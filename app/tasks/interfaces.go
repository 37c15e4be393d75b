package tasks

import (
	"context"

	"github.com/lysyi3m/vod-comb/app/database"
)

// OrchestratorInterface is the surface the HTTP layer drives.
type OrchestratorInterface interface {
	CreateTask(req TaskRequest) (*database.CollectionTask, error)
	GetTask(id string) (*database.CollectionTask, error)
	ListTasks(status string, limit int) ([]database.CollectionTask, error)
	GetProgress(id string) (*TaskProgress, error)
	GetLogs(id string, limit int) ([]database.TaskLogEntry, error)

	PauseTask(id string) error
	ResumeTask(id string) error
	CancelTask(id string) error
	DeleteTask(id string) error

	CheckHealth(ctx context.Context, sourceID string) (database.HealthRecord, error)
	CheckAllHealth(ctx context.Context) []database.HealthRecord
	ListHealth() ([]database.HealthRecord, error)
}
