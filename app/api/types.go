package api

import (
	"github.com/lysyi3m/vod-comb/app/database"
	"github.com/lysyi3m/vod-comb/app/source"
	"github.com/lysyi3m/vod-comb/app/tasks"
)

var _ tasks.OrchestratorInterface = (*tasks.Orchestrator)(nil)

type Handler struct {
	orchestrator tasks.OrchestratorInterface
	sourceRepo   database.SourceRepository
	catalogRepo  database.CatalogRepository
	taskRepo     database.TaskRepository
	registry     *source.Registry
}
