package tasks

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lysyi3m/vod-comb/app/database"
)

// TaskRequest carries the parameters of a new collection task.
type TaskRequest struct {
	Type            string
	ScopeSourceID   string
	ScopeCategoryID string
	Hours           int
	Priority        int
}

// TaskProgress combines a task with its per-source cursors.
type TaskProgress struct {
	Task        database.CollectionTask
	Checkpoints []database.Checkpoint
}

// TaskError aggregates per-source failures of one collection run.
type TaskError struct {
	SourceErrors map[string]string
}

func (e *TaskError) Error() string {
	ids := make([]string, 0, len(e.SourceErrors))
	for id := range e.SourceErrors {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%s: %s", id, e.SourceErrors[id]))
	}
	return strings.Join(parts, "; ")
}

func validateRequest(req TaskRequest) error {
	switch req.Type {
	case database.TaskTypeFull, database.TaskTypeIncremental, database.TaskTypeShorts:
	case database.TaskTypeSource:
		if req.ScopeSourceID == "" {
			return fmt.Errorf("source task requires a source id")
		}
	case database.TaskTypeCategory:
		if req.ScopeCategoryID == "" {
			return fmt.Errorf("category task requires a category id")
		}
	default:
		return fmt.Errorf("unknown task type: %s", req.Type)
	}

	if req.Hours < 0 {
		return fmt.Errorf("hours must not be negative")
	}

	return nil
}

func addCounters(a, b database.TaskCounters) database.TaskCounters {
	return database.TaskCounters{
		Processed: a.Processed + b.Processed,
		New:       a.New + b.New,
		Updated:   a.Updated + b.Updated,
		Skipped:   a.Skipped + b.Skipped,
		Errors:    a.Errors + b.Errors,
	}
}
