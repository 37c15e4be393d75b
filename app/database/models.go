package database

import (
	"time"
)

// Source is a configured upstream provider of catalog entries. Rows are
// written only by the startup registration step; collection tasks read
// a snapshot taken when the task starts.
type Source struct {
	ID        string // Derived from the configuration filename
	Name      string
	Endpoint  string
	Format    string // json, xml, rss, auto
	Weight    int    // 1..100, selection order
	Active    bool
	Alias     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Health statuses.
const (
	HealthHealthy = "healthy"
	HealthSlow    = "slow"
	HealthError   = "error"
	HealthTimeout = "timeout"
	HealthUnknown = "unknown"
)

type HealthRecord struct {
	SourceID      string
	Status        string
	LastLatencyMs int64
	SuccessRate   float64 // rolling, 0..1
	CheckedCount  int64
	LastCheckedAt *time.Time
}

type Category struct {
	ID   string
	Name string
}

// CategoryMapping maps one source taxonomy code to a canonical category.
// Unique on (SourceID, SourceTypeID).
type CategoryMapping struct {
	SourceID      string
	SourceTypeID  string
	CategoryID    string
	Subcategories []SubcategoryRule
}

// SubcategoryRule assigns a subcategory when one of its keywords appears
// in an entry's title or description. Declaration order breaks ties.
type SubcategoryRule struct {
	Name     string   `json:"name"`
	Keywords []string `json:"keywords"`
}

// Task types and statuses.
const (
	TaskTypeFull        = "full"
	TaskTypeIncremental = "incremental"
	TaskTypeCategory    = "category"
	TaskTypeSource      = "source"
	TaskTypeShorts      = "shorts"

	TaskStatusPending   = "pending"
	TaskStatusRunning   = "running"
	TaskStatusPaused    = "paused"
	TaskStatusCompleted = "completed"
	TaskStatusFailed    = "failed"
	TaskStatusCancelled = "cancelled"

	StopNone   = ""
	StopPause  = "pause"
	StopCancel = "cancel"
)

type TaskCounters struct {
	Processed int64
	New       int64
	Updated   int64
	Skipped   int64
	Errors    int64
}

type CollectionTask struct {
	ID       string
	Type     string
	Status   string
	Priority int
	Counters TaskCounters

	// Cursor mirrors the most recent checkpoint for operator display;
	// per-source resume state lives in task_checkpoints.
	CursorSourceID   string
	CursorPage       int
	CursorTotalPages int

	ScopeSourceID   string
	ScopeCategoryID string
	Hours           int

	StopRequested string
	LastError     string

	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
	UpdatedAt  time.Time
}

func (t *CollectionTask) Terminal() bool {
	switch t.Status {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// Checkpoint is the persisted (source, page) cursor enabling page-granular
// pause/resume. Done marks a source fully drained for this task.
type Checkpoint struct {
	TaskID     string
	SourceID   string
	Page       int
	TotalPages int
	Done       bool
}

type TaskLogEntry struct {
	ID        int64
	TaskID    string
	Level     string
	Action    string
	Message   string
	CreatedAt time.Time
}

// Video is the canonical catalog record. Created on first sighting of an
// identity key, updated on every successful merge, never deleted by a merge.
type Video struct {
	ID          string
	IdentityKey string
	Title       string
	Year        string
	CategoryID  string
	Subcategory string
	Description string
	Area        string
	Director    string
	Actors      string
	CoverURL    string
	Score       float64
	Hits        int64
	Valid       bool

	Provenance  map[string]string    // field name -> source that last set it
	PlaySources map[string]string    // source id -> play reference
	LastFetched map[string]time.Time // source id -> last merge time

	CreatedAt time.Time
	UpdatedAt time.Time
}
