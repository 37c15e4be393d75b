package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lysyi3m/vod-comb/app/database"
	"github.com/lysyi3m/vod-comb/app/source"
	"github.com/lysyi3m/vod-comb/app/tasks"
)

func NewHandler(orchestrator tasks.OrchestratorInterface, sourceRepo database.SourceRepository,
	catalogRepo database.CatalogRepository, taskRepo database.TaskRepository,
	registry *source.Registry) *Handler {
	return &Handler{
		orchestrator: orchestrator,
		sourceRepo:   sourceRepo,
		catalogRepo:  catalogRepo,
		taskRepo:     taskRepo,
		registry:     registry,
	}
}

func taskJSON(task database.CollectionTask) gin.H {
	out := gin.H{
		"id":       task.ID,
		"type":     task.Type,
		"status":   task.Status,
		"priority": task.Priority,
		"counters": gin.H{
			"processed": task.Counters.Processed,
			"new":       task.Counters.New,
			"updated":   task.Counters.Updated,
			"skipped":   task.Counters.Skipped,
			"errors":    task.Counters.Errors,
		},
		"created_at": task.CreatedAt.Format(time.RFC3339),
		"updated_at": task.UpdatedAt.Format(time.RFC3339),
	}

	if task.ScopeSourceID != "" {
		out["source_id"] = task.ScopeSourceID
	}
	if task.ScopeCategoryID != "" {
		out["category_id"] = task.ScopeCategoryID
	}
	if task.Hours > 0 {
		out["hours"] = task.Hours
	}
	if task.CursorSourceID != "" {
		out["cursor"] = gin.H{
			"source_id":   task.CursorSourceID,
			"page":        task.CursorPage,
			"total_pages": task.CursorTotalPages,
		}
	}
	if task.StopRequested != database.StopNone {
		out["stop_requested"] = task.StopRequested
	}
	if task.LastError != "" {
		out["last_error"] = task.LastError
	}
	if task.StartedAt != nil {
		out["started_at"] = task.StartedAt.Format(time.RFC3339)
	}
	if task.FinishedAt != nil {
		out["finished_at"] = task.FinishedAt.Format(time.RFC3339)
	}

	return out
}

func healthJSON(rec database.HealthRecord) gin.H {
	out := gin.H{
		"source_id":       rec.SourceID,
		"status":          rec.Status,
		"last_latency_ms": rec.LastLatencyMs,
		"success_rate":    rec.SuccessRate,
		"checked_count":   rec.CheckedCount,
	}
	if rec.LastCheckedAt != nil {
		out["last_checked_at"] = rec.LastCheckedAt.Format(time.RFC3339)
	}
	return out
}

type createTaskRequest struct {
	Type       string `json:"type" binding:"required"`
	SourceID   string `json:"source_id"`
	CategoryID string `json:"category_id"`
	Hours      int    `json:"hours"`
	Priority   int    `json:"priority"`
}

func (h *Handler) CreateTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	task, err := h.orchestrator.CreateTask(tasks.TaskRequest{
		Type:            req.Type,
		ScopeSourceID:   req.SourceID,
		ScopeCategoryID: req.CategoryID,
		Hours:           req.Hours,
		Priority:        req.Priority,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, taskJSON(*task))
}

func (h *Handler) ListTasks(c *gin.Context) {
	status := c.Query("status")
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	list, err := h.orchestrator.ListTasks(status, limit)
	if err != nil {
		slog.Error("Database error", "operation", "list_tasks", "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	out := make([]gin.H, 0, len(list))
	for _, task := range list {
		out = append(out, taskJSON(task))
	}
	c.JSON(http.StatusOK, gin.H{"tasks": out})
}

func (h *Handler) GetTask(c *gin.Context) {
	progress, err := h.orchestrator.GetProgress(c.Param("id"))
	if err != nil {
		slog.Error("Database error", "operation", "get_task", "task_id", c.Param("id"), "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}
	if progress == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}

	out := taskJSON(progress.Task)
	checkpoints := make([]gin.H, 0, len(progress.Checkpoints))
	for _, cp := range progress.Checkpoints {
		checkpoints = append(checkpoints, gin.H{
			"source_id":   cp.SourceID,
			"page":        cp.Page,
			"total_pages": cp.TotalPages,
			"done":        cp.Done,
		})
	}
	out["checkpoints"] = checkpoints

	c.JSON(http.StatusOK, out)
}

func (h *Handler) GetTaskLogs(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	logs, err := h.orchestrator.GetLogs(c.Param("id"), limit)
	if err != nil {
		slog.Error("Database error", "operation", "get_task_logs", "task_id", c.Param("id"), "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	out := make([]gin.H, 0, len(logs))
	for _, entry := range logs {
		out = append(out, gin.H{
			"level":      entry.Level,
			"action":     entry.Action,
			"message":    entry.Message,
			"created_at": entry.CreatedAt.Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"logs": out})
}

func (h *Handler) PauseTask(c *gin.Context) {
	h.transition(c, h.orchestrator.PauseTask, "pause requested")
}

func (h *Handler) ResumeTask(c *gin.Context) {
	h.transition(c, h.orchestrator.ResumeTask, "resumed")
}

func (h *Handler) CancelTask(c *gin.Context) {
	h.transition(c, h.orchestrator.CancelTask, "cancel requested")
}

func (h *Handler) transition(c *gin.Context, op func(string) error, message string) {
	id := c.Param("id")
	if err := op(id); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"task_id": id, "message": message})
}

func (h *Handler) DeleteTask(c *gin.Context) {
	id := c.Param("id")
	if err := h.orchestrator.DeleteTask(id); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"task_id": id, "message": "deleted"})
}

func (h *Handler) ListSources(c *gin.Context) {
	list, err := h.sourceRepo.ListSources()
	if err != nil {
		slog.Error("Database error", "operation", "list_sources", "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	out := make([]gin.H, 0, len(list))
	for _, src := range list {
		out = append(out, gin.H{
			"id":       src.ID,
			"name":     src.Name,
			"endpoint": src.Endpoint,
			"format":   src.Format,
			"weight":   src.Weight,
			"active":   src.Active,
		})
	}
	c.JSON(http.StatusOK, gin.H{"sources": out})
}

func (h *Handler) ListHealth(c *gin.Context) {
	records, err := h.orchestrator.ListHealth()
	if err != nil {
		slog.Error("Database error", "operation", "list_health", "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	out := make([]gin.H, 0, len(records))
	for _, rec := range records {
		out = append(out, healthJSON(rec))
	}
	c.JSON(http.StatusOK, gin.H{"health": out})
}

func (h *Handler) CheckSourceHealth(c *gin.Context) {
	rec, err := h.orchestrator.CheckHealth(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, healthJSON(rec))
}

func (h *Handler) CheckAllHealth(c *gin.Context) {
	records := h.orchestrator.CheckAllHealth(c.Request.Context())

	out := make([]gin.H, 0, len(records))
	for _, rec := range records {
		out = append(out, healthJSON(rec))
	}
	c.JSON(http.StatusOK, gin.H{"health": out})
}

func (h *Handler) GetStats(c *gin.Context) {
	stats := gin.H{
		"timestamp":      time.Now().In(time.Local).Format(time.RFC3339),
		"loaded_sources": h.registry.GetConfigCount(),
	}

	if count, err := h.sourceRepo.GetSourceCount(); err == nil {
		stats["sources"] = count
	}
	if count, err := h.catalogRepo.GetVideoCount(); err == nil {
		stats["videos"] = count
	}
	if count, err := h.catalogRepo.CountFetchedSince(time.Now().Add(-24 * time.Hour)); err == nil {
		stats["fetched_last_24h"] = count
	}
	if counts, err := h.taskRepo.CountTasksByStatus(); err == nil {
		stats["tasks"] = counts
	}

	c.JSON(http.StatusOK, stats)
}
