package collector

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/lysyi3m/vod-comb/app/catalog"
	"github.com/lysyi3m/vod-comb/app/category"
	"github.com/lysyi3m/vod-comb/app/database"
	"github.com/lysyi3m/vod-comb/app/source"
)

// Fetcher abstracts the source client.
type Fetcher interface {
	FetchPage(ctx context.Context, src database.Source, q source.Query) (*source.Page, *source.FetchError)
}

// Merger folds one classified entry into the catalog.
type Merger interface {
	Merge(entry source.Entry, categoryID, subcategory string) (string, error)
}

// HealthFeedback receives the outcome of every production fetch.
type HealthFeedback interface {
	Observe(sourceID string, ferr *source.FetchError, latency time.Duration)
}

// SourceUpdater persists the detected payload format of auto sources.
type SourceUpdater interface {
	UpdateDetectedFormat(id string, format string) error
}

// Control is the coordinator's channel back to the task orchestrator:
// cooperative stop polling, durable progress, and the task log.
type Control interface {
	ShouldStop() string
	Checkpoint(cp database.Checkpoint, counters database.TaskCounters) error
	Log(level, action, message string)
}

// Plan is the immutable input of one collection run, snapshotted by the
// orchestrator when the task starts.
type Plan struct {
	Task        database.CollectionTask
	Sources     []database.Source
	Health      map[string]string // source id -> last known status
	Mapper      *category.Mapper
	Checkpoints map[string]database.Checkpoint
}

// Report is the outcome of one collection run.
type Report struct {
	Counters     database.TaskCounters
	SourceErrors map[string]string
	Stopped      string // empty, pause, or cancel
	ProducedData bool
}

// Coordinator fans a collection task out across sources. Sources run
// concurrently under a bounded semaphore; pages within a source run
// sequentially so the per-source cursor stays meaningful.
type Coordinator struct {
	fetcher       Fetcher
	merger        Merger
	health        HealthFeedback
	sourceUpdater SourceUpdater
	concurrency   int
	perSourceRate rate.Limit
}

func NewCoordinator(fetcher Fetcher, merger Merger, health HealthFeedback, sourceUpdater SourceUpdater, concurrency int, requestsPerSecond float64) *Coordinator {
	if concurrency <= 0 || concurrency > 5 {
		concurrency = 5
	}
	if requestsPerSecond <= 0 {
		requestsPerSecond = 2
	}
	return &Coordinator{
		fetcher:       fetcher,
		merger:        merger,
		health:        health,
		sourceUpdater: sourceUpdater,
		concurrency:   concurrency,
		perSourceRate: rate.Limit(requestsPerSecond),
	}
}

// runState aggregates counters across source workers. Progress is
// persisted through Control after every completed page.
type runState struct {
	mu       sync.Mutex
	counters database.TaskCounters
	errors   map[string]string
	stopped  string
	produced bool
}

func (s *runState) addPage(delta database.TaskCounters) database.TaskCounters {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters.Processed += delta.Processed
	s.counters.New += delta.New
	s.counters.Updated += delta.Updated
	s.counters.Skipped += delta.Skipped
	s.counters.Errors += delta.Errors
	// A successfully merged entry counts as yielded data even when the
	// merge changed nothing: skipped is the idempotent re-run outcome,
	// not a failure.
	if delta.Processed > delta.Errors {
		s.produced = true
	}
	return s.counters
}

func (s *runState) addSourceError(sourceID string, ferr *source.FetchError) database.TaskCounters {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors[sourceID] = ferr.Error()
	s.counters.Processed++
	s.counters.Errors++
	return s.counters
}

func (s *runState) markStopped(mode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped == "" || mode == database.StopCancel {
		s.stopped = mode
	}
}

// Run executes one collection task to completion, stop request, or
// exhaustion of sources. A failing source is isolated: it is recorded and
// abandoned while the remaining sources keep going.
func (c *Coordinator) Run(ctx context.Context, plan Plan, ctrl Control) *Report {
	sources := c.selectSources(plan)
	state := &runState{errors: make(map[string]string)}

	sem := make(chan struct{}, c.concurrency)
	var wg sync.WaitGroup

	for _, src := range sources {
		wg.Add(1)
		go func(src database.Source) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			c.collectSource(ctx, plan, src, ctrl, state)
		}(src)
	}
	wg.Wait()

	return &Report{
		Counters:     state.counters,
		SourceErrors: state.errors,
		Stopped:      state.stopped,
		ProducedData: state.produced,
	}
}

// selectSources orders candidates by weight (descending, id breaks ties)
// and skips sources last seen in error or timeout state. When every
// candidate is unhealthy the filter is waived, otherwise the task would
// complete empty without touching anything.
func (c *Coordinator) selectSources(plan Plan) []database.Source {
	candidates := make([]database.Source, 0, len(plan.Sources))
	for _, src := range plan.Sources {
		if !src.Active {
			continue
		}
		if plan.Task.ScopeSourceID != "" && src.ID != plan.Task.ScopeSourceID {
			continue
		}
		candidates = append(candidates, src)
	}

	healthy := make([]database.Source, 0, len(candidates))
	for _, src := range candidates {
		switch plan.Health[src.ID] {
		case database.HealthError, database.HealthTimeout:
		default:
			healthy = append(healthy, src)
		}
	}
	if len(healthy) > 0 {
		candidates = healthy
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Weight != candidates[j].Weight {
			return candidates[i].Weight > candidates[j].Weight
		}
		return candidates[i].ID < candidates[j].ID
	})

	return candidates
}

// segmentQueries returns the queries a source must be walked with. Most
// task types need a single unfiltered walk; category tasks walk each
// mapped taxonomy code.
func (c *Coordinator) segmentQueries(plan Plan, src database.Source) []source.Query {
	base := source.Query{
		Hours:  plan.Task.Hours,
		Shorts: plan.Task.Type == database.TaskTypeShorts,
	}

	if plan.Task.Type != database.TaskTypeCategory {
		return []source.Query{base}
	}

	typeIDs := plan.Mapper.TypeIDsFor(src.ID, plan.Task.ScopeCategoryID)
	sort.Strings(typeIDs)

	queries := make([]source.Query, 0, len(typeIDs))
	for _, typeID := range typeIDs {
		q := base
		q.TypeID = typeID
		queries = append(queries, q)
	}
	return queries
}

func (c *Coordinator) collectSource(ctx context.Context, plan Plan, src database.Source, ctrl Control, state *runState) {
	segments := c.segmentQueries(plan, src)
	if len(segments) == 0 {
		return
	}

	cp := plan.Checkpoints[src.ID]
	if cp.Done {
		return
	}

	// Page-granular resume only applies to single-segment walks; merges
	// are idempotent, so a resumed multi-segment source re-walks from the
	// start at worst.
	startPage := 1
	if len(segments) == 1 && cp.Page > 0 {
		startPage = cp.Page + 1
		if cp.TotalPages > 0 && startPage > cp.TotalPages {
			c.finishSource(plan, src, ctrl, state, cp.Page, cp.TotalPages)
			return
		}
	}

	limiter := rate.NewLimiter(c.perSourceRate, 1)

	for si, q := range segments {
		pageNum := 1
		if si == 0 {
			pageNum = startPage
		}
		totalPages := 0

		for {
			if mode := ctrl.ShouldStop(); mode != database.StopNone {
				state.markStopped(mode)
				return
			}

			// Context cancellation reads as a pause so an interrupted run
			// stays resumable.
			if err := limiter.Wait(ctx); err != nil {
				state.markStopped(database.StopPause)
				return
			}

			q.Page = pageNum
			started := time.Now()
			page, ferr := c.fetcher.FetchPage(ctx, src, q)
			c.health.Observe(src.ID, ferr, time.Since(started))

			if ferr != nil {
				counters := state.addSourceError(src.ID, ferr)
				ctrl.Log("error", "fetch", fmt.Sprintf("source %s abandoned: %s", src.ID, ferr.Error()))
				cp := database.Checkpoint{
					TaskID:     plan.Task.ID,
					SourceID:   src.ID,
					Page:       pageNum - 1,
					TotalPages: totalPages,
				}
				if err := ctrl.Checkpoint(cp, counters); err != nil {
					ctrl.Log("error", "checkpoint", fmt.Sprintf("source %s: %s", src.ID, err.Error()))
				}
				return
			}

			if src.Format == source.FormatAuto && page.DetectedFormat != "" {
				if err := c.sourceUpdater.UpdateDetectedFormat(src.ID, page.DetectedFormat); err != nil {
					ctrl.Log("warn", "detect_format", fmt.Sprintf("source %s: %s", src.ID, err.Error()))
				}
			}

			delta := c.mergePage(plan, src, page, ctrl)
			totalPages = page.TotalPages
			lastSegment := si == len(segments)-1
			done := lastSegment && (totalPages == 0 || pageNum >= totalPages)

			counters := state.addPage(delta)
			cp := database.Checkpoint{
				TaskID:     plan.Task.ID,
				SourceID:   src.ID,
				Page:       pageNum,
				TotalPages: totalPages,
				Done:       done,
			}
			if err := ctrl.Checkpoint(cp, counters); err != nil {
				ctrl.Log("error", "checkpoint", fmt.Sprintf("source %s: %s", src.ID, err.Error()))
			}

			if totalPages == 0 || pageNum >= totalPages {
				break
			}
			pageNum++
		}
	}
}

// finishSource marks a source whose checkpoint already covers every page.
func (c *Coordinator) finishSource(plan Plan, src database.Source, ctrl Control, state *runState, page, totalPages int) {
	state.mu.Lock()
	counters := state.counters
	state.mu.Unlock()

	cp := database.Checkpoint{
		TaskID:     plan.Task.ID,
		SourceID:   src.ID,
		Page:       page,
		TotalPages: totalPages,
		Done:       true,
	}
	if err := ctrl.Checkpoint(cp, counters); err != nil {
		ctrl.Log("error", "checkpoint", fmt.Sprintf("source %s: %s", src.ID, err.Error()))
	}
}

func (c *Coordinator) mergePage(plan Plan, src database.Source, page *source.Page, ctrl Control) database.TaskCounters {
	var delta database.TaskCounters

	for _, entry := range page.Entries {
		delta.Processed++

		categoryID, mapping := plan.Mapper.Resolve(src.ID, entry.TypeID)
		subcategory := plan.Mapper.Subcategory(mapping, entry.Title, entry.Description)

		if entry.Title == "" {
			delta.Errors++
			continue
		}

		result, err := c.merger.Merge(entry, categoryID, subcategory)
		if err != nil {
			delta.Errors++
			ctrl.Log("error", "merge", fmt.Sprintf("source %s entry %q: %s", src.ID, entry.Title, err.Error()))
			continue
		}

		switch result {
		case catalog.ResultNew:
			delta.New++
		case catalog.ResultUpdated:
			delta.Updated++
		default:
			delta.Skipped++
		}
	}

	return delta
}
