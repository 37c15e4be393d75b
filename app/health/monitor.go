package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lysyi3m/vod-comb/app/database"
	"github.com/lysyi3m/vod-comb/app/source"
)

// ewmaAlpha weighs new observations into the rolling success rate.
const ewmaAlpha = 0.2

// Prober abstracts the source client for health probes.
type Prober interface {
	FetchPage(ctx context.Context, src database.Source, q source.Query) (*source.Page, *source.FetchError)
}

type Monitor struct {
	prober        Prober
	repo          database.HealthRepository
	slowThreshold time.Duration
	hardLimit     time.Duration
	concurrency   int
	mu            sync.Mutex // serializes read-modify-write of health records
}

func NewMonitor(prober Prober, repo database.HealthRepository, slowThreshold, hardLimit time.Duration, concurrency int) *Monitor {
	if concurrency <= 0 || concurrency > 5 {
		concurrency = 5
	}
	return &Monitor{
		prober:        prober,
		repo:          repo,
		slowThreshold: slowThreshold,
		hardLimit:     hardLimit,
		concurrency:   concurrency,
	}
}

// Classify is a pure function of probe latency and fetch outcome.
func Classify(latency time.Duration, ferr *source.FetchError, slowThreshold, hardLimit time.Duration) string {
	if latency >= hardLimit {
		return database.HealthTimeout
	}
	if ferr != nil {
		if ferr.Kind == source.ErrKindTimeout {
			return database.HealthTimeout
		}
		return database.HealthError
	}
	if latency > slowThreshold {
		return database.HealthSlow
	}
	return database.HealthHealthy
}

// Check performs one lightweight probe against a source and records the
// classified outcome.
func (m *Monitor) Check(ctx context.Context, src database.Source) (database.HealthRecord, error) {
	probeCtx, cancel := context.WithTimeout(ctx, m.hardLimit)
	defer cancel()

	started := time.Now()
	_, ferr := m.prober.FetchPage(probeCtx, src, source.Query{Page: 1})
	latency := time.Since(started)

	status := Classify(latency, ferr, m.slowThreshold, m.hardLimit)
	rec, err := m.record(src.ID, status, ferr == nil, latency)
	if err != nil {
		return rec, err
	}

	slog.Debug("Health check completed",
		"source", src.ID,
		"status", status,
		"latency_ms", latency.Milliseconds(),
		"success_rate", rec.SuccessRate)

	return rec, nil
}

// CheckAll probes every given source with bounded concurrency.
func (m *Monitor) CheckAll(ctx context.Context, sources []database.Source) []database.HealthRecord {
	sem := make(chan struct{}, m.concurrency)
	results := make([]database.HealthRecord, len(sources))

	var wg sync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		go func(i int, src database.Source) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			rec, err := m.Check(ctx, src)
			if err != nil {
				slog.Error("Failed to record health check", "source", src.ID, "error", err)
			}
			results[i] = rec
		}(i, src)
	}
	wg.Wait()

	return results
}

// Observe feeds a production fetch outcome into the same rolling success
// rate the probes maintain, so health reflects live traffic.
func (m *Monitor) Observe(sourceID string, ferr *source.FetchError, latency time.Duration) {
	status := Classify(latency, ferr, m.slowThreshold, m.hardLimit)
	if _, err := m.record(sourceID, status, ferr == nil, latency); err != nil {
		slog.Error("Failed to record fetch observation", "source", sourceID, "error", err)
	}
}

func (m *Monitor) record(sourceID, status string, ok bool, latency time.Duration) (database.HealthRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.repo.GetHealth(sourceID)
	if err != nil {
		return database.HealthRecord{}, err
	}
	if rec == nil {
		rec = &database.HealthRecord{
			SourceID:    sourceID,
			Status:      database.HealthUnknown,
			SuccessRate: 1.0,
		}
	}

	sample := 0.0
	if ok {
		sample = 1.0
	}

	rec.Status = status
	rec.LastLatencyMs = latency.Milliseconds()
	rec.SuccessRate = rec.SuccessRate*(1-ewmaAlpha) + sample*ewmaAlpha
	rec.CheckedCount++
	now := time.Now().UTC()
	rec.LastCheckedAt = &now

	if err := m.repo.UpsertHealth(*rec); err != nil {
		return *rec, err
	}

	return *rec, nil
}
