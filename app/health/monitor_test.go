package health

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/lysyi3m/vod-comb/app/database"
	"github.com/lysyi3m/vod-comb/app/source"
)

type mockHealthRepository struct {
	mu      sync.Mutex
	records map[string]database.HealthRecord
}

func newMockHealthRepository() *mockHealthRepository {
	return &mockHealthRepository{records: make(map[string]database.HealthRecord)}
}

func (m *mockHealthRepository) GetHealth(sourceID string) (*database.HealthRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[sourceID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *mockHealthRepository) ListHealth() ([]database.HealthRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]database.HealthRecord, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	return out, nil
}

func (m *mockHealthRepository) UpsertHealth(rec database.HealthRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.SourceID] = rec
	return nil
}

type mockProber struct {
	delay time.Duration
	ferr  *source.FetchError
}

func (m *mockProber) FetchPage(ctx context.Context, src database.Source, q source.Query) (*source.Page, *source.FetchError) {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
		}
	}
	if m.ferr != nil {
		return nil, m.ferr
	}
	return &source.Page{Page: 1, TotalPages: 1}, nil
}

func TestClassify(t *testing.T) {
	slow := 100 * time.Millisecond
	hard := 500 * time.Millisecond

	cases := []struct {
		name    string
		latency time.Duration
		ferr    *source.FetchError
		want    string
	}{
		{"fast success", 50 * time.Millisecond, nil, database.HealthHealthy},
		{"slow success", 200 * time.Millisecond, nil, database.HealthSlow},
		{"at slow threshold", 100 * time.Millisecond, nil, database.HealthHealthy},
		{"hard limit exceeded", 500 * time.Millisecond, nil, database.HealthTimeout},
		{"timeout error", 50 * time.Millisecond, &source.FetchError{Kind: source.ErrKindTimeout}, database.HealthTimeout},
		{"network error", 50 * time.Millisecond, &source.FetchError{Kind: source.ErrKindNetwork}, database.HealthError},
		{"parse error", 50 * time.Millisecond, &source.FetchError{Kind: source.ErrKindParse}, database.HealthError},
		{"http error", 50 * time.Millisecond, &source.FetchError{Kind: source.ErrKindHTTP}, database.HealthError},
	}

	for _, tc := range cases {
		if got := Classify(tc.latency, tc.ferr, slow, hard); got != tc.want {
			t.Errorf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}

func TestCheckRecordsHealthy(t *testing.T) {
	repo := newMockHealthRepository()
	monitor := NewMonitor(&mockProber{}, repo, 100*time.Millisecond, 500*time.Millisecond, 5)

	rec, err := monitor.Check(context.Background(), database.Source{ID: "s1"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if rec.Status != database.HealthHealthy {
		t.Errorf("Expected healthy status, got %s", rec.Status)
	}
	if rec.CheckedCount != 1 {
		t.Errorf("Expected checked count 1, got %d", rec.CheckedCount)
	}
	if rec.LastCheckedAt == nil {
		t.Error("Expected last checked timestamp to be set")
	}

	stored, err := repo.GetHealth("s1")
	if err != nil || stored == nil {
		t.Fatalf("Expected stored record, got: %v, %v", stored, err)
	}
	if stored.Status != database.HealthHealthy {
		t.Errorf("Expected stored status healthy, got %s", stored.Status)
	}
}

func TestCheckRecordsError(t *testing.T) {
	repo := newMockHealthRepository()
	prober := &mockProber{ferr: &source.FetchError{Kind: source.ErrKindHTTP, SourceID: "s1", Err: errors.New("status 500")}}
	monitor := NewMonitor(prober, repo, 100*time.Millisecond, 500*time.Millisecond, 5)

	rec, err := monitor.Check(context.Background(), database.Source{ID: "s1"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if rec.Status != database.HealthError {
		t.Errorf("Expected error status, got %s", rec.Status)
	}
}

func TestSuccessRateDecaysOnFailures(t *testing.T) {
	repo := newMockHealthRepository()
	monitor := NewMonitor(&mockProber{}, repo, 100*time.Millisecond, 500*time.Millisecond, 5)

	// Seed rate is 1.0; each failed observation blends a 0.0 sample.
	monitor.Observe("s1", &source.FetchError{Kind: source.ErrKindNetwork}, 10*time.Millisecond)
	monitor.Observe("s1", &source.FetchError{Kind: source.ErrKindNetwork}, 10*time.Millisecond)

	rec, err := repo.GetHealth("s1")
	if err != nil || rec == nil {
		t.Fatalf("Expected stored record, got: %v, %v", rec, err)
	}

	want := 1.0 * 0.8 * 0.8
	if math.Abs(rec.SuccessRate-want) > 1e-9 {
		t.Errorf("Expected success rate %.4f, got %.4f", want, rec.SuccessRate)
	}

	// A success pulls the rate back up.
	monitor.Observe("s1", nil, 10*time.Millisecond)
	rec, _ = repo.GetHealth("s1")
	want = want*0.8 + 0.2
	if math.Abs(rec.SuccessRate-want) > 1e-9 {
		t.Errorf("Expected success rate %.4f, got %.4f", want, rec.SuccessRate)
	}
}

func TestCheckAllProbesEverySource(t *testing.T) {
	repo := newMockHealthRepository()
	monitor := NewMonitor(&mockProber{}, repo, 100*time.Millisecond, 500*time.Millisecond, 2)

	sources := []database.Source{{ID: "s1"}, {ID: "s2"}, {ID: "s3"}}
	results := monitor.CheckAll(context.Background(), sources)

	if len(results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(results))
	}
	for i, rec := range results {
		if rec.SourceID != sources[i].ID {
			t.Errorf("Result %d: expected source %s, got %s", i, sources[i].ID, rec.SourceID)
		}
		if rec.Status != database.HealthHealthy {
			t.Errorf("Result %d: expected healthy, got %s", i, rec.Status)
		}
	}

	records, _ := repo.ListHealth()
	if len(records) != 3 {
		t.Errorf("Expected 3 stored records, got %d", len(records))
	}
}
