package catalog

import (
	"sync"
	"testing"
	"time"

	"github.com/lysyi3m/vod-comb/app/database"
	"github.com/lysyi3m/vod-comb/app/source"
)

type mockCatalogRepository struct {
	mu     sync.Mutex
	videos map[string]database.Video
}

func newMockCatalogRepository() *mockCatalogRepository {
	return &mockCatalogRepository{videos: make(map[string]database.Video)}
}

func (m *mockCatalogRepository) GetByIdentityKey(key string) (*database.Video, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	video, ok := m.videos[key]
	if !ok {
		return nil, nil
	}
	copied := video
	copied.Provenance = copyStringMap(video.Provenance)
	copied.PlaySources = copyStringMap(video.PlaySources)
	copied.LastFetched = copyTimeMap(video.LastFetched)
	return &copied, nil
}

func (m *mockCatalogRepository) UpsertVideo(video *database.Video) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.videos[video.IdentityKey] = *video
	return nil
}

func (m *mockCatalogRepository) GetVideoCount() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.videos), nil
}

func (m *mockCatalogRepository) CountFetchedSince(since time.Time) (int, error) {
	return 0, nil
}

func copyStringMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyTimeMap(in map[string]time.Time) map[string]time.Time {
	out := make(map[string]time.Time, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func entryAlpha() source.Entry {
	return source.Entry{
		SourceID:    "alpha",
		TypeID:      "6",
		Title:       "The Matrix",
		Year:        "1999",
		Description: "Short description",
		Area:        "US",
		Director:    "Wachowski",
		Score:       8.5,
		Hits:        100,
		PlayURL:     "hd$https://alpha.example.com/matrix.m3u8",
	}
}

func entryBeta() source.Entry {
	return source.Entry{
		SourceID:    "beta",
		TypeID:      "9",
		Title:       "THE MATRIX",
		Year:        "1999",
		Description: "A much longer and richer description of the film",
		Area:        "US",
		Director:    "Wachowski",
		Actors:      "Keanu Reeves",
		Score:       8.2,
		Hits:        500,
		PlayURL:     "hd$https://beta.example.com/matrix.m3u8",
	}
}

func TestMergeCreatesNewRecord(t *testing.T) {
	repo := newMockCatalogRepository()
	merger := NewMerger(repo)

	result, err := merger.Merge(entryAlpha(), "movie", "action")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if result != ResultNew {
		t.Errorf("Expected result new, got %s", result)
	}

	video, _ := repo.GetByIdentityKey(IdentityKey("The Matrix", "1999", "movie"))
	if video == nil {
		t.Fatal("Expected stored video")
	}
	if video.CategoryID != "movie" || video.Subcategory != "action" {
		t.Errorf("Unexpected classification: %s/%s", video.CategoryID, video.Subcategory)
	}
	if video.PlaySources["alpha"] == "" {
		t.Error("Expected play source from alpha")
	}
	if video.Provenance["description"] != "alpha" {
		t.Errorf("Expected description provenance alpha, got %s", video.Provenance["description"])
	}
}

func TestMergeUnionsAcrossSources(t *testing.T) {
	repo := newMockCatalogRepository()
	merger := NewMerger(repo)

	if _, err := merger.Merge(entryAlpha(), "movie", ""); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	result, err := merger.Merge(entryBeta(), "movie", "")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if result != ResultUpdated {
		t.Errorf("Expected result updated, got %s", result)
	}

	video, _ := repo.GetByIdentityKey(IdentityKey("The Matrix", "1999", "movie"))
	if video == nil {
		t.Fatal("Expected stored video")
	}

	// Richer description wins, higher numerics win, play sources union.
	if video.Provenance["description"] != "beta" {
		t.Errorf("Expected description from beta, got %s", video.Provenance["description"])
	}
	if video.Score != 8.5 {
		t.Errorf("Expected max score 8.5, got %f", video.Score)
	}
	if video.Hits != 500 {
		t.Errorf("Expected max hits 500, got %d", video.Hits)
	}
	if len(video.PlaySources) != 2 {
		t.Errorf("Expected 2 play sources, got %d", len(video.PlaySources))
	}
	if _, ok := video.LastFetched["alpha"]; !ok {
		t.Error("Expected last fetched timestamp for alpha")
	}
	if _, ok := video.LastFetched["beta"]; !ok {
		t.Error("Expected last fetched timestamp for beta")
	}
}

func TestMergeCommutative(t *testing.T) {
	repoAB := newMockCatalogRepository()
	mergerAB := NewMerger(repoAB)
	mergerAB.Merge(entryAlpha(), "movie", "")
	mergerAB.Merge(entryBeta(), "movie", "")

	repoBA := newMockCatalogRepository()
	mergerBA := NewMerger(repoBA)
	mergerBA.Merge(entryBeta(), "movie", "")
	mergerBA.Merge(entryAlpha(), "movie", "")

	key := IdentityKey("The Matrix", "1999", "movie")
	ab, _ := repoAB.GetByIdentityKey(key)
	ba, _ := repoBA.GetByIdentityKey(key)
	if ab == nil || ba == nil {
		t.Fatal("Expected both merge orders to produce a record")
	}

	if ab.Description != ba.Description {
		t.Errorf("Description differs by merge order: %q vs %q", ab.Description, ba.Description)
	}
	if ab.Score != ba.Score || ab.Hits != ba.Hits {
		t.Errorf("Numerics differ by merge order: %f/%d vs %f/%d", ab.Score, ab.Hits, ba.Score, ba.Hits)
	}
	if len(ab.PlaySources) != len(ba.PlaySources) {
		t.Errorf("Play sources differ by merge order: %v vs %v", ab.PlaySources, ba.PlaySources)
	}
}

func TestMergeIdempotentSkips(t *testing.T) {
	repo := newMockCatalogRepository()
	merger := NewMerger(repo)

	merger.Merge(entryAlpha(), "movie", "")
	result, err := merger.Merge(entryAlpha(), "movie", "")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if result != ResultSkipped {
		t.Errorf("Expected result skipped, got %s", result)
	}

	count, _ := repo.GetVideoCount()
	if count != 1 {
		t.Errorf("Expected 1 record, got %d", count)
	}
}

func TestMergeConcurrentSameKey(t *testing.T) {
	repo := newMockCatalogRepository()
	merger := NewMerger(repo)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		entry := entryAlpha()
		if i%2 == 1 {
			entry = entryBeta()
		}
		wg.Add(1)
		go func(entry source.Entry) {
			defer wg.Done()
			if _, err := merger.Merge(entry, "movie", ""); err != nil {
				t.Errorf("Expected no error, got: %v", err)
			}
		}(entry)
	}
	wg.Wait()

	count, _ := repo.GetVideoCount()
	if count != 1 {
		t.Fatalf("Expected 1 record, got %d", count)
	}

	video, _ := repo.GetByIdentityKey(IdentityKey("The Matrix", "1999", "movie"))
	if len(video.PlaySources) != 2 {
		t.Errorf("Expected play sources from both sources, got %v", video.PlaySources)
	}
	if video.Score != 8.5 || video.Hits != 500 {
		t.Errorf("Expected max score 8.5 and hits 500, got %f/%d", video.Score, video.Hits)
	}
}

func TestMergeStringTieBreak(t *testing.T) {
	repo := newMockCatalogRepository()
	merger := NewMerger(repo)

	a := entryAlpha()
	a.Description = "aaaa"
	b := entryBeta()
	b.SourceID = "beta"
	b.Description = "bbbb"

	merger.Merge(a, "movie", "")
	merger.Merge(b, "movie", "")

	video, _ := repo.GetByIdentityKey(IdentityKey("The Matrix", "1999", "movie"))
	if video.Description != "bbbb" {
		t.Errorf("Equal-length tie should pick lexicographically larger, got %q", video.Description)
	}
}
