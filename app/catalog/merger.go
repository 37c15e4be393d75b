package catalog

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lysyi3m/vod-comb/app/database"
	"github.com/lysyi3m/vod-comb/app/source"
)

// Merge outcomes.
const (
	ResultNew     = "new"
	ResultUpdated = "updated"
	ResultSkipped = "skipped"
)

// Merger folds fetched entries into the canonical catalog. Field conflicts
// resolve deterministically, so merging the same entries in any order
// produces the same record.
type Merger struct {
	repo  database.CatalogRepository
	locks [64]sync.Mutex
}

func NewMerger(repo database.CatalogRepository) *Merger {
	return &Merger{repo: repo}
}

// keyLock returns the mutex guarding one identity key, so concurrent
// fetch workers never interleave a read-merge-write on the same record.
// Keys hash onto a fixed set of stripes, which keeps memory constant no
// matter how many distinct keys a run merges; two keys sharing a stripe
// just serialize, which is always safe.
func (m *Merger) keyLock(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &m.locks[h.Sum32()%uint32(len(m.locks))]
}

// Merge folds one fetched entry into the catalog and reports whether it
// created, updated, or left the canonical record unchanged.
func (m *Merger) Merge(entry source.Entry, categoryID, subcategory string) (string, error) {
	key := IdentityKey(entry.Title, entry.Year, categoryID)

	lock := m.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	existing, err := m.repo.GetByIdentityKey(key)
	if err != nil {
		return "", fmt.Errorf("failed to look up identity key: %w", err)
	}

	now := time.Now().UTC()

	if existing == nil {
		video := &database.Video{
			ID:          uuid.NewString(),
			IdentityKey: key,
			Title:       entry.Title,
			Year:        entry.Year,
			CategoryID:  categoryID,
			Subcategory: subcategory,
			Description: entry.Description,
			Area:        entry.Area,
			Director:    entry.Director,
			Actors:      entry.Actors,
			CoverURL:    entry.CoverURL,
			Score:       entry.Score,
			Hits:        entry.Hits,
			Valid:       true,
			Provenance:  map[string]string{},
			PlaySources: map[string]string{},
			LastFetched: map[string]time.Time{entry.SourceID: now},
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		for _, field := range []string{"title", "year", "description", "area", "director", "actors", "cover_url", "score", "hits"} {
			video.Provenance[field] = entry.SourceID
		}
		if entry.PlayURL != "" {
			video.PlaySources[entry.SourceID] = entry.PlayURL
		}

		if err := m.repo.UpsertVideo(video); err != nil {
			return "", fmt.Errorf("failed to insert video: %w", err)
		}
		return ResultNew, nil
	}

	changed := mergeFields(existing, entry, subcategory)
	existing.LastFetched[entry.SourceID] = now

	if changed {
		existing.UpdatedAt = now
	}
	if err := m.repo.UpsertVideo(existing); err != nil {
		return "", fmt.Errorf("failed to update video: %w", err)
	}

	if changed {
		return ResultUpdated, nil
	}
	return ResultSkipped, nil
}

// mergeFields applies the conflict rules in place and reports whether any
// field actually changed. Identity fields (title, year, category) never
// change: they define the key.
func mergeFields(video *database.Video, entry source.Entry, subcategory string) bool {
	changed := false

	mergeString := func(field string, current *string, incoming string) {
		if !preferIncoming(*current, incoming) {
			return
		}
		*current = incoming
		video.Provenance[field] = entry.SourceID
		changed = true
	}

	mergeString("description", &video.Description, entry.Description)
	mergeString("area", &video.Area, entry.Area)
	mergeString("director", &video.Director, entry.Director)
	mergeString("actors", &video.Actors, entry.Actors)
	mergeString("cover_url", &video.CoverURL, entry.CoverURL)

	if subcategory != "" && preferIncoming(video.Subcategory, subcategory) {
		video.Subcategory = subcategory
		video.Provenance["subcategory"] = entry.SourceID
		changed = true
	}

	if entry.Score > video.Score {
		video.Score = entry.Score
		video.Provenance["score"] = entry.SourceID
		changed = true
	}
	if entry.Hits > video.Hits {
		video.Hits = entry.Hits
		video.Provenance["hits"] = entry.SourceID
		changed = true
	}

	if entry.PlayURL != "" && video.PlaySources[entry.SourceID] != entry.PlayURL {
		video.PlaySources[entry.SourceID] = entry.PlayURL
		changed = true
	}

	return changed
}

// preferIncoming picks the richer of two string values: longer wins, and
// a lexicographic comparison breaks equal lengths. The rule is symmetric,
// so merge order never affects the final value.
func preferIncoming(current, incoming string) bool {
	if incoming == "" {
		return false
	}
	if len(incoming) != len(current) {
		return len(incoming) > len(current)
	}
	return incoming > current
}
