package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type catalogRepository struct {
	db *DB
}

func NewCatalogRepository(db *DB) CatalogRepository {
	return &catalogRepository{db: db}
}

func (r *catalogRepository) GetByIdentityKey(key string) (*Video, error) {
	var v Video
	var provenance, playSources, lastFetched string
	err := r.db.QueryRow(`
		SELECT id, identity_key, title, year, category_id, subcategory,
		       description, area, director, actors, cover_url, score, hits, valid,
		       provenance, play_sources, last_fetched, created_at, updated_at
		FROM videos
		WHERE identity_key = ?
	`, key).Scan(
		&v.ID, &v.IdentityKey, &v.Title, &v.Year, &v.CategoryID, &v.Subcategory,
		&v.Description, &v.Area, &v.Director, &v.Actors, &v.CoverURL, &v.Score, &v.Hits, &v.Valid,
		&provenance, &playSources, &lastFetched, &v.CreatedAt, &v.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get video: %w", err)
	}

	if err := json.Unmarshal([]byte(provenance), &v.Provenance); err != nil {
		return nil, fmt.Errorf("failed to unmarshal provenance: %w", err)
	}
	if err := json.Unmarshal([]byte(playSources), &v.PlaySources); err != nil {
		return nil, fmt.Errorf("failed to unmarshal play sources: %w", err)
	}
	if err := json.Unmarshal([]byte(lastFetched), &v.LastFetched); err != nil {
		return nil, fmt.Errorf("failed to unmarshal last fetched: %w", err)
	}

	return &v, nil
}

func (r *catalogRepository) UpsertVideo(v *Video) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if v.CreatedAt.IsZero() {
		v.CreatedAt = now
	}
	v.UpdatedAt = now

	provenance, err := json.Marshal(v.Provenance)
	if err != nil {
		return fmt.Errorf("failed to marshal provenance: %w", err)
	}
	playSources, err := json.Marshal(v.PlaySources)
	if err != nil {
		return fmt.Errorf("failed to marshal play sources: %w", err)
	}
	lastFetched, err := json.Marshal(v.LastFetched)
	if err != nil {
		return fmt.Errorf("failed to marshal last fetched: %w", err)
	}

	_, err = r.db.Exec(`
		INSERT INTO videos (
			id, identity_key, title, year, category_id, subcategory,
			description, area, director, actors, cover_url, score, hits, valid,
			provenance, play_sources, last_fetched, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (identity_key) DO UPDATE SET
			title = excluded.title,
			year = excluded.year,
			category_id = excluded.category_id,
			subcategory = excluded.subcategory,
			description = excluded.description,
			area = excluded.area,
			director = excluded.director,
			actors = excluded.actors,
			cover_url = excluded.cover_url,
			score = excluded.score,
			hits = excluded.hits,
			valid = excluded.valid,
			provenance = excluded.provenance,
			play_sources = excluded.play_sources,
			last_fetched = excluded.last_fetched,
			updated_at = excluded.updated_at
	`, v.ID, v.IdentityKey, v.Title, v.Year, v.CategoryID, v.Subcategory,
		v.Description, v.Area, v.Director, v.Actors, v.CoverURL, v.Score, v.Hits, v.Valid,
		string(provenance), string(playSources), string(lastFetched), v.CreatedAt, v.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to upsert video: %w", err)
	}

	return nil
}

func (r *catalogRepository) GetVideoCount() (int, error) {
	var count int
	err := r.db.QueryRow("SELECT COUNT(*) FROM videos").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get video count: %w", err)
	}
	return count, nil
}

func (r *catalogRepository) CountFetchedSince(since time.Time) (int, error) {
	var count int
	err := r.db.QueryRow("SELECT COUNT(*) FROM videos WHERE updated_at >= ?", since.UTC()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count recently fetched videos: %w", err)
	}
	return count, nil
}
