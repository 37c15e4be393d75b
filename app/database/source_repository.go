package database

import (
	"database/sql"
	"fmt"
	"time"
)

type sourceRepository struct {
	db *DB
}

func NewSourceRepository(db *DB) SourceRepository {
	return &sourceRepository{db: db}
}

// UpsertSource registers a source from the configuration registry. The
// engine never edits sources afterwards, except for the opportunistic
// detected-format update.
func (r *sourceRepository) UpsertSource(src Source) error {
	now := time.Now().UTC()
	_, err := r.db.Exec(`
		INSERT INTO sources (id, name, endpoint, format, weight, active, alias, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			endpoint = excluded.endpoint,
			format = excluded.format,
			weight = excluded.weight,
			active = excluded.active,
			alias = excluded.alias,
			updated_at = excluded.updated_at
	`, src.ID, src.Name, src.Endpoint, src.Format, src.Weight, src.Active, src.Alias, now, now)

	if err != nil {
		return fmt.Errorf("failed to upsert source: %w", err)
	}

	return nil
}

func (r *sourceRepository) GetSource(id string) (*Source, error) {
	var src Source
	err := r.db.QueryRow(`
		SELECT id, name, endpoint, format, weight, active, alias, created_at, updated_at
		FROM sources
		WHERE id = ?
	`, id).Scan(
		&src.ID, &src.Name, &src.Endpoint, &src.Format, &src.Weight,
		&src.Active, &src.Alias, &src.CreatedAt, &src.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source: %w", err)
	}

	return &src, nil
}

func (r *sourceRepository) ListSources() ([]Source, error) {
	return r.list(`
		SELECT id, name, endpoint, format, weight, active, alias, created_at, updated_at
		FROM sources
		ORDER BY weight DESC, id ASC
	`)
}

func (r *sourceRepository) ListActiveSources() ([]Source, error) {
	return r.list(`
		SELECT id, name, endpoint, format, weight, active, alias, created_at, updated_at
		FROM sources
		WHERE active = 1
		ORDER BY weight DESC, id ASC
	`)
}

func (r *sourceRepository) list(query string) ([]Source, error) {
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		var src Source
		err := rows.Scan(
			&src.ID, &src.Name, &src.Endpoint, &src.Format, &src.Weight,
			&src.Active, &src.Alias, &src.CreatedAt, &src.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source row: %w", err)
		}
		sources = append(sources, src)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating source rows: %w", err)
	}

	return sources, nil
}

func (r *sourceRepository) UpdateDetectedFormat(id string, format string) error {
	_, err := r.db.Exec(`
		UPDATE sources
		SET format = ?, updated_at = ?
		WHERE id = ? AND format = 'auto'
	`, format, time.Now().UTC(), id)

	if err != nil {
		return fmt.Errorf("failed to update detected format: %w", err)
	}

	return nil
}

func (r *sourceRepository) GetSourceCount() (int, error) {
	var count int
	err := r.db.QueryRow("SELECT COUNT(*) FROM sources").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get source count: %w", err)
	}
	return count, nil
}
