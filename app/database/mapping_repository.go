package database

import (
	"encoding/json"
	"fmt"
)

type mappingRepository struct {
	db *DB
}

func NewMappingRepository(db *DB) MappingRepository {
	return &mappingRepository{db: db}
}

func (r *mappingRepository) UpsertCategory(cat Category) error {
	_, err := r.db.Exec(`
		INSERT INTO categories (id, name)
		VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name
	`, cat.ID, cat.Name)

	if err != nil {
		return fmt.Errorf("failed to upsert category: %w", err)
	}

	return nil
}

// ReplaceMappings swaps the full mapping set for one source. Called only
// during startup registration from the configuration registry.
func (r *mappingRepository) ReplaceMappings(sourceID string, mappings []CategoryMapping) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM category_mappings WHERE source_id = ?`, sourceID); err != nil {
		return fmt.Errorf("failed to clear mappings: %w", err)
	}

	for _, m := range mappings {
		subcategories, err := json.Marshal(m.Subcategories)
		if err != nil {
			return fmt.Errorf("failed to marshal subcategories: %w", err)
		}

		_, err = tx.Exec(`
			INSERT INTO category_mappings (source_id, source_type_id, category_id, subcategories)
			VALUES (?, ?, ?, ?)
		`, sourceID, m.SourceTypeID, m.CategoryID, string(subcategories))
		if err != nil {
			return fmt.Errorf("failed to insert mapping: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit mappings: %w", err)
	}

	return nil
}

func (r *mappingRepository) GetAllMappings() ([]CategoryMapping, error) {
	rows, err := r.db.Query(`
		SELECT source_id, source_type_id, category_id, subcategories
		FROM category_mappings
		ORDER BY source_id, source_type_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get mappings: %w", err)
	}
	defer rows.Close()

	var mappings []CategoryMapping
	for rows.Next() {
		var m CategoryMapping
		var subcategories string
		if err := rows.Scan(&m.SourceID, &m.SourceTypeID, &m.CategoryID, &subcategories); err != nil {
			return nil, fmt.Errorf("failed to scan mapping row: %w", err)
		}
		if err := json.Unmarshal([]byte(subcategories), &m.Subcategories); err != nil {
			return nil, fmt.Errorf("failed to unmarshal subcategories: %w", err)
		}
		mappings = append(mappings, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating mapping rows: %w", err)
	}

	return mappings, nil
}
