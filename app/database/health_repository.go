package database

import (
	"database/sql"
	"fmt"
)

type healthRepository struct {
	db *DB
}

func NewHealthRepository(db *DB) HealthRepository {
	return &healthRepository{db: db}
}

func (r *healthRepository) GetHealth(sourceID string) (*HealthRecord, error) {
	var rec HealthRecord
	var lastCheckedAt sql.NullTime
	err := r.db.QueryRow(`
		SELECT source_id, status, last_latency_ms, success_rate, checked_count, last_checked_at
		FROM health_records
		WHERE source_id = ?
	`, sourceID).Scan(
		&rec.SourceID, &rec.Status, &rec.LastLatencyMs, &rec.SuccessRate,
		&rec.CheckedCount, &lastCheckedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get health record: %w", err)
	}

	if lastCheckedAt.Valid {
		rec.LastCheckedAt = &lastCheckedAt.Time
	}

	return &rec, nil
}

func (r *healthRepository) ListHealth() ([]HealthRecord, error) {
	rows, err := r.db.Query(`
		SELECT source_id, status, last_latency_ms, success_rate, checked_count, last_checked_at
		FROM health_records
		ORDER BY source_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list health records: %w", err)
	}
	defer rows.Close()

	var records []HealthRecord
	for rows.Next() {
		var rec HealthRecord
		var lastCheckedAt sql.NullTime
		err := rows.Scan(
			&rec.SourceID, &rec.Status, &rec.LastLatencyMs, &rec.SuccessRate,
			&rec.CheckedCount, &lastCheckedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan health row: %w", err)
		}
		if lastCheckedAt.Valid {
			rec.LastCheckedAt = &lastCheckedAt.Time
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating health rows: %w", err)
	}

	return records, nil
}

func (r *healthRepository) UpsertHealth(rec HealthRecord) error {
	_, err := r.db.Exec(`
		INSERT INTO health_records (source_id, status, last_latency_ms, success_rate, checked_count, last_checked_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (source_id) DO UPDATE SET
			status = excluded.status,
			last_latency_ms = excluded.last_latency_ms,
			success_rate = excluded.success_rate,
			checked_count = excluded.checked_count,
			last_checked_at = excluded.last_checked_at
	`, rec.SourceID, rec.Status, rec.LastLatencyMs, rec.SuccessRate, rec.CheckedCount, rec.LastCheckedAt)

	if err != nil {
		return fmt.Errorf("failed to upsert health record: %w", err)
	}

	return nil
}
