package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"iter"

	"github.com/lib/pq"

	"herdbook/internal/identity/models"
	id "herdbook/pkg/domain"
	"herdbook/pkg/platform/sentinel"
)

//go:embed schema.sql
var schema string

// Migrate creates the identity_records table if it does not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate identity records: %w", err)
	}
	return nil
}

// PostgresStore persists identity records in PostgreSQL.
// This store is pure I/O; matching and deduplication belong in the service.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed record store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Insert writes the record in a single statement; the ID comes from the
// BIGSERIAL sequence, so IDs follow commit-ordering of inserts.
func (s *PostgresStore) Insert(ctx context.Context, record models.Record) (models.Record, error) {
	metadata, err := json.Marshal(nonNilMetadata(record.Metadata))
	if err != nil {
		return models.Record{}, fmt.Errorf("marshal record metadata: %w", err)
	}
	embedding := []float32(record.Embedding)
	query := `
		INSERT INTO identity_records (embedding, metadata, image)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`
	stored := record.Clone()
	err = s.db.QueryRowContext(ctx, query, pq.Array(embedding), metadata, record.Image).
		Scan(&stored.ID, &stored.CreatedAt)
	if err != nil {
		return models.Record{}, fmt.Errorf("insert identity record: %w", err)
	}
	return stored, nil
}

// Scan streams all records in id order from a single SELECT, which gives the
// statement-level snapshot the matcher relies on.
func (s *PostgresStore) Scan(ctx context.Context) iter.Seq2[models.Record, error] {
	return func(yield func(models.Record, error) bool) {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, embedding, metadata, image, created_at
			FROM identity_records
			ORDER BY id
		`)
		if err != nil {
			yield(models.Record{}, fmt.Errorf("scan identity records: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			record, err := scanRecord(rows)
			if err != nil {
				yield(models.Record{}, err)
				return
			}
			if !yield(record, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(models.Record{}, fmt.Errorf("iterate identity records: %w", err))
		}
	}
}

func (s *PostgresStore) FindByID(ctx context.Context, recordID id.RecordID) (models.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, embedding, metadata, image, created_at
		FROM identity_records
		WHERE id = $1
	`, int64(recordID))
	record, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Record{}, sentinel.ErrNotFound
		}
		return models.Record{}, fmt.Errorf("find identity record by id: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM identity_records`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count identity records: %w", err)
	}
	return count, nil
}

type recordRow interface {
	Scan(dest ...any) error
}

func scanRecord(row recordRow) (models.Record, error) {
	var (
		record    models.Record
		embedding []float32
		metadata  []byte
	)
	if err := row.Scan(&record.ID, pq.Array(&embedding), &metadata, &record.Image, &record.CreatedAt); err != nil {
		return models.Record{}, err
	}
	record.Embedding = models.Vector(embedding)
	record.Metadata = models.Metadata{}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &record.Metadata); err != nil {
			return models.Record{}, fmt.Errorf("unmarshal record metadata: %w", err)
		}
	}
	return record, nil
}

func nonNilMetadata(m models.Metadata) models.Metadata {
	if m == nil {
		return models.Metadata{}
	}
	return m
}
