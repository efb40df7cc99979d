package catalog

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema_postgres.sql
var postgresSchema string

// PostgresStore keeps the catalog in a shared Postgres database.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects, verifies the connection and applies the schema.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("postgres catalog dsn required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres catalog config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres catalog pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres catalog: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply postgres catalog schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// Ping verifies the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreatePlaceholder inserts a new entry in the uploading state.
func (s *PostgresStore) CreatePlaceholder(ctx context.Context, p Placeholder) (*Entry, error) {
	if err := validatePlaceholder(p); err != nil {
		return nil, err
	}
	tagsJSON, err := encodeTags(p.Tags)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if _, err := s.pool.Exec(ctx, `
INSERT INTO catalog_entries (
    upload_id, owner_id, slug, title, description, tags_json, status,
    source_path, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
`, p.UploadID, p.OwnerID, p.Slug, p.Title, nullableString(p.Description), tagsJSON,
		string(StatusUploading), nullableString(p.SourcePath), now); err != nil {
		return nil, fmt.Errorf("insert placeholder: %w", err)
	}
	return s.Get(ctx, p.UploadID)
}

// Get loads an entry and its tiers.
func (s *PostgresStore) Get(ctx context.Context, uploadID string) (*Entry, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM catalog_entries WHERE upload_id = $1`, uploadID)
	entry, err := scanPostgresEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(uploadID)
	}
	if err != nil {
		return nil, fmt.Errorf("get entry: %w", err)
	}
	if entry.Tiers, err = s.tiers(ctx, uploadID); err != nil {
		return nil, err
	}
	return entry, nil
}

// MarkProcessing moves an uploading entry into processing.
func (s *PostgresStore) MarkProcessing(ctx context.Context, uploadID string) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE catalog_entries SET status = $1, updated_at = $2
WHERE upload_id = $3 AND status IN ($4, $1)
`, string(StatusProcessing), time.Now().UTC(), uploadID, string(StatusUploading))
	if err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	return s.explainMiss(ctx, uploadID, StatusProcessing)
}

// Finalize promotes a processing entry to complete in one transaction.
func (s *PostgresStore) Finalize(ctx context.Context, uploadID string, f Finalization) (*Entry, error) {
	if err := validateFinalization(f); err != nil {
		return nil, err
	}
	metaJSON, err := json.Marshal(f.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin finalize tx: %w", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	var current string
	err = tx.QueryRow(ctx, `SELECT status FROM catalog_entries WHERE upload_id = $1 FOR UPDATE`, uploadID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(uploadID)
	}
	if err != nil {
		return nil, fmt.Errorf("read status: %w", err)
	}
	if Status(current) != StatusProcessing {
		return nil, transitionError(uploadID, Status(current), StatusComplete)
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `
UPDATE catalog_entries
SET status = $1, metadata_json = $2, location = $3, master_path = $4, thumbnail_path = $5,
    poster_path = $6, failure_reason = NULL, updated_at = $7, completed_at = $7
WHERE upload_id = $8
`, string(StatusComplete), string(metaJSON), nullableString(f.Location), f.MasterPath,
		nullableString(f.ThumbnailPath), nullableString(f.PosterPath), now, uploadID); err != nil {
		return nil, fmt.Errorf("update entry: %w", err)
	}
	for _, tier := range f.Tiers {
		if _, err := tx.Exec(ctx, `
INSERT INTO catalog_tiers (upload_id, name, width, height, bandwidth, playlist, size_bytes)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`, uploadID, tier.Name, tier.Width, tier.Height, tier.Bandwidth, tier.Playlist, tier.SizeBytes); err != nil {
			return nil, fmt.Errorf("insert tier %s: %w", tier.Name, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit finalize: %w", err)
	}
	return s.Get(ctx, uploadID)
}

// MarkFailed records a failed or cancelled outcome.
func (s *PostgresStore) MarkFailed(ctx context.Context, uploadID string, status Status, reason string) error {
	if err := validateFailure(status); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE catalog_entries
SET status = $1, failure_reason = $2, updated_at = $3, completed_at = $3
WHERE upload_id = $4 AND status IN ($5, $6)
`, string(status), nullableString(reason), time.Now().UTC(), uploadID,
		string(StatusUploading), string(StatusProcessing))
	if err != nil {
		return fmt.Errorf("mark %s: %w", status, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	return s.explainMiss(ctx, uploadID, status)
}

// ListByStatus returns matching entries oldest first.
func (s *PostgresStore) ListByStatus(ctx context.Context, statuses ...Status) ([]*Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM catalog_entries`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		marks := make([]string, 0, len(statuses))
		for i, status := range statuses {
			marks = append(marks, "$"+strconv.Itoa(i+1))
			args = append(args, string(status))
		}
		query += ` WHERE status IN (` + strings.Join(marks, ", ") + `)`
	}
	query += ` ORDER BY created_at, upload_id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	var entries []*Entry
	for rows.Next() {
		entry, err := scanPostgresEntry(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, entry)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	for _, entry := range entries {
		if entry.Tiers, err = s.tiers(ctx, entry.UploadID); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

func (s *PostgresStore) tiers(ctx context.Context, uploadID string) ([]TierRecord, error) {
	rows, err := s.pool.Query(ctx, `
SELECT name, width, height, bandwidth, playlist, size_bytes
FROM catalog_tiers WHERE upload_id = $1 ORDER BY height DESC, name
`, uploadID)
	if err != nil {
		return nil, fmt.Errorf("list tiers: %w", err)
	}
	defer rows.Close()
	var tiers []TierRecord
	for rows.Next() {
		var tier TierRecord
		if err := rows.Scan(&tier.Name, &tier.Width, &tier.Height, &tier.Bandwidth, &tier.Playlist, &tier.SizeBytes); err != nil {
			return nil, fmt.Errorf("scan tier: %w", err)
		}
		tiers = append(tiers, tier)
	}
	return tiers, rows.Err()
}

func (s *PostgresStore) explainMiss(ctx context.Context, uploadID string, target Status) error {
	var current string
	err := s.pool.QueryRow(ctx, `SELECT status FROM catalog_entries WHERE upload_id = $1`, uploadID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound(uploadID)
	}
	if err != nil {
		return fmt.Errorf("read status: %w", err)
	}
	if Status(current) == target {
		return nil
	}
	return transitionError(uploadID, Status(current), target)
}

func scanPostgresEntry(row pgx.Row) (*Entry, error) {
	var (
		entry        Entry
		status       string
		description  *string
		tagsJSON     *string
		sourcePath   *string
		metadataJSON *string
		location     *string
		master       *string
		thumbnail    *string
		poster       *string
		failure      *string
	)
	if err := row.Scan(
		&entry.UploadID,
		&entry.OwnerID,
		&entry.Slug,
		&entry.Title,
		&description,
		&tagsJSON,
		&status,
		&sourcePath,
		&metadataJSON,
		&location,
		&master,
		&thumbnail,
		&poster,
		&failure,
		&entry.CreatedAt,
		&entry.UpdatedAt,
		&entry.CompletedAt,
	); err != nil {
		return nil, err
	}
	entry.Status = Status(status)
	entry.Description = deref(description)
	entry.SourcePath = deref(sourcePath)
	entry.Location = deref(location)
	entry.MasterPath = deref(master)
	entry.ThumbnailPath = deref(thumbnail)
	entry.PosterPath = deref(poster)
	entry.FailureReason = deref(failure)
	entry.CreatedAt = entry.CreatedAt.UTC()
	entry.UpdatedAt = entry.UpdatedAt.UTC()

	var err error
	if entry.Tags, err = decodeTags(deref(tagsJSON)); err != nil {
		return nil, err
	}
	if entry.Metadata, err = decodeMetadata(deref(metadataJSON)); err != nil {
		return nil, err
	}
	return &entry, nil
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
