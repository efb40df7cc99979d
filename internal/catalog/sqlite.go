package catalog

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

// schemaVersion is bumped whenever either schema file changes shape.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database was created by an incompatible
// build.
var ErrSchemaMismatch = errors.New("schema version mismatch")

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

const entryColumns = "upload_id, owner_id, slug, title, description, tags_json, status, source_path, metadata_json, location, master_path, thumbnail_path, poster_path, failure_reason, created_at, updated_at, completed_at"

// SQLiteStore is the default single-node catalog.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens or creates the catalog database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &SQLiteStore{db: db, path: path}
	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *SQLiteStore) Path() string { return s.path }

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s to recreate it)",
			ErrSchemaMismatch, version, schemaVersion, s.path)
	}
	return nil
}

func (s *SQLiteStore) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// CreatePlaceholder inserts a new entry in the uploading state.
func (s *SQLiteStore) CreatePlaceholder(ctx context.Context, p Placeholder) (*Entry, error) {
	if err := validatePlaceholder(p); err != nil {
		return nil, err
	}
	tagsJSON, err := encodeTags(p.Tags)
	if err != nil {
		return nil, err
	}
	timestamp := formatTime(time.Now())
	if err := s.exec(ctx,
		`INSERT INTO catalog_entries (
            upload_id, owner_id, slug, title, description, tags_json, status,
            source_path, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.UploadID,
		p.OwnerID,
		p.Slug,
		p.Title,
		nullableString(p.Description),
		tagsJSON,
		StatusUploading,
		nullableString(p.SourcePath),
		timestamp,
		timestamp,
	); err != nil {
		return nil, fmt.Errorf("insert placeholder: %w", err)
	}
	return s.Get(ctx, p.UploadID)
}

// Get loads an entry and its tiers.
func (s *SQLiteStore) Get(ctx context.Context, uploadID string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM catalog_entries WHERE upload_id = ?`, uploadID)
	entry, err := scanSQLiteEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
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

// MarkProcessing moves an uploading entry into processing. Entries already
// processing are accepted so recovered jobs can be requeued.
func (s *SQLiteStore) MarkProcessing(ctx context.Context, uploadID string) error {
	res, err := s.execResult(ctx,
		`UPDATE catalog_entries SET status = ?, updated_at = ?
         WHERE upload_id = ? AND status IN (?, ?)`,
		StatusProcessing, formatTime(time.Now()), uploadID, StatusUploading, StatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	return s.explainMiss(ctx, uploadID, StatusProcessing)
}

// Finalize promotes a processing entry to complete. The entry update and all
// tier rows commit together or not at all.
func (s *SQLiteStore) Finalize(ctx context.Context, uploadID string, f Finalization) (*Entry, error) {
	if err := validateFinalization(f); err != nil {
		return nil, err
	}
	metaJSON, err := json.Marshal(f.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	if err := retryOnBusy(ctx, func() error {
		return s.finalizeTx(ctx, uploadID, f, string(metaJSON))
	}); err != nil {
		return nil, err
	}
	return s.Get(ctx, uploadID)
}

func (s *SQLiteStore) finalizeTx(ctx context.Context, uploadID string, f Finalization, metaJSON string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin finalize tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM catalog_entries WHERE upload_id = ?`, uploadID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound(uploadID)
	}
	if err != nil {
		return fmt.Errorf("read status: %w", err)
	}
	if Status(current) != StatusProcessing {
		return transitionError(uploadID, Status(current), StatusComplete)
	}

	now := formatTime(time.Now())
	if _, err := tx.ExecContext(ctx,
		`UPDATE catalog_entries
         SET status = ?, metadata_json = ?, location = ?, master_path = ?, thumbnail_path = ?,
             poster_path = ?, failure_reason = NULL, updated_at = ?, completed_at = ?
         WHERE upload_id = ?`,
		StatusComplete,
		metaJSON,
		nullableString(f.Location),
		f.MasterPath,
		nullableString(f.ThumbnailPath),
		nullableString(f.PosterPath),
		now,
		now,
		uploadID,
	); err != nil {
		return fmt.Errorf("update entry: %w", err)
	}
	for _, tier := range f.Tiers {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO catalog_tiers (upload_id, name, width, height, bandwidth, playlist, size_bytes)
             VALUES (?, ?, ?, ?, ?, ?, ?)`,
			uploadID, tier.Name, tier.Width, tier.Height, tier.Bandwidth, tier.Playlist, tier.SizeBytes,
		); err != nil {
			return fmt.Errorf("insert tier %s: %w", tier.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit finalize: %w", err)
	}
	return nil
}

// MarkFailed records a failed or cancelled outcome. Repeating the same
// terminal status is a no-op; overwriting a complete entry is refused.
func (s *SQLiteStore) MarkFailed(ctx context.Context, uploadID string, status Status, reason string) error {
	if err := validateFailure(status); err != nil {
		return err
	}
	now := formatTime(time.Now())
	res, err := s.execResult(ctx,
		`UPDATE catalog_entries
         SET status = ?, failure_reason = ?, updated_at = ?, completed_at = ?
         WHERE upload_id = ? AND status IN (?, ?)`,
		status, nullableString(reason), now, now, uploadID, StatusUploading, StatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("mark %s: %w", status, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	return s.explainMiss(ctx, uploadID, status)
}

// ListByStatus returns matching entries oldest first.
func (s *SQLiteStore) ListByStatus(ctx context.Context, statuses ...Status) ([]*Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM catalog_entries`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
		for _, status := range statuses {
			args = append(args, status)
		}
	}
	query += ` ORDER BY created_at, upload_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()
	var entries []*Entry
	for rows.Next() {
		entry, err := scanSQLiteEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	rows.Close()
	for _, entry := range entries {
		if entry.Tiers, err = s.tiers(ctx, entry.UploadID); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

func (s *SQLiteStore) tiers(ctx context.Context, uploadID string) ([]TierRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, width, height, bandwidth, playlist, size_bytes
         FROM catalog_tiers WHERE upload_id = ? ORDER BY height DESC, name`,
		uploadID,
	)
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

func (s *SQLiteStore) explainMiss(ctx context.Context, uploadID string, target Status) error {
	var current string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM catalog_entries WHERE upload_id = ?`, uploadID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
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

func (s *SQLiteStore) exec(ctx context.Context, query string, args ...any) error {
	_, err := s.execResult(ctx, query, args...)
	return err
}

func (s *SQLiteStore) execResult(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func scanSQLiteEntry(scanner interface{ Scan(dest ...any) error }) (*Entry, error) {
	var (
		entry         Entry
		status        string
		description   sql.NullString
		tagsJSON      sql.NullString
		sourcePath    sql.NullString
		metadataJSON  sql.NullString
		location      sql.NullString
		masterPath    sql.NullString
		thumbnailPath sql.NullString
		posterPath    sql.NullString
		failure       sql.NullString
		createdRaw    string
		updatedRaw    string
		completedRaw  sql.NullString
	)
	if err := scanner.Scan(
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
		&masterPath,
		&thumbnailPath,
		&posterPath,
		&failure,
		&createdRaw,
		&updatedRaw,
		&completedRaw,
	); err != nil {
		return nil, err
	}
	entry.Status = Status(status)
	entry.Description = description.String
	entry.SourcePath = sourcePath.String
	entry.Location = location.String
	entry.MasterPath = masterPath.String
	entry.ThumbnailPath = thumbnailPath.String
	entry.PosterPath = posterPath.String
	entry.FailureReason = failure.String

	var err error
	if entry.Tags, err = decodeTags(tagsJSON.String); err != nil {
		return nil, err
	}
	if entry.Metadata, err = decodeMetadata(metadataJSON.String); err != nil {
		return nil, err
	}
	if created, err := parseTime(createdRaw); err == nil {
		entry.CreatedAt = created
	}
	if updated, err := parseTime(updatedRaw); err == nil {
		entry.UpdatedAt = updated
	}
	if completedRaw.Valid {
		if completed, err := parseTime(completedRaw.String); err == nil {
			entry.CompletedAt = &completed
		}
	}
	return &entry, nil
}
