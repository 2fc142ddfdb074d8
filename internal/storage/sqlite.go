package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/ragindex/internal/models"
)

const (
	stateKeyManifest = "manifest"
	// maxInParams bounds the number of placeholders per IN clause.
	maxInParams = 500
)

// SQLiteStorage implements RecordStore and StateStore using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

var (
	_ RecordStore = (*SQLiteStorage)(nil)
	_ StateStore  = (*SQLiteStorage)(nil)
)

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS embedding_records (
		chunk_id TEXT NOT NULL,
		model TEXT NOT NULL,
		dimension INTEGER NOT NULL,
		vector BLOB NOT NULL,
		document_path TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		start_offset INTEGER NOT NULL,
		end_offset INTEGER NOT NULL,
		text TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (chunk_id, model)
	);

	CREATE INDEX IF NOT EXISTS idx_records_document_path ON embedding_records(document_path);
	CREATE INDEX IF NOT EXISTS idx_records_dimension ON embedding_records(dimension);

	CREATE TABLE IF NOT EXISTS documents (
		path TEXT PRIMARY KEY,
		mod_time INTEGER NOT NULL,
		size INTEGER NOT NULL,
		content_hash TEXT NOT NULL,
		indexed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := db.Exec(schema)
	return err
}

// PutRecords inserts or replaces records in one transaction.
func (s *SQLiteStorage) PutRecords(ctx context.Context, records []*models.EmbeddingRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO embedding_records
		 (chunk_id, model, dimension, vector, document_path, chunk_index, start_offset, end_offset, text, content_hash, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(chunk_id, model) DO UPDATE SET
		   dimension = excluded.dimension,
		   vector = excluded.vector,
		   document_path = excluded.document_path,
		   chunk_index = excluded.chunk_index,
		   start_offset = excluded.start_offset,
		   end_offset = excluded.end_offset,
		   text = excluded.text,
		   content_hash = excluded.content_hash`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for _, r := range records {
		if len(r.Vector) != r.Dimension {
			return fmt.Errorf("record %s: vector has %d values, dimension is %d", r.ChunkID, len(r.Vector), r.Dimension)
		}
		if _, err := stmt.ExecContext(ctx,
			r.ChunkID, r.Model, r.Dimension, float32SliceToBytes(r.Vector), r.DocumentPath,
			r.ChunkIndex, r.Start, r.End, r.Text, r.ContentHash, now,
		); err != nil {
			return fmt.Errorf("insert record %s: %w", r.ChunkID, err)
		}
	}
	return tx.Commit()
}

// DeleteRecords deletes all records for chunkIDs and reports what was removed per dimension.
func (s *SQLiteStorage) DeleteRecords(ctx context.Context, chunkIDs []string) (map[int][]string, error) {
	removed := make(map[int][]string)
	if len(chunkIDs) == 0 {
		return removed, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	for _, batch := range batchIDs(chunkIDs) {
		placeholders, args := inClause(batch)
		rows, err := tx.QueryContext(ctx,
			`SELECT DISTINCT chunk_id, dimension FROM embedding_records WHERE chunk_id IN (`+placeholders+`)`, args...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var id string
			var dim int
			if err := rows.Scan(&id, &dim); err != nil {
				rows.Close()
				return nil, err
			}
			removed[dim] = append(removed[dim], id)
		}
		if err := rows.Close(); err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM embedding_records WHERE chunk_id IN (`+placeholders+`)`, args...); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return removed, nil
}

// GetRecords returns the records for chunkIDs keyed by chunk ID. Missing IDs are absent from the map.
func (s *SQLiteStorage) GetRecords(ctx context.Context, chunkIDs []string) (map[string]*models.EmbeddingRecord, error) {
	out := make(map[string]*models.EmbeddingRecord, len(chunkIDs))
	for _, batch := range batchIDs(chunkIDs) {
		placeholders, args := inClause(batch)
		recs, err := s.queryRecords(ctx, `WHERE chunk_id IN (`+placeholders+`)`, args...)
		if err != nil {
			return nil, err
		}
		for _, r := range recs {
			out[r.ChunkID] = r
		}
	}
	return out, nil
}

// ChunkIDsByDocument returns the chunk IDs stored for path, sorted.
func (s *SQLiteStorage) ChunkIDsByDocument(ctx context.Context, path string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT chunk_id FROM embedding_records WHERE document_path = ? ORDER BY chunk_id`, path)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DocumentPaths returns the distinct document paths that have records, sorted.
func (s *SQLiteStorage) DocumentPaths(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT document_path FROM embedding_records ORDER BY document_path`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// ListRecords returns records of one dimension (0 = all) ordered by chunk ID.
func (s *SQLiteStorage) ListRecords(ctx context.Context, dimension int) ([]*models.EmbeddingRecord, error) {
	if dimension > 0 {
		return s.queryRecords(ctx, `WHERE dimension = ? ORDER BY chunk_id, model`, dimension)
	}
	return s.queryRecords(ctx, `ORDER BY chunk_id, model`)
}

func (s *SQLiteStorage) queryRecords(ctx context.Context, where string, args ...interface{}) ([]*models.EmbeddingRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chunk_id, model, dimension, vector, document_path, chunk_index, start_offset, end_offset, text, content_hash
		 FROM embedding_records `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.EmbeddingRecord
	for rows.Next() {
		var r models.EmbeddingRecord
		var blob []byte
		if err := rows.Scan(&r.ChunkID, &r.Model, &r.Dimension, &blob, &r.DocumentPath,
			&r.ChunkIndex, &r.Start, &r.End, &r.Text, &r.ContentHash); err != nil {
			return nil, err
		}
		r.Vector = bytesToFloat32Slice(blob)
		out = append(out, &r)
	}
	return out, rows.Err()
}

// RecordDimensions returns the distinct dimensions in use, ascending.
func (s *SQLiteStorage) RecordDimensions(ctx context.Context) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT dimension FROM embedding_records ORDER BY dimension`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var dims []int
	for rows.Next() {
		var d int
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		dims = append(dims, d)
	}
	return dims, rows.Err()
}

// CountRecords returns the number of embedding records.
func (s *SQLiteStorage) CountRecords(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embedding_records`).Scan(&n)
	return n, err
}

// DeleteAllRecords removes every embedding record.
func (s *SQLiteStorage) DeleteAllRecords(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM embedding_records`)
	return err
}

// LoadSnapshot returns the committed document references keyed by path.
func (s *SQLiteStorage) LoadSnapshot(ctx context.Context) (map[string]models.DocumentRef, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path, mod_time, size, content_hash FROM documents`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]models.DocumentRef)
	for rows.Next() {
		var ref models.DocumentRef
		var mtime int64
		if err := rows.Scan(&ref.Path, &mtime, &ref.Size, &ref.ContentHash); err != nil {
			return nil, err
		}
		ref.ModTime = time.Unix(0, mtime)
		out[ref.Path] = ref
	}
	return out, rows.Err()
}

// CommitSnapshot upserts refs and removes paths in one transaction.
func (s *SQLiteStorage) CommitSnapshot(ctx context.Context, refs []models.DocumentRef, removed []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	now := time.Now()
	for _, ref := range refs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO documents (path, mod_time, size, content_hash, indexed_at) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(path) DO UPDATE SET mod_time = excluded.mod_time, size = excluded.size,
			   content_hash = excluded.content_hash, indexed_at = excluded.indexed_at`,
			ref.Path, ref.ModTime.UnixNano(), ref.Size, ref.ContentHash, now,
		); err != nil {
			return fmt.Errorf("commit %s: %w", ref.Path, err)
		}
	}
	for _, p := range removed {
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE path = ?`, p); err != nil {
			return fmt.Errorf("remove %s: %w", p, err)
		}
	}
	return tx.Commit()
}

// ResetSnapshot forgets every recorded document.
func (s *SQLiteStorage) ResetSnapshot(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents`)
	return err
}

// LoadManifest returns the stored manifest or nil when none exists.
func (s *SQLiteStorage) LoadManifest(ctx context.Context) (*models.Manifest, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, stateKeyManifest).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var m models.Manifest
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal manifest: %w", err)
	}
	return &m, nil
}

// SaveManifest replaces the stored manifest.
func (s *SQLiteStorage) SaveManifest(ctx context.Context, m models.Manifest) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO state (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		stateKeyManifest, string(raw))
	return err
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func batchIDs(ids []string) [][]string {
	uniq := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		uniq = append(uniq, id)
	}
	sort.Strings(uniq)
	var out [][]string
	for len(uniq) > 0 {
		n := maxInParams
		if n > len(uniq) {
			n = len(uniq)
		}
		out = append(out, uniq[:n])
		uniq = uniq[n:]
	}
	return out
}

func inClause(ids []string) (string, []interface{}) {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return strings.TrimSuffix(strings.Repeat("?,", len(ids)), ","), args
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
