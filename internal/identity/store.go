// Package identity implements the Identity Store: the persistent,
// per-vault mapping from a stable file_id to its current path, content
// hash, last commit, rename history, and soft-delete marker, plus the
// disaster-recovery manifest derived from it.
//
// No example repo in the retrieval pack persists domain rows this way, but
// trly-quad-ops wires exactly this stack — mattn/go-sqlite3 behind
// database/sql, schema migrations via golang-migrate/migrate/v4 sourced
// from an embedded migrations directory — for its own unit/repository
// tables (internal/db/db.go), so that is the shape this store follows.
package identity

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/scionsync/scion/internal/vaultname"
)

// Record is an identity record: the persistent home of one file_id.
type Record struct {
	FileID      string
	VaultName   string
	CurrentPath string
	ContentHash *string
	LastCommit  *string
	CreatedAt   int64
	UpdatedAt   int64
	DeletedAt   *int64
}

// Deleted reports whether the record has been soft-deleted.
func (r Record) Deleted() bool { return r.DeletedAt != nil }

// ErrAmbiguous names the case where more than one active record shares a
// hash. No function in this module returns it: rename detection reports
// that case as not found rather than picking one record arbitrarily.
var ErrAmbiguous = errors.New("identity: ambiguous match")

// Store is the Identity Store for one vault.
type Store struct {
	db        *sql.DB
	vaultName string
	dbPath    string
	logger    *slog.Logger
}

// Open opens (creating if necessary) the identity store database at
// vaultRoot/.scion/metadata.db and applies pending migrations.
func Open(vaultRoot, vaultName string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Join(vaultRoot, vaultname.SystemDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}
	dbPath := filepath.Join(dir, "metadata.db")

	db, err := openDB(dbPath, logger)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, vaultName: vaultName, dbPath: dbPath, logger: logger}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

const recordColumns = "file_id, vault_name, current_path, content_hash, last_commit, created_at, updated_at, deleted_at"

func scanRecord(row interface{ Scan(...any) error }) (Record, error) {
	var r Record
	if err := row.Scan(&r.FileID, &r.VaultName, &r.CurrentPath, &r.ContentHash, &r.LastCommit, &r.CreatedAt, &r.UpdatedAt, &r.DeletedAt); err != nil {
		return Record{}, err
	}
	return r, nil
}

// EnsureFileID implements ensure_file_id: if an active record exists at
// path, it is updated (when hash/commit are provided) and its file_id
// returned; otherwise a new record is created.
func (s *Store) EnsureFileID(path string, hash, commit *string) (string, error) {
	now := time.Now().Unix()

	existing, err := s.GetByPath(path)
	if err != nil {
		return "", err
	}
	if existing != nil {
		if hash != nil || commit != nil {
			if err := s.Update(existing.FileID, UpdateFields{Hash: hash, Commit: commit}); err != nil {
				return "", err
			}
		}
		return existing.FileID, nil
	}

	fileID := uuid.NewString()
	_, err = s.db.Exec(
		`INSERT INTO identities (file_id, vault_name, current_path, content_hash, last_commit, created_at, updated_at, deleted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, NULL)`,
		fileID, s.vaultName, path, hash, commit, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("insert identity record for %s: %w", path, err)
	}
	return fileID, nil
}

// GetByID returns the active record for file_id, or (nil, nil) if absent
// or soft-deleted.
func (s *Store) GetByID(fileID string) (*Record, error) {
	row := s.db.QueryRow(
		`SELECT `+recordColumns+` FROM identities WHERE file_id = ? AND deleted_at IS NULL`,
		fileID,
	)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get identity %s: %w", fileID, err)
	}
	return &r, nil
}

// GetByPath returns the active record currently at path, or (nil, nil) if
// none.
func (s *Store) GetByPath(path string) (*Record, error) {
	row := s.db.QueryRow(
		`SELECT `+recordColumns+` FROM identities WHERE vault_name = ? AND current_path = ? AND deleted_at IS NULL`,
		s.vaultName, path,
	)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get identity at %s: %w", path, err)
	}
	return &r, nil
}

// GetByHash returns every active record whose content_hash equals hash.
func (s *Store) GetByHash(hash string) ([]Record, error) {
	rows, err := s.db.Query(
		`SELECT `+recordColumns+` FROM identities WHERE vault_name = ? AND content_hash = ? AND deleted_at IS NULL`,
		s.vaultName, hash,
	)
	if err != nil {
		return nil, fmt.Errorf("query identities by hash: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListActive returns every non-deleted record for the vault, the
// projection the manifest HTTP endpoint serves.
func (s *Store) ListActive() ([]Record, error) {
	rows, err := s.db.Query(
		`SELECT `+recordColumns+` FROM identities WHERE vault_name = ? AND deleted_at IS NULL ORDER BY current_path ASC`,
		s.vaultName,
	)
	if err != nil {
		return nil, fmt.Errorf("query active identities: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpdateFields is the set of optional fields Update may change.
type UpdateFields struct {
	CurrentPath *string
	Hash        *string
	Commit      *string
}

// Update applies the given fields to file_id and bumps updated_at. When
// CurrentPath changes, the caller MUST also call RecordPathChange in the
// same critical section so path history stays consistent; Update does not
// do this itself since old and new path must come from the caller's own
// bookkeeping.
func (s *Store) Update(fileID string, fields UpdateFields) error {
	now := time.Now().Unix()
	_, err := s.db.Exec(
		`UPDATE identities SET
		   current_path = COALESCE(?, current_path),
		   content_hash = COALESCE(?, content_hash),
		   last_commit  = COALESCE(?, last_commit),
		   updated_at   = ?
		 WHERE file_id = ? AND deleted_at IS NULL`,
		fields.CurrentPath, fields.Hash, fields.Commit, now, fileID,
	)
	if err != nil {
		return fmt.Errorf("update identity %s: %w", fileID, err)
	}
	return nil
}

// RecordPathChange appends a path-history row for file_id.
func (s *Store) RecordPathChange(fileID, oldPath, newPath string) error {
	_, err := s.db.Exec(
		`INSERT INTO path_history (file_id, old_path, new_path, changed_at) VALUES (?, ?, ?, ?)`,
		fileID, oldPath, newPath, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("record path change for %s: %w", fileID, err)
	}
	return nil
}

// SoftDelete sets deleted_at on file_id. A deleted file_id is never
// revived; a later create at the same path is assigned a fresh file_id.
func (s *Store) SoftDelete(fileID string) error {
	_, err := s.db.Exec(
		`UPDATE identities SET deleted_at = ?, updated_at = ? WHERE file_id = ? AND deleted_at IS NULL`,
		time.Now().Unix(), time.Now().Unix(), fileID,
	)
	if err != nil {
		return fmt.Errorf("soft delete %s: %w", fileID, err)
	}
	return nil
}

// AllPreviousPaths returns every path file_id has ever been renamed from,
// oldest first.
func (s *Store) AllPreviousPaths(fileID string) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT old_path FROM path_history WHERE file_id = ? ORDER BY changed_at ASC`,
		fileID,
	)
	if err != nil {
		return nil, fmt.Errorf("query path history for %s: %w", fileID, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan path history row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// FindByAnyPath implements find_by_any_path: looks first for an active
// record currently at path, then for the most recent path-history row
// where path was the old (pre-rename) path, resolved back to its (still
// active) record. This is what lets a client that only ever knew a file
// by a path it was renamed away from — including its original path —
// still resolve to the file's current location.
func (s *Store) FindByAnyPath(path string) (*Record, error) {
	if r, err := s.GetByPath(path); err != nil || r != nil {
		return r, err
	}

	row := s.db.QueryRow(
		`SELECT file_id FROM path_history WHERE old_path = ? ORDER BY changed_at DESC LIMIT 1`,
		path,
	)
	var fileID string
	if err := row.Scan(&fileID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("resolve historical path %s: %w", path, err)
	}
	return s.GetByID(fileID)
}

// Manifest is the disaster-recovery document committed at
// .scion/manifest.json.
type Manifest struct {
	Version   int                     `json:"version"`
	UpdatedAt int64                   `json:"updated_at"`
	Files     map[string]ManifestFile `json:"files"`
}

// ManifestFile is one manifest entry, keyed by file_id in Manifest.Files.
type ManifestFile struct {
	Path      string `json:"path"`
	CreatedAt int64  `json:"created_at"`
}

const manifestVersion = 1

// BuildManifest projects every active record for the vault into a
// Manifest reflecting the store's current state.
func (s *Store) BuildManifest() (Manifest, error) {
	rows, err := s.db.Query(
		`SELECT file_id, current_path, created_at FROM identities WHERE vault_name = ? AND deleted_at IS NULL`,
		s.vaultName,
	)
	if err != nil {
		return Manifest{}, fmt.Errorf("query active identities: %w", err)
	}
	defer rows.Close()

	files := make(map[string]ManifestFile)
	for rows.Next() {
		var fileID, path string
		var createdAt int64
		if err := rows.Scan(&fileID, &path, &createdAt); err != nil {
			return Manifest{}, fmt.Errorf("scan manifest row: %w", err)
		}
		files[fileID] = ManifestFile{Path: path, CreatedAt: createdAt}
	}
	if err := rows.Err(); err != nil {
		return Manifest{}, err
	}

	return Manifest{Version: manifestVersion, UpdatedAt: time.Now().Unix(), Files: files}, nil
}

// MarshalManifest serializes m the way it is committed to
// .scion/manifest.json: stable key order, trailing newline.
func MarshalManifest(m Manifest) ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	return append(data, '\n'), nil
}

// UnmarshalManifest parses the bytes of a committed manifest.json.
func UnmarshalManifest(data []byte) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest: %w", err)
	}
	if m.Files == nil {
		m.Files = make(map[string]ManifestFile)
	}
	return m, nil
}

// RebuildFromManifest repopulates the store from a disaster-recovery
// manifest: for every file_id not already present it inserts a fresh
// active record at the manifest's recorded path and created_at. Existing
// records are left untouched, so this is safe to run against a partially
// intact store.
func (s *Store) RebuildFromManifest(m Manifest) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin manifest rebuild: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	for fileID, entry := range m.Files {
		var exists int
		if err := tx.QueryRow(`SELECT COUNT(1) FROM identities WHERE file_id = ?`, fileID).Scan(&exists); err != nil {
			return fmt.Errorf("check existing identity %s: %w", fileID, err)
		}
		if exists > 0 {
			continue
		}
		createdAt := entry.CreatedAt
		if createdAt == 0 {
			createdAt = now
		}
		if _, err := tx.Exec(
			`INSERT INTO identities (file_id, vault_name, current_path, content_hash, last_commit, created_at, updated_at, deleted_at)
			 VALUES (?, ?, ?, NULL, NULL, ?, ?, NULL)`,
			fileID, s.vaultName, entry.Path, createdAt, now,
		); err != nil {
			return fmt.Errorf("restore identity %s: %w", fileID, err)
		}
	}
	return tx.Commit()
}
