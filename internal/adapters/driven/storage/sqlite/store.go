package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/custodia-labs/subanon/internal/adapters/driven/storage/sqlite/migrations"
	"github.com/custodia-labs/subanon/internal/core/domain"
	"github.com/custodia-labs/subanon/internal/core/ports/driven"
)

// Ensure Store implements the interface.
var _ driven.BatchStore = (*Store)(nil)

// Store is a SQLite-based transfer ledger.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore creates a new SQLite store at the specified data directory.
// If dataDir is empty, defaults to ~/.subanon/data/ledger.db.
func NewStore(dataDir string) (*Store, error) {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".subanon", "data")
	}

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "ledger.db")

	// Open database with WAL mode for better concurrency
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{
		db:   db,
		path: dbPath,
	}

	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// migrate applies every NNN_name.up.sql newer than the recorded version.
func (s *Store) migrate(fsys fs.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}

	return nil
}

// SaveBatch stores or updates a batch header.
func (s *Store) SaveBatch(ctx context.Context, b domain.BatchRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO batches (id, source_course, source_assignment, destination_course, destination_assignment,
			salt, token_prefix, local_dir, created_at, finished_at, outcome, abort_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			finished_at = excluded.finished_at,
			outcome = excluded.outcome,
			abort_reason = excluded.abort_reason
	`, b.ID, b.Source.CourseID, b.Source.AssignmentID, b.Destination.CourseID, b.Destination.AssignmentID,
		b.Salt, b.TokenPrefix, b.LocalDir, formatTime(b.CreatedAt), formatTime(b.FinishedAt),
		string(b.Outcome), b.AbortReason)
	if err != nil {
		return fmt.Errorf("saving batch: %w", err)
	}
	return nil
}

const batchColumns = `id, source_course, source_assignment, destination_course, destination_assignment,
	salt, token_prefix, local_dir, created_at, finished_at, outcome, abort_reason`

// GetBatch retrieves a batch header by ID.
func (s *Store) GetBatch(ctx context.Context, id string) (*domain.BatchRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM batches WHERE id = ?`, id)
	b, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// ListBatches returns all batch headers, newest first.
func (s *Store) ListBatches(ctx context.Context) ([]domain.BatchRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+batchColumns+` FROM batches ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying batches: %w", err)
	}
	defer rows.Close()

	var batches []domain.BatchRecord //nolint:prealloc // size unknown from query
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating batches: %w", err)
	}
	return batches, nil
}

// SaveMappings replaces the identity mappings of a batch.
func (s *Store) SaveMappings(ctx context.Context, batchID string, mappings []domain.IdentityMapping) error {
	if err := s.requireBatch(ctx, batchID); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM identity_mappings WHERE batch_id = ?`, batchID); err != nil {
		return fmt.Errorf("clearing mappings: %w", err)
	}
	for _, m := range mappings {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO identity_mappings (batch_id, token, student_id, name, email, role, first_seen)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, batchID, string(m.Token), m.Identity.Key(), m.Identity.Name, m.Identity.Email, m.Identity.Role, m.FirstSeen)
		if err != nil {
			return fmt.Errorf("saving mapping %s: %w", m.Token, err)
		}
	}
	return tx.Commit()
}

// GetMappings returns the identity mappings of a batch in first-seen order.
func (s *Store) GetMappings(ctx context.Context, batchID string) ([]domain.IdentityMapping, error) {
	if err := s.requireBatch(ctx, batchID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT token, student_id, name, email, role, first_seen
		FROM identity_mappings WHERE batch_id = ? ORDER BY first_seen
	`, batchID)
	if err != nil {
		return nil, fmt.Errorf("querying mappings: %w", err)
	}
	defer rows.Close()

	var mappings []domain.IdentityMapping //nolint:prealloc // size unknown from query
	for rows.Next() {
		var m domain.IdentityMapping
		var token string
		if err := rows.Scan(&token, &m.Identity.StudentID, &m.Identity.Name, &m.Identity.Email,
			&m.Identity.Role, &m.FirstSeen); err != nil {
			return nil, fmt.Errorf("scanning mapping: %w", err)
		}
		m.Token = domain.Token(token)
		mappings = append(mappings, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating mappings: %w", err)
	}
	return mappings, nil
}

// SaveResult stores the terminal result of one submission.
func (s *Store) SaveResult(ctx context.Context, batchID string, r domain.UploadResult) error {
	if err := s.requireBatch(ctx, batchID); err != nil {
		return err
	}

	warnings, err := json.Marshal(r.Warnings)
	if err != nil {
		return fmt.Errorf("marshalling warnings: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO upload_results (batch_id, seq, submission_id, destination_id, token, status, reason, warnings)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM upload_results WHERE batch_id = ?), ?, ?, ?, ?, ?, ?)
	`, batchID, batchID, r.SubmissionID, r.DestinationSubmissionID, string(r.Token), string(r.Status), r.Reason, string(warnings))
	if err != nil {
		return fmt.Errorf("saving result: %w", err)
	}
	return nil
}

// GetResults returns the results of a batch in completion order.
func (s *Store) GetResults(ctx context.Context, batchID string) ([]domain.UploadResult, error) {
	if err := s.requireBatch(ctx, batchID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT submission_id, destination_id, token, status, reason, warnings
		FROM upload_results WHERE batch_id = ? ORDER BY seq
	`, batchID)
	if err != nil {
		return nil, fmt.Errorf("querying results: %w", err)
	}
	defer rows.Close()

	var results []domain.UploadResult //nolint:prealloc // size unknown from query
	for rows.Next() {
		var r domain.UploadResult
		var token, status, warnings string
		if err := rows.Scan(&r.SubmissionID, &r.DestinationSubmissionID, &token, &status, &r.Reason, &warnings); err != nil {
			return nil, fmt.Errorf("scanning result: %w", err)
		}
		r.Token = domain.Token(token)
		r.Status = domain.UploadStatus(status)
		if err := json.Unmarshal([]byte(warnings), &r.Warnings); err != nil {
			return nil, fmt.Errorf("unmarshaling warnings: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating results: %w", err)
	}
	return results, nil
}

func (s *Store) requireBatch(ctx context.Context, batchID string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM batches WHERE id = ?`, batchID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("checking batch: %w", err)
	}
	return nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanBatch(row scanner) (*domain.BatchRecord, error) {
	var b domain.BatchRecord
	var createdAt, finishedAt, outcome string
	err := row.Scan(&b.ID, &b.Source.CourseID, &b.Source.AssignmentID, &b.Destination.CourseID,
		&b.Destination.AssignmentID, &b.Salt, &b.TokenPrefix, &b.LocalDir, &createdAt, &finishedAt,
		&outcome, &b.AbortReason)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning batch: %w", err)
	}
	b.Outcome = domain.OutcomeKind(outcome)
	b.CreatedAt = parseTime(createdAt)
	b.FinishedAt = parseTime(finishedAt)
	return &b, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
