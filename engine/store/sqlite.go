package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a DefinitionStore + RunStore backed by a single
// sqlite file, using the pure-Go modernc.org/sqlite driver (no cgo).
// Definitions and runs are stored with their nested structures
// JSON-encoded, mirroring the teacher's sqlite-backed graph store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) a sqlite database at path
// and ensures its schema exists. path may be ":memory:" for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("applying %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS definitions (
			id TEXT NOT NULL,
			version INTEGER NOT NULL,
			status TEXT NOT NULL,
			nodes_json TEXT NOT NULL,
			edges_json TEXT NOT NULL,
			user_id TEXT NOT NULL,
			org_id TEXT NOT NULL,
			PRIMARY KEY (id, version)
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			definition_id TEXT NOT NULL,
			workflow_version INTEGER NOT NULL,
			user_id TEXT NOT NULL,
			org_id TEXT NOT NULL,
			input_json TEXT NOT NULL,
			status TEXT NOT NULL,
			output_json TEXT,
			error TEXT,
			engine_state_json TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Create(ctx context.Context, def DefinitionRecord) error {
	nodesJSON, err := json.Marshal(def.Nodes)
	if err != nil {
		return err
	}
	edgesJSON, err := json.Marshal(def.Edges)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO definitions (id, version, status, nodes_json, edges_json, user_id, org_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		def.ID, def.Version, def.Status, string(nodesJSON), string(edgesJSON), def.UserID, def.OrgID)
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, id string, version int) (DefinitionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, version, status, nodes_json, edges_json, user_id, org_id
		 FROM definitions WHERE id = ? AND version = ?`, id, version)
	return scanDefinition(row)
}

func (s *SQLiteStore) Latest(ctx context.Context, id string) (DefinitionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, version, status, nodes_json, edges_json, user_id, org_id
		 FROM definitions WHERE id = ? ORDER BY version DESC LIMIT 1`, id)
	return scanDefinition(row)
}

func (s *SQLiteStore) ListByOrg(ctx context.Context, orgID string) ([]DefinitionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT d.id, d.version, d.status, d.nodes_json, d.edges_json, d.user_id, d.org_id
		 FROM definitions d
		 INNER JOIN (SELECT id, MAX(version) AS max_version FROM definitions GROUP BY id) latest
		   ON d.id = latest.id AND d.version = latest.max_version
		 WHERE d.org_id = ? ORDER BY d.id`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DefinitionRecord
	for rows.Next() {
		def, err := scanDefinitionRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, def)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDefinition(row rowScanner) (DefinitionRecord, error) {
	var def DefinitionRecord
	var nodesJSON, edgesJSON string
	if err := row.Scan(&def.ID, &def.Version, &def.Status, &nodesJSON, &edgesJSON, &def.UserID, &def.OrgID); err != nil {
		if err == sql.ErrNoRows {
			return DefinitionRecord{}, ErrNotFound
		}
		return DefinitionRecord{}, err
	}
	if err := json.Unmarshal([]byte(nodesJSON), &def.Nodes); err != nil {
		return DefinitionRecord{}, err
	}
	if err := json.Unmarshal([]byte(edgesJSON), &def.Edges); err != nil {
		return DefinitionRecord{}, err
	}
	return def, nil
}

func scanDefinitionRow(rows *sql.Rows) (DefinitionRecord, error) {
	return scanDefinition(rows)
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run RunRecord) error {
	inputJSON, err := json.Marshal(run.Input)
	if err != nil {
		return err
	}
	outputJSON, err := json.Marshal(run.Output)
	if err != nil {
		return err
	}
	stateJSON, err := json.Marshal(run.EngineState)
	if err != nil {
		return err
	}
	now := time.Now()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, definition_id, workflow_version, user_id, org_id, input_json, status, output_json, error, engine_state_json, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.DefinitionID, run.WorkflowVersion, run.UserID, run.OrgID, string(inputJSON),
		run.Status, string(outputJSON), run.Error, string(stateJSON), now, now)
	return err
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (RunRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, definition_id, workflow_version, user_id, org_id, input_json, status, output_json, error, engine_state_json, created_at, updated_at
		 FROM runs WHERE id = ?`, id)
	return scanRun(row)
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, run RunRecord) error {
	inputJSON, err := json.Marshal(run.Input)
	if err != nil {
		return err
	}
	outputJSON, err := json.Marshal(run.Output)
	if err != nil {
		return err
	}
	stateJSON, err := json.Marshal(run.EngineState)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, output_json = ?, error = ?, engine_state_json = ?, input_json = ?, updated_at = ?
		 WHERE id = ?`,
		run.Status, string(outputJSON), run.Error, string(stateJSON), string(inputJSON), time.Now(), run.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) ListRunsByOrg(ctx context.Context, orgID string) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, definition_id, workflow_version, user_id, org_id, input_json, status, output_json, error, engine_state_json, created_at, updated_at
		 FROM runs WHERE org_id = ? ORDER BY created_at`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func scanRun(row rowScanner) (RunRecord, error) {
	var run RunRecord
	var inputJSON, outputJSON, stateJSON string
	if err := row.Scan(&run.ID, &run.DefinitionID, &run.WorkflowVersion, &run.UserID, &run.OrgID,
		&inputJSON, &run.Status, &outputJSON, &run.Error, &stateJSON, &run.CreatedAt, &run.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return RunRecord{}, ErrNotFound
		}
		return RunRecord{}, err
	}
	if inputJSON != "" {
		_ = json.Unmarshal([]byte(inputJSON), &run.Input)
	}
	if outputJSON != "" && outputJSON != "null" {
		_ = json.Unmarshal([]byte(outputJSON), &run.Output)
	}
	if stateJSON != "" && stateJSON != "null" {
		_ = json.Unmarshal([]byte(stateJSON), &run.EngineState)
	}
	return run, nil
}

// RunStoreView narrows SQLiteStore to RunStore under the interface's
// own method names.
func (s *SQLiteStore) RunStoreView() RunStore { return sqliteRunView{s} }

type sqliteRunView struct{ *SQLiteStore }

func (v sqliteRunView) Create(ctx context.Context, run RunRecord) error { return v.CreateRun(ctx, run) }
func (v sqliteRunView) Get(ctx context.Context, id string) (RunRecord, error) {
	return v.GetRun(ctx, id)
}
func (v sqliteRunView) Update(ctx context.Context, run RunRecord) error { return v.UpdateRun(ctx, run) }
func (v sqliteRunView) ListByOrg(ctx context.Context, orgID string) ([]RunRecord, error) {
	return v.ListRunsByOrg(ctx, orgID)
}
