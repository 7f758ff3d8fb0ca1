package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLAuditStore is a MySQL/MariaDB-backed AuditStore, for
// deployments that already run a shared MySQL instance and want the
// audit trail queryable alongside other operational data rather than
// tailing log files.
//
// DSN format: [username[:password]@][protocol[(address)]]/dbname[?params]
// e.g. "user:password@tcp(127.0.0.1:3306)/workflows?parseTime=true"
type MySQLAuditStore struct {
	db *sql.DB
}

// NewMySQLAuditStore opens a pooled connection to dsn and ensures its
// schema exists.
func NewMySQLAuditStore(dsn string) (*MySQLAuditStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening mysql connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging mysql: %w", err)
	}

	s := &MySQLAuditStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *MySQLAuditStore) createTables(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS workflow_audit (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			run_id VARCHAR(255) NOT NULL,
			org_id VARCHAR(255) NOT NULL,
			user_id VARCHAR(255) NOT NULL,
			node_id VARCHAR(255) NOT NULL,
			node_type VARCHAR(64) NOT NULL,
			action VARCHAR(64) NOT NULL,
			args_redacted TEXT NOT NULL,
			error TEXT,
			recorded_at TIMESTAMP NOT NULL,
			INDEX idx_run_id (run_id),
			INDEX idx_org_id (org_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("creating audit schema: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *MySQLAuditStore) Close() error { return s.db.Close() }

func (s *MySQLAuditStore) Append(ctx context.Context, rec AuditRecord) error {
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workflow_audit (run_id, org_id, user_id, node_id, node_type, action, args_redacted, error, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.OrgID, rec.UserID, rec.NodeID, rec.NodeType, rec.Action, rec.ArgsRedacted, rec.Error, ts)
	return err
}

func (s *MySQLAuditStore) ListByRun(ctx context.Context, runID string) ([]AuditRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, org_id, user_id, node_id, node_type, action, args_redacted, error, recorded_at
		 FROM workflow_audit WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditRecord
	for rows.Next() {
		var rec AuditRecord
		var id int64
		var errCol sql.NullString
		if err := rows.Scan(&id, &rec.RunID, &rec.OrgID, &rec.UserID, &rec.NodeID, &rec.NodeType,
			&rec.Action, &rec.ArgsRedacted, &errCol, &rec.Timestamp); err != nil {
			return nil, err
		}
		rec.ID = fmt.Sprintf("%d", id)
		rec.Error = errCol.String
		out = append(out, rec)
	}
	return out, rows.Err()
}
