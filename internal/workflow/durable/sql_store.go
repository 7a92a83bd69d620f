package durable

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/linkflow-ai/linkflow-ai/internal/shared/apperrors"
	"github.com/linkflow-ai/linkflow-ai/internal/workflow/model"
)

// Dialect selects the placeholder style and upsert syntax of the backing SQL
// engine. Grounded on the teacher's two parallel *_repository/postgres
// packages (lib/pq, $N placeholders) and the mysql_node.go/go-sql-driver
// usage (? placeholders) found elsewhere in the stack — this store
// generalizes both into one implementation instead of a postgres-only one.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
)

// identifierPattern is the SQL-injection-safe allow-list of §4.6: a table
// name is only ever accepted if it matches this pattern, since it cannot be
// bound as a query parameter.
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLCheckpointStore persists checkpoints to a relational table with one row
// per job, upserted on every Save. Works against either PostgreSQL (via
// lib/pq) or MySQL (via go-sql-driver/mysql); the caller supplies an already
// -opened *sql.DB for whichever driver it registered.
type SQLCheckpointStore struct {
	db      *sql.DB
	dialect Dialect
	table   string
}

// NewSQLCheckpointStore validates the table name against the identifier
// allow-list before accepting it, so it can never be used to construct an
// injectable query even though database/sql has no placeholder syntax for
// table names.
func NewSQLCheckpointStore(db *sql.DB, dialect Dialect, table string) (*SQLCheckpointStore, error) {
	if !identifierPattern.MatchString(table) {
		return nil, fmt.Errorf("checkpoint table name %q is not a safe SQL identifier", table)
	}
	return &SQLCheckpointStore{db: db, dialect: dialect, table: table}, nil
}

type checkpointRow struct {
	ExecutedNodes []model.NodeID                          `json:"executed_nodes"`
	Variables     map[string]interface{}                  `json:"variables"`
	StepResults   map[model.NodeID]map[string]interface{} `json:"step_results"`
}

func (s *SQLCheckpointStore) placeholder(n int) string {
	if s.dialect == DialectMySQL {
		return "?"
	}
	return fmt.Sprintf("$%d", n)
}

func (s *SQLCheckpointStore) Load(ctx context.Context, jobID string) (*Checkpoint, error) {
	query := fmt.Sprintf(
		`SELECT job_id, workflow_id, state, payload, error, error_node_id, created_at, updated_at FROM %s WHERE job_id = %s`,
		s.table, s.placeholder(1),
	)

	var (
		cp          Checkpoint
		payloadJSON []byte
		errNodeID   sql.NullString
	)
	row := s.db.QueryRowContext(ctx, query, jobID)
	if err := row.Scan(&cp.JobID, &cp.WorkflowID, &cp.State, &payloadJSON, &cp.Error, &errNodeID, &cp.CreatedAt, &cp.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("load checkpoint %s: %w", jobID, err)
	}
	if errNodeID.Valid {
		cp.ErrorNodeID = model.NodeID(errNodeID.String)
	}

	var payload checkpointRow
	if err := json.Unmarshal(payloadJSON, &payload); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s payload: %w", jobID, err)
	}
	cp.ExecutedNodes = payload.ExecutedNodes
	cp.Variables = payload.Variables
	cp.StepResults = payload.StepResults

	return &cp, nil
}

func (s *SQLCheckpointStore) Save(ctx context.Context, cp *Checkpoint) error {
	payload, err := json.Marshal(checkpointRow{
		ExecutedNodes: cp.ExecutedNodes,
		Variables:     cp.Variables,
		StepResults:   cp.StepResults,
	})
	if err != nil {
		return fmt.Errorf("encode checkpoint payload: %w", err)
	}

	now := cp.UpdatedAt
	if now.IsZero() {
		now = time.Now()
	}

	var query string
	switch s.dialect {
	case DialectMySQL:
		query = fmt.Sprintf(`
			INSERT INTO %s (job_id, workflow_id, state, payload, error, error_node_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE state=VALUES(state), payload=VALUES(payload), error=VALUES(error), error_node_id=VALUES(error_node_id), updated_at=VALUES(updated_at)
		`, s.table)
	default:
		query = fmt.Sprintf(`
			INSERT INTO %s (job_id, workflow_id, state, payload, error, error_node_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (job_id) DO UPDATE SET state=EXCLUDED.state, payload=EXCLUDED.payload, error=EXCLUDED.error, error_node_id=EXCLUDED.error_node_id, updated_at=EXCLUDED.updated_at
		`, s.table)
	}

	_, err = s.db.ExecContext(ctx, query, cp.JobID, cp.WorkflowID, string(cp.State), payload, cp.Error, string(cp.ErrorNodeID), cp.CreatedAt, now)
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", cp.JobID, err)
	}
	return nil
}

func (s *SQLCheckpointStore) Delete(ctx context.Context, jobID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE job_id = %s`, s.table, s.placeholder(1))
	_, err := s.db.ExecContext(ctx, query, jobID)
	if err != nil {
		return fmt.Errorf("delete checkpoint %s: %w", jobID, err)
	}
	return nil
}
