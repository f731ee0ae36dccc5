// Package sqlitestore implements out.ToolStore on SQLite.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bnema/zerowrap"
	_ "modernc.org/sqlite"

	"github.com/bnema/toolshed/internal/boundaries/out"
	"github.com/bnema/toolshed/internal/domain"
)

// Ensure Store implements out.ToolStore.
var _ out.ToolStore = (*Store)(nil)

// Deployments keep their insertion order through the seq rowid alias.
const schema = `
CREATE TABLE IF NOT EXISTS tools (
	id TEXT PRIMARY KEY,
	payload BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS deployments (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	tool_id TEXT NOT NULL REFERENCES tools(id),
	id TEXT NOT NULL,
	state TEXT NOT NULL,
	payload BLOB NOT NULL,
	UNIQUE (tool_id, id)
);`

// Store persists tools in two tables: tool metadata and deployment records.
type Store struct {
	db  *sql.DB
	log zerowrap.Logger
}

// Open opens or creates the database at path.
func Open(path string, log zerowrap.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: sqlite store path is required", domain.ErrInvalidConfig)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("ensure tool store dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open tool store: %w", err)
	}
	// One connection serializes writers and keeps transactions simple.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000", schema} {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("initialize tool store: %w", err)
		}
	}

	log.Info().
		Str(zerowrap.FieldLayer, "adapter").
		Str(zerowrap.FieldAdapter, "sqlitestore").
		Str("path", path).
		Msg("tool store opened")

	return &Store{db: db, log: log}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ListToolIDs returns every tool id, sorted.
func (s *Store) ListToolIDs(ctx context.Context) ([]domain.ToolID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM tools ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	defer rows.Close()

	var ids []domain.ToolID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan tool id: %w", err)
		}
		ids = append(ids, domain.ToolID(id))
	}
	return ids, rows.Err()
}

// GetTool returns a tool with its deployments in insertion order.
func (s *Store) GetTool(ctx context.Context, id domain.ToolID) (*domain.Tool, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM tools WHERE id = ?`, string(id)).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrToolNotFound, id)
		}
		return nil, fmt.Errorf("get tool %s: %w", id, err)
	}

	var tool domain.Tool
	if err := json.Unmarshal(payload, &tool); err != nil {
		return nil, fmt.Errorf("decode tool %s: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM deployments WHERE tool_id = ? ORDER BY seq ASC`, string(id))
	if err != nil {
		return nil, fmt.Errorf("list deployments of %s: %w", id, err)
	}
	defer rows.Close()

	tool.Deployments = nil
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan deployment: %w", err)
		}
		var d domain.ToolDeployment
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, fmt.Errorf("decode deployment of %s: %w", id, err)
		}
		tool.Deployments = append(tool.Deployments, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &tool, nil
}

// PutTool creates or updates tool metadata. Deployment rows are untouched.
func (s *Store) PutTool(ctx context.Context, tool *domain.Tool) error {
	meta := tool.Clone()
	meta.Deployments = nil
	payload, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode tool %s: %w", tool.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO tools (id, payload) VALUES (?, ?)
ON CONFLICT(id) DO UPDATE SET payload = excluded.payload`, string(tool.ID), payload)
	if err != nil {
		return fmt.Errorf("put tool %s: %w", tool.ID, err)
	}
	return nil
}

// AppendDeployment appends a deployment record.
func (s *Store) AppendDeployment(ctx context.Context, id domain.ToolID, deployment domain.ToolDeployment) error {
	payload, err := json.Marshal(deployment)
	if err != nil {
		return fmt.Errorf("encode deployment %s: %w", deployment.ID, err)
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := toolExists(ctx, tx, id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
INSERT INTO deployments (tool_id, id, state, payload) VALUES (?, ?, ?, ?)
ON CONFLICT(tool_id, id) DO NOTHING`, string(id), string(deployment.ID), string(deployment.State), payload)
		if err != nil {
			return fmt.Errorf("append deployment %s: %w", deployment.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: duplicate deployment id %s", domain.ErrDeploymentConflict, deployment.ID)
		}
		return nil
	})
}

// CompareAndSwapDeployment replaces a deployment if its stored state equals expected.
func (s *Store) CompareAndSwapDeployment(ctx context.Context, id domain.ToolID, deployment domain.ToolDeployment, expected domain.ToolDeploymentState) error {
	payload, err := json.Marshal(deployment)
	if err != nil {
		return fmt.Errorf("encode deployment %s: %w", deployment.ID, err)
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE deployments SET state = ?, payload = ?
WHERE tool_id = ? AND id = ? AND state = ?`,
			string(deployment.State), payload, string(id), string(deployment.ID), string(expected))
		if err != nil {
			return fmt.Errorf("update deployment %s: %w", deployment.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			return nil
		}

		if err := toolExists(ctx, tx, id); err != nil {
			return err
		}
		var state string
		err = tx.QueryRowContext(ctx, `SELECT state FROM deployments WHERE tool_id = ? AND id = ?`,
			string(id), string(deployment.ID)).Scan(&state)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", domain.ErrDeploymentNotFound, deployment.ID)
		}
		if err != nil {
			return fmt.Errorf("read deployment %s: %w", deployment.ID, err)
		}
		return fmt.Errorf("%w: %s is %s, expected %s", domain.ErrDeploymentConflict, deployment.ID, state, expected)
	})
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func toolExists(ctx context.Context, tx *sql.Tx, id domain.ToolID) error {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM tools WHERE id = ?`, string(id)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", domain.ErrToolNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("check tool %s: %w", id, err)
	}
	return nil
}
