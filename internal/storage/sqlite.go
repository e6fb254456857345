package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/iacgraph/depgraph/internal/models"
)

// SQLiteStore implements Store using SQLite, for local development and
// single-node deployments. Same table shapes as PostgresStore, with the
// placeholder style and upsert syntax SQLite actually supports.
type SQLiteStore struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewSQLiteStore opens (creating if needed) a SQLite database at path.
func NewSQLiteStore(path string, logger *logrus.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("connect to sqlite: %w", err)
	}

	db.Exec("PRAGMA foreign_keys = ON")
	db.Exec("PRAGMA journal_mode = WAL")

	store := &SQLiteStore{db: db, logger: logger}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS scans (
		scan_id TEXT PRIMARY KEY,
		repository_id TEXT NOT NULL,
		graph_json BLOB NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS rollup_configs (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL,
		config_json BLOB NOT NULL,
		version INTEGER NOT NULL,
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS rollup_executions (
		id TEXT PRIMARY KEY,
		rollup_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		execution_json BLOB NOT NULL,
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS external_object_entries (
		external_id TEXT NOT NULL,
		reference_type TEXT NOT NULL,
		normalized_id TEXT NOT NULL,
		components_json BLOB,
		tenant_id TEXT NOT NULL,
		repository_id TEXT NOT NULL,
		scan_id TEXT NOT NULL,
		node_id TEXT NOT NULL,
		node_name TEXT,
		node_kind TEXT,
		file_path TEXT,
		metadata_json BLOB,
		indexed_at DATETIME NOT NULL,
		PRIMARY KEY (tenant_id, scan_id, node_id, reference_type, normalized_id)
	);

	CREATE INDEX IF NOT EXISTS idx_scans_repo ON scans(repository_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_rollup_configs_tenant ON rollup_configs(tenant_id);
	CREATE INDEX IF NOT EXISTS idx_rollup_executions_rollup ON rollup_executions(tenant_id, rollup_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_entries_normalized ON external_object_entries(tenant_id, normalized_id);
	CREATE INDEX IF NOT EXISTS idx_entries_node ON external_object_entries(tenant_id, node_id, scan_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveGraph(ctx context.Context, graph *models.DependencyGraph, repositoryID string) error {
	data, err := json.Marshal(graph)
	if err != nil {
		return fmt.Errorf("marshal graph: %w", err)
	}
	query := `
		INSERT INTO scans (scan_id, repository_id, graph_json, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (scan_id) DO UPDATE SET graph_json = excluded.graph_json
	`
	_, err = s.db.ExecContext(ctx, query, graph.ScanID, repositoryID, data, time.Now())
	if err != nil {
		return fmt.Errorf("save graph: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetGraph(ctx context.Context, scanID string) (*models.DependencyGraph, error) {
	var data []byte
	query := `SELECT graph_json FROM scans WHERE scan_id = ?`
	if err := s.db.GetContext(ctx, &data, query, scanID); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get graph: %w", err)
	}
	var graph models.DependencyGraph
	if err := json.Unmarshal(data, &graph); err != nil {
		return nil, fmt.Errorf("unmarshal graph: %w", err)
	}
	return &graph, nil
}

func (s *SQLiteStore) GetLatestGraph(ctx context.Context, repositoryID string) (*models.DependencyGraph, error) {
	var data []byte
	query := `SELECT graph_json FROM scans WHERE repository_id = ? ORDER BY created_at DESC LIMIT 1`
	if err := s.db.GetContext(ctx, &data, query, repositoryID); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get latest graph: %w", err)
	}
	var graph models.DependencyGraph
	if err := json.Unmarshal(data, &graph); err != nil {
		return nil, fmt.Errorf("unmarshal graph: %w", err)
	}
	return &graph, nil
}

// Rollup config operations

func (s *SQLiteStore) SaveRollupConfig(ctx context.Context, cfg *models.RollupConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal rollup config: %w", err)
	}

	if cfg.Version > 1 {
		query := `
			UPDATE rollup_configs
			SET name = ?, config_json = ?, version = ?, status = ?, updated_at = ?
			WHERE id = ? AND version = ?
		`
		result, err := s.db.ExecContext(ctx, query, cfg.Name, data, cfg.Version, string(cfg.Status), cfg.UpdatedAt, cfg.ID, cfg.Version-1)
		if err != nil {
			return fmt.Errorf("save rollup config: %w", err)
		}
		if affected, _ := result.RowsAffected(); affected == 0 {
			return ErrConflict
		}
		return nil
	}

	query := `
		INSERT INTO rollup_configs (id, tenant_id, name, config_json, version, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name, config_json = excluded.config_json,
			version = excluded.version, status = excluded.status, updated_at = excluded.updated_at
	`
	_, err = s.db.ExecContext(ctx, query, cfg.ID, cfg.TenantID, cfg.Name, data, cfg.Version, string(cfg.Status), cfg.CreatedAt, cfg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save rollup config: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetRollupConfig(ctx context.Context, tenantID, rollupID string) (*models.RollupConfig, error) {
	var data []byte
	query := `SELECT config_json FROM rollup_configs WHERE tenant_id = ? AND id = ?`
	if err := s.db.GetContext(ctx, &data, query, tenantID, rollupID); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get rollup config: %w", err)
	}
	var cfg models.RollupConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal rollup config: %w", err)
	}
	return &cfg, nil
}

func (s *SQLiteStore) ListRollupConfigs(ctx context.Context, tenantID string) ([]*models.RollupConfig, error) {
	var rows [][]byte
	query := `SELECT config_json FROM rollup_configs WHERE tenant_id = ? ORDER BY created_at DESC`
	if err := s.db.SelectContext(ctx, &rows, query, tenantID); err != nil {
		return nil, fmt.Errorf("list rollup configs: %w", err)
	}
	out := make([]*models.RollupConfig, 0, len(rows))
	for _, data := range rows {
		var cfg models.RollupConfig
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal rollup config: %w", err)
		}
		out = append(out, &cfg)
	}
	return out, nil
}

// Rollup execution operations

func (s *SQLiteStore) SaveRollupExecution(ctx context.Context, execution *models.RollupExecution) error {
	data, err := json.Marshal(execution)
	if err != nil {
		return fmt.Errorf("marshal rollup execution: %w", err)
	}
	query := `
		INSERT INTO rollup_executions (id, rollup_id, tenant_id, execution_json, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET execution_json = excluded.execution_json, status = excluded.status
	`
	_, err = s.db.ExecContext(ctx, query, execution.ID, execution.RollupID, execution.TenantID, data, string(execution.Status), execution.CreatedAt)
	if err != nil {
		return fmt.Errorf("save rollup execution: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetRollupExecution(ctx context.Context, tenantID, executionID string) (*models.RollupExecution, error) {
	var data []byte
	query := `SELECT execution_json FROM rollup_executions WHERE tenant_id = ? AND id = ?`
	if err := s.db.GetContext(ctx, &data, query, tenantID, executionID); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get rollup execution: %w", err)
	}
	var execution models.RollupExecution
	if err := json.Unmarshal(data, &execution); err != nil {
		return nil, fmt.Errorf("unmarshal rollup execution: %w", err)
	}
	return &execution, nil
}

func (s *SQLiteStore) ListRollupExecutions(ctx context.Context, tenantID, rollupID string, limit int) ([]*models.RollupExecution, error) {
	var rows [][]byte
	query := `SELECT execution_json FROM rollup_executions WHERE tenant_id = ? AND rollup_id = ? ORDER BY created_at DESC LIMIT ?`
	if err := s.db.SelectContext(ctx, &rows, query, tenantID, rollupID, limit); err != nil {
		return nil, fmt.Errorf("list rollup executions: %w", err)
	}
	out := make([]*models.RollupExecution, 0, len(rows))
	for _, data := range rows {
		var execution models.RollupExecution
		if err := json.Unmarshal(data, &execution); err != nil {
			return nil, fmt.Errorf("unmarshal rollup execution: %w", err)
		}
		out = append(out, &execution)
	}
	return out, nil
}

// External Object Index operations

func (s *SQLiteStore) PutEntries(ctx context.Context, entries []models.ExternalObjectEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO external_object_entries (
			external_id, reference_type, normalized_id, components_json,
			tenant_id, repository_id, scan_id, node_id, node_name, node_kind,
			file_path, metadata_json, indexed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, scan_id, node_id, reference_type, normalized_id) DO UPDATE SET
			indexed_at = excluded.indexed_at
	`

	for _, entry := range entries {
		components, err := json.Marshal(entry.Components)
		if err != nil {
			return fmt.Errorf("marshal components for %s: %w", entry.ExternalID, err)
		}
		metadata, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata for %s: %w", entry.ExternalID, err)
		}
		_, err = tx.ExecContext(ctx, query,
			entry.ExternalID, string(entry.ReferenceType), entry.NormalizedID, components,
			entry.TenantID, entry.RepositoryID, entry.ScanID, entry.NodeID, entry.NodeName, string(entry.NodeKind),
			entry.FilePath, metadata, entry.IndexedAt)
		if err != nil {
			return fmt.Errorf("put entry %s: %w", entry.ExternalID, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) FindByExternalID(ctx context.Context, tenantID, normalizedID string, referenceType *models.ReferenceType, repositoryIDs []string, limit, offset int) ([]models.ExternalObjectEntry, error) {
	query := `
		SELECT external_id, reference_type, normalized_id, components_json,
			tenant_id, repository_id, scan_id, node_id, node_name, node_kind,
			file_path, metadata_json, indexed_at
		FROM external_object_entries
		WHERE tenant_id = ? AND normalized_id = ?
	`
	args := []interface{}{tenantID, normalizedID}
	if referenceType != nil {
		query += " AND reference_type = ?"
		args = append(args, string(*referenceType))
	}
	if len(repositoryIDs) > 0 {
		inClause, inArgs, err := sqlx.In(" AND repository_id IN (?)", repositoryIDs)
		if err != nil {
			return nil, fmt.Errorf("build repository filter: %w", err)
		}
		query += inClause
		args = append(args, inArgs...)
	}
	query += " ORDER BY indexed_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryxContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("find by external id: %w", err)
	}
	defer rows.Close()
	return scanEntryRows(rows)
}

func (s *SQLiteStore) FindByNodeID(ctx context.Context, tenantID, nodeID, scanID string) ([]models.ExternalObjectEntry, error) {
	query := `
		SELECT external_id, reference_type, normalized_id, components_json,
			tenant_id, repository_id, scan_id, node_id, node_name, node_kind,
			file_path, metadata_json, indexed_at
		FROM external_object_entries
		WHERE tenant_id = ? AND node_id = ? AND scan_id = ?
	`
	rows, err := s.db.QueryxContext(ctx, query, tenantID, nodeID, scanID)
	if err != nil {
		return nil, fmt.Errorf("find by node id: %w", err)
	}
	defer rows.Close()
	return scanEntryRows(rows)
}
