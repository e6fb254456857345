package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/iacgraph/depgraph/internal/models"
)

// PostgresStore implements Store using PostgreSQL. Graphs are stored as
// one JSONB document per scan (the Detection Engine's output is a tree
// of nodes/edges read and written as a unit, never queried by individual
// node outside of a loaded graph), while rollup configs, executions, and
// External Object Index entries get real columns since those are
// queried by their own keys.
type PostgresStore struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewPostgresStore creates a new PostgreSQL storage backend.
func NewPostgresStore(dsn string, logger *logrus.Logger) (*PostgresStore, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresStore{db: db, logger: logger}, nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// scanRow is the wire shape of the scans table.
type scanRow struct {
	ScanID       string `db:"scan_id"`
	RepositoryID string `db:"repository_id"`
	GraphJSON    []byte `db:"graph_json"`
	CreatedAt    time.Time `db:"created_at"`
}

func (s *PostgresStore) SaveGraph(ctx context.Context, graph *models.DependencyGraph, repositoryID string) error {
	data, err := json.Marshal(graph)
	if err != nil {
		return fmt.Errorf("marshal graph: %w", err)
	}

	query := `
		INSERT INTO scans (scan_id, repository_id, graph_json, created_at)
		VALUES (:scan_id, :repository_id, :graph_json, :created_at)
		ON CONFLICT (scan_id) DO UPDATE SET
			graph_json = EXCLUDED.graph_json
	`
	row := scanRow{ScanID: graph.ScanID, RepositoryID: repositoryID, GraphJSON: data, CreatedAt: time.Now()}
	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("save graph: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetGraph(ctx context.Context, scanID string) (*models.DependencyGraph, error) {
	var row scanRow
	query := `SELECT * FROM scans WHERE scan_id = $1`
	if err := s.db.GetContext(ctx, &row, query, scanID); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get graph: %w", err)
	}
	var graph models.DependencyGraph
	if err := json.Unmarshal(row.GraphJSON, &graph); err != nil {
		return nil, fmt.Errorf("unmarshal graph: %w", err)
	}
	return &graph, nil
}

func (s *PostgresStore) GetLatestGraph(ctx context.Context, repositoryID string) (*models.DependencyGraph, error) {
	var row scanRow
	query := `SELECT * FROM scans WHERE repository_id = $1 ORDER BY created_at DESC LIMIT 1`
	if err := s.db.GetContext(ctx, &row, query, repositoryID); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get latest graph: %w", err)
	}
	var graph models.DependencyGraph
	if err := json.Unmarshal(row.GraphJSON, &graph); err != nil {
		return nil, fmt.Errorf("unmarshal graph: %w", err)
	}
	return &graph, nil
}

// Rollup config operations

type rollupConfigRow struct {
	ID           string    `db:"id"`
	TenantID     string    `db:"tenant_id"`
	Name         string    `db:"name"`
	ConfigJSON   []byte    `db:"config_json"`
	Version      int       `db:"version"`
	Status       string    `db:"status"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func toRollupConfigRow(cfg *models.RollupConfig) (rollupConfigRow, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return rollupConfigRow{}, err
	}
	return rollupConfigRow{
		ID: cfg.ID, TenantID: cfg.TenantID, Name: cfg.Name, ConfigJSON: data,
		Version: cfg.Version, Status: string(cfg.Status), CreatedAt: cfg.CreatedAt, UpdatedAt: cfg.UpdatedAt,
	}, nil
}

func (s *PostgresStore) SaveRollupConfig(ctx context.Context, cfg *models.RollupConfig) error {
	row, err := toRollupConfigRow(cfg)
	if err != nil {
		return fmt.Errorf("marshal rollup config: %w", err)
	}
	query := `
		INSERT INTO rollup_configs (id, tenant_id, name, config_json, version, status, created_at, updated_at)
		VALUES (:id, :tenant_id, :name, :config_json, :version, :status, :created_at, :updated_at)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			config_json = EXCLUDED.config_json,
			version = EXCLUDED.version,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
		WHERE rollup_configs.version = :version - 1
	`
	result, err := s.db.NamedExecContext(ctx, query, row)
	if err != nil {
		return fmt.Errorf("save rollup config: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 && cfg.Version > 1 {
		return ErrConflict
	}
	return nil
}

func (s *PostgresStore) GetRollupConfig(ctx context.Context, tenantID, rollupID string) (*models.RollupConfig, error) {
	var row rollupConfigRow
	query := `SELECT * FROM rollup_configs WHERE tenant_id = $1 AND id = $2`
	if err := s.db.GetContext(ctx, &row, query, tenantID, rollupID); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get rollup config: %w", err)
	}
	var cfg models.RollupConfig
	if err := json.Unmarshal(row.ConfigJSON, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal rollup config: %w", err)
	}
	return &cfg, nil
}

func (s *PostgresStore) ListRollupConfigs(ctx context.Context, tenantID string) ([]*models.RollupConfig, error) {
	var rows []rollupConfigRow
	query := `SELECT * FROM rollup_configs WHERE tenant_id = $1 ORDER BY created_at DESC`
	if err := s.db.SelectContext(ctx, &rows, query, tenantID); err != nil {
		return nil, fmt.Errorf("list rollup configs: %w", err)
	}
	out := make([]*models.RollupConfig, 0, len(rows))
	for _, row := range rows {
		var cfg models.RollupConfig
		if err := json.Unmarshal(row.ConfigJSON, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal rollup config %s: %w", row.ID, err)
		}
		out = append(out, &cfg)
	}
	return out, nil
}

// Rollup execution operations

type rollupExecutionRow struct {
	ID            string    `db:"id"`
	RollupID      string    `db:"rollup_id"`
	TenantID      string    `db:"tenant_id"`
	ExecutionJSON []byte    `db:"execution_json"`
	Status        string    `db:"status"`
	CreatedAt     time.Time `db:"created_at"`
}

func (s *PostgresStore) SaveRollupExecution(ctx context.Context, execution *models.RollupExecution) error {
	data, err := json.Marshal(execution)
	if err != nil {
		return fmt.Errorf("marshal rollup execution: %w", err)
	}
	row := rollupExecutionRow{
		ID: execution.ID, RollupID: execution.RollupID, TenantID: execution.TenantID,
		ExecutionJSON: data, Status: string(execution.Status), CreatedAt: execution.CreatedAt,
	}
	query := `
		INSERT INTO rollup_executions (id, rollup_id, tenant_id, execution_json, status, created_at)
		VALUES (:id, :rollup_id, :tenant_id, :execution_json, :status, :created_at)
		ON CONFLICT (id) DO UPDATE SET
			execution_json = EXCLUDED.execution_json,
			status = EXCLUDED.status
	`
	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("save rollup execution: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRollupExecution(ctx context.Context, tenantID, executionID string) (*models.RollupExecution, error) {
	var row rollupExecutionRow
	query := `SELECT * FROM rollup_executions WHERE tenant_id = $1 AND id = $2`
	if err := s.db.GetContext(ctx, &row, query, tenantID, executionID); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get rollup execution: %w", err)
	}
	var execution models.RollupExecution
	if err := json.Unmarshal(row.ExecutionJSON, &execution); err != nil {
		return nil, fmt.Errorf("unmarshal rollup execution: %w", err)
	}
	return &execution, nil
}

func (s *PostgresStore) ListRollupExecutions(ctx context.Context, tenantID, rollupID string, limit int) ([]*models.RollupExecution, error) {
	var rows []rollupExecutionRow
	query := `SELECT * FROM rollup_executions WHERE tenant_id = $1 AND rollup_id = $2 ORDER BY created_at DESC LIMIT $3`
	if err := s.db.SelectContext(ctx, &rows, query, tenantID, rollupID, limit); err != nil {
		return nil, fmt.Errorf("list rollup executions: %w", err)
	}
	out := make([]*models.RollupExecution, 0, len(rows))
	for _, row := range rows {
		var execution models.RollupExecution
		if err := json.Unmarshal(row.ExecutionJSON, &execution); err != nil {
			return nil, fmt.Errorf("unmarshal rollup execution %s: %w", row.ID, err)
		}
		out = append(out, &execution)
	}
	return out, nil
}

// External Object Index operations

func (s *PostgresStore) PutEntries(ctx context.Context, entries []models.ExternalObjectEntry) error {
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
		) VALUES (
			:external_id, :reference_type, :normalized_id, :components_json,
			:tenant_id, :repository_id, :scan_id, :node_id, :node_name, :node_kind,
			:file_path, :metadata_json, :indexed_at
		)
		ON CONFLICT (tenant_id, scan_id, node_id, reference_type, normalized_id) DO UPDATE SET
			indexed_at = EXCLUDED.indexed_at
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
		params := map[string]interface{}{
			"external_id": entry.ExternalID, "reference_type": string(entry.ReferenceType),
			"normalized_id": entry.NormalizedID, "components_json": components,
			"tenant_id": entry.TenantID, "repository_id": entry.RepositoryID, "scan_id": entry.ScanID,
			"node_id": entry.NodeID, "node_name": entry.NodeName, "node_kind": string(entry.NodeKind),
			"file_path": entry.FilePath, "metadata_json": metadata, "indexed_at": entry.IndexedAt,
		}
		if _, err := tx.NamedExecContext(ctx, query, params); err != nil {
			return fmt.Errorf("put entry %s: %w", entry.ExternalID, err)
		}
	}

	return tx.Commit()
}

func (s *PostgresStore) FindByExternalID(ctx context.Context, tenantID, normalizedID string, referenceType *models.ReferenceType, repositoryIDs []string, limit, offset int) ([]models.ExternalObjectEntry, error) {
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

func (s *PostgresStore) FindByNodeID(ctx context.Context, tenantID, nodeID, scanID string) ([]models.ExternalObjectEntry, error) {
	query := `
		SELECT external_id, reference_type, normalized_id, components_json,
			tenant_id, repository_id, scan_id, node_id, node_name, node_kind,
			file_path, metadata_json, indexed_at
		FROM external_object_entries
		WHERE tenant_id = $1 AND node_id = $2 AND scan_id = $3
	`
	rows, err := s.db.QueryxContext(ctx, query, tenantID, nodeID, scanID)
	if err != nil {
		return nil, fmt.Errorf("find by node id: %w", err)
	}
	defer rows.Close()
	return scanEntryRows(rows)
}

func scanEntryRows(rows *sqlx.Rows) ([]models.ExternalObjectEntry, error) {
	var out []models.ExternalObjectEntry
	for rows.Next() {
		var (
			entry          models.ExternalObjectEntry
			referenceType  string
			nodeKind       string
			componentsJSON []byte
			metadataJSON   []byte
		)
		if err := rows.Scan(
			&entry.ExternalID, &referenceType, &entry.NormalizedID, &componentsJSON,
			&entry.TenantID, &entry.RepositoryID, &entry.ScanID, &entry.NodeID, &entry.NodeName, &nodeKind,
			&entry.FilePath, &metadataJSON, &entry.IndexedAt,
		); err != nil {
			return nil, fmt.Errorf("scan external object entry: %w", err)
		}
		entry.ReferenceType = models.ReferenceType(referenceType)
		entry.NodeKind = models.NodeKind(nodeKind)
		if len(componentsJSON) > 0 {
			if err := json.Unmarshal(componentsJSON, &entry.Components); err != nil {
				return nil, fmt.Errorf("unmarshal components: %w", err)
			}
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}
