package directory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/atriumhq/atrium/internal/logging"
	"github.com/atriumhq/atrium/pkg/models"
)

// SQLiteStore persists agent definitions in a local SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	log *logging.Logger
}

// OpenSQLite opens (or creates) the database at path and runs migrations.
// Use ":memory:" for tests.
func OpenSQLite(path string, log *logging.Logger) (*SQLiteStore, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("creating db directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}

	// WAL improves concurrent read behavior under parallel requests.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, log: log.Sub("directory.sqlite")}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	s.log.Info().Str("path", path).Msg("agent directory opened")
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS agents (
			tenant_id            TEXT NOT NULL,
			slug                 TEXT NOT NULL,
			name                 TEXT NOT NULL,
			description          TEXT NOT NULL DEFAULT '',
			system_prompt        TEXT NOT NULL,
			merged_system_prompt TEXT NOT NULL,
			tool_names           TEXT NOT NULL DEFAULT '[]',
			keywords             TEXT NOT NULL DEFAULT '[]',
			rag_enabled          INTEGER NOT NULL DEFAULT 0,
			is_active            INTEGER NOT NULL DEFAULT 1,
			template_origin_id   TEXT,
			created_at           TEXT NOT NULL,
			updated_at           TEXT NOT NULL,
			PRIMARY KEY (tenant_id, slug)
		)
	`)
	return err
}

const agentColumns = `tenant_id, slug, name, description, system_prompt,
	merged_system_prompt, tool_names, keywords, rag_enabled, is_active,
	template_origin_id, created_at, updated_at`

func scanAgent(row interface{ Scan(...any) error }) (*models.AgentDefinition, error) {
	var (
		agent               models.AgentDefinition
		toolsJSON, kwJSON   string
		ragEnabled, active  int
		templateOrigin      sql.NullString
		createdAt, updated  string
	)
	err := row.Scan(&agent.TenantID, &agent.Slug, &agent.Name, &agent.Description,
		&agent.SystemPrompt, &agent.MergedSystemPrompt, &toolsJSON, &kwJSON,
		&ragEnabled, &active, &templateOrigin, &createdAt, &updated)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(toolsJSON), &agent.ToolNames); err != nil {
		return nil, fmt.Errorf("decode tool_names: %w", err)
	}
	if err := json.Unmarshal([]byte(kwJSON), &agent.Keywords); err != nil {
		return nil, fmt.Errorf("decode keywords: %w", err)
	}
	agent.RAGEnabled = ragEnabled != 0
	agent.IsActive = active != 0
	if templateOrigin.Valid {
		agent.TemplateOriginID = &templateOrigin.String
	}
	agent.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	agent.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	return &agent, nil
}

// GetAgent implements Store.
func (s *SQLiteStore) GetAgent(ctx context.Context, tenantID, slug string) (*models.AgentDefinition, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE tenant_id = ? AND slug = ?`,
		tenantID, slug)

	agent, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", tenantID, slug, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return agent, nil
}

// ListAgents implements Store.
func (s *SQLiteStore) ListAgents(ctx context.Context, tenantID string) ([]models.AgentDefinition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE tenant_id = ? ORDER BY slug`,
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []models.AgentDefinition
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("list agents: %w", err)
		}
		agents = append(agents, *agent)
	}
	return agents, rows.Err()
}

func encodeAgent(agent *models.AgentDefinition) (toolsJSON, kwJSON string, templateOrigin sql.NullString, err error) {
	tools, err := json.Marshal(orEmpty(agent.ToolNames))
	if err != nil {
		return "", "", sql.NullString{}, err
	}
	keywords, err := json.Marshal(orEmpty(agent.Keywords))
	if err != nil {
		return "", "", sql.NullString{}, err
	}
	if agent.TemplateOriginID != nil {
		templateOrigin = sql.NullString{String: *agent.TemplateOriginID, Valid: true}
	}
	return string(tools), string(keywords), templateOrigin, nil
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// CreateAgent implements Store.
func (s *SQLiteStore) CreateAgent(ctx context.Context, agent *models.AgentDefinition) error {
	toolsJSON, kwJSON, templateOrigin, err := encodeAgent(agent)
	if err != nil {
		return fmt.Errorf("encode agent: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agents (`+agentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		agent.TenantID, agent.Slug, agent.Name, agent.Description,
		agent.SystemPrompt, agent.MergedSystemPrompt, toolsJSON, kwJSON,
		boolInt(agent.RAGEnabled), boolInt(agent.IsActive), templateOrigin,
		agent.CreatedAt.UTC().Format(time.RFC3339), agent.UpdatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("create agent %s/%s: %w", agent.TenantID, agent.Slug, err)
	}
	return nil
}

// UpdateAgent implements Store.
func (s *SQLiteStore) UpdateAgent(ctx context.Context, agent *models.AgentDefinition) error {
	toolsJSON, kwJSON, templateOrigin, err := encodeAgent(agent)
	if err != nil {
		return fmt.Errorf("encode agent: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE agents SET name = ?, description = ?, system_prompt = ?,
			merged_system_prompt = ?, tool_names = ?, keywords = ?,
			rag_enabled = ?, is_active = ?, template_origin_id = ?, updated_at = ?
		WHERE tenant_id = ? AND slug = ?`,
		agent.Name, agent.Description, agent.SystemPrompt,
		agent.MergedSystemPrompt, toolsJSON, kwJSON,
		boolInt(agent.RAGEnabled), boolInt(agent.IsActive), templateOrigin,
		agent.UpdatedAt.UTC().Format(time.RFC3339),
		agent.TenantID, agent.Slug)
	if err != nil {
		return fmt.Errorf("update agent %s/%s: %w", agent.TenantID, agent.Slug, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s/%s: %w", agent.TenantID, agent.Slug, ErrNotFound)
	}
	return nil
}

// DeleteAgent implements Store.
func (s *SQLiteStore) DeleteAgent(ctx context.Context, tenantID, slug string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM agents WHERE tenant_id = ? AND slug = ?`, tenantID, slug)
	if err != nil {
		return fmt.Errorf("delete agent %s/%s: %w", tenantID, slug, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s/%s: %w", tenantID, slug, ErrNotFound)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
