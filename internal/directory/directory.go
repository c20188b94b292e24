// Package directory manages per-tenant agent definitions. The pipeline
// consumes it through contracts.AgentDirectory; admin handlers use the
// richer surface for create/update/deactivate.
package directory

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/atriumhq/atrium/internal/logging"
	"github.com/atriumhq/atrium/pkg/models"
)

// ErrNotFound is returned by store lookups for missing agents.
var ErrNotFound = errors.New("agent not found")

// ErrTemplateDerived rejects physical deletion of agents seeded from a
// platform template. Such agents may only be deactivated.
var ErrTemplateDerived = errors.New("template-derived agent: deactivate instead of delete")

// Store is the persistence surface behind the directory. The sqlite
// implementation serves production; the memory implementation serves
// tests.
type Store interface {
	GetAgent(ctx context.Context, tenantID, slug string) (*models.AgentDefinition, error)
	ListAgents(ctx context.Context, tenantID string) ([]models.AgentDefinition, error)
	CreateAgent(ctx context.Context, agent *models.AgentDefinition) error
	UpdateAgent(ctx context.Context, agent *models.AgentDefinition) error
	DeleteAgent(ctx context.Context, tenantID, slug string) error
	Close() error
}

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// Directory wraps a Store with validation, the template deletion rule
// and per-tenant template seeding.
type Directory struct {
	store Store
	log   *logging.Logger
}

// New creates a directory over the given store.
func New(store Store, log *logging.Logger) *Directory {
	return &Directory{store: store, log: log.Sub("directory")}
}

// GetAgentBySlug implements contracts.AgentDirectory. A missing agent is
// a nil result, not an error.
func (d *Directory) GetAgentBySlug(ctx context.Context, tenantID, slug string) (*models.AgentDefinition, error) {
	agent, err := d.store.GetAgent(ctx, tenantID, slug)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return agent, nil
}

// ListAgents implements contracts.AgentDirectory, returning active agents
// only.
func (d *Directory) ListAgents(ctx context.Context, tenantID string) ([]models.AgentDefinition, error) {
	all, err := d.store.ListAgents(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	active := all[:0]
	for _, a := range all {
		if a.IsActive {
			active = append(active, a)
		}
	}
	return active, nil
}

// ListAllAgents returns every agent for the tenant, inactive included.
// Used by the admin surface.
func (d *Directory) ListAllAgents(ctx context.Context, tenantID string) ([]models.AgentDefinition, error) {
	return d.store.ListAgents(ctx, tenantID)
}

// MergePrompt combines an agent's own system prompt with the tenant's
// augmentation text.
func MergePrompt(systemPrompt, augmentation string) string {
	augmentation = strings.TrimSpace(augmentation)
	if augmentation == "" {
		return systemPrompt
	}
	return systemPrompt + "\n\n" + augmentation
}

// CreateAgent validates and stores a new agent definition.
func (d *Directory) CreateAgent(ctx context.Context, agent *models.AgentDefinition) error {
	if err := validate(agent); err != nil {
		return err
	}
	now := time.Now().UTC()
	agent.CreatedAt = now
	agent.UpdatedAt = now
	if agent.MergedSystemPrompt == "" {
		agent.MergedSystemPrompt = agent.SystemPrompt
	}
	if err := d.store.CreateAgent(ctx, agent); err != nil {
		return err
	}
	d.log.Info().Str("tenant", agent.TenantID).Str("slug", agent.Slug).Msg("agent created")
	return nil
}

// UpdateAgent validates and persists changes to an existing agent.
func (d *Directory) UpdateAgent(ctx context.Context, agent *models.AgentDefinition) error {
	if err := validate(agent); err != nil {
		return err
	}
	agent.UpdatedAt = time.Now().UTC()
	if agent.MergedSystemPrompt == "" {
		agent.MergedSystemPrompt = agent.SystemPrompt
	}
	return d.store.UpdateAgent(ctx, agent)
}

// DeleteAgent removes an agent. Template-derived agents are never
// physically removed: the call fails with ErrTemplateDerived and the
// caller should deactivate via UpdateAgent instead.
func (d *Directory) DeleteAgent(ctx context.Context, tenantID, slug string) error {
	agent, err := d.store.GetAgent(ctx, tenantID, slug)
	if err != nil {
		return err
	}
	if agent.TemplateOriginID != nil {
		return fmt.Errorf("%s: %w", slug, ErrTemplateDerived)
	}
	return d.store.DeleteAgent(ctx, tenantID, slug)
}

// Deactivate marks an agent inactive without removing it.
func (d *Directory) Deactivate(ctx context.Context, tenantID, slug string) error {
	agent, err := d.store.GetAgent(ctx, tenantID, slug)
	if err != nil {
		return err
	}
	agent.IsActive = false
	agent.UpdatedAt = time.Now().UTC()
	return d.store.UpdateAgent(ctx, agent)
}

func validate(agent *models.AgentDefinition) error {
	if agent.TenantID == "" {
		return fmt.Errorf("agent %s: tenant id is required", agent.Slug)
	}
	if !slugPattern.MatchString(agent.Slug) {
		return fmt.Errorf("invalid agent slug %q", agent.Slug)
	}
	if agent.Name == "" {
		return fmt.Errorf("agent %s: name is required", agent.Slug)
	}
	if agent.SystemPrompt == "" {
		return fmt.Errorf("agent %s: system prompt is required", agent.Slug)
	}
	return nil
}
