package directory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/atriumhq/atrium/pkg/models"
)

// MemoryStore is a thread-safe in-memory Store, used by tests and
// zero-config local runs.
type MemoryStore struct {
	mu     sync.RWMutex
	agents map[string]*models.AgentDefinition // key: tenant + "/" + slug
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{agents: make(map[string]*models.AgentDefinition)}
}

func agentKey(tenantID, slug string) string {
	return tenantID + "/" + slug
}

// GetAgent implements Store.
func (s *MemoryStore) GetAgent(_ context.Context, tenantID, slug string) (*models.AgentDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agent, ok := s.agents[agentKey(tenantID, slug)]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", tenantID, slug, ErrNotFound)
	}
	copied := *agent
	return &copied, nil
}

// ListAgents implements Store.
func (s *MemoryStore) ListAgents(_ context.Context, tenantID string) ([]models.AgentDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []models.AgentDefinition
	for _, agent := range s.agents {
		if agent.TenantID == tenantID {
			result = append(result, *agent)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Slug < result[j].Slug })
	return result, nil
}

// CreateAgent implements Store.
func (s *MemoryStore) CreateAgent(_ context.Context, agent *models.AgentDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := agentKey(agent.TenantID, agent.Slug)
	if _, exists := s.agents[key]; exists {
		return fmt.Errorf("agent %s already exists", key)
	}
	copied := *agent
	s.agents[key] = &copied
	return nil
}

// UpdateAgent implements Store.
func (s *MemoryStore) UpdateAgent(_ context.Context, agent *models.AgentDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := agentKey(agent.TenantID, agent.Slug)
	if _, exists := s.agents[key]; !exists {
		return fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	copied := *agent
	s.agents[key] = &copied
	return nil
}

// DeleteAgent implements Store.
func (s *MemoryStore) DeleteAgent(_ context.Context, tenantID, slug string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := agentKey(tenantID, slug)
	if _, exists := s.agents[key]; !exists {
		return fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	delete(s.agents, key)
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }
