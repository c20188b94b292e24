package directory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/atriumhq/atrium/internal/directory"
	"github.com/atriumhq/atrium/internal/logging"
	"github.com/atriumhq/atrium/pkg/models"
)

// storeFactories lets every test run against both implementations.
var storeFactories = map[string]func(t *testing.T) directory.Store{
	"memory": func(t *testing.T) directory.Store {
		return directory.NewMemoryStore()
	},
	"sqlite": func(t *testing.T) directory.Store {
		s, err := directory.OpenSQLite(":memory:", logging.Nop())
		if err != nil {
			t.Fatalf("OpenSQLite() error = %v", err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	},
}

func customAgent(tenant, slug string) *models.AgentDefinition {
	return &models.AgentDefinition{
		TenantID:     tenant,
		Slug:         slug,
		Name:         "Test Agent",
		SystemPrompt: "You are a test agent.",
		ToolNames:    []string{"sales_total"},
		Keywords:     []string{"test"},
		IsActive:     true,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	for name, factory := range storeFactories {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			dir := directory.New(factory(t), logging.Nop())

			if err := dir.CreateAgent(ctx, customAgent("acme", "helper")); err != nil {
				t.Fatalf("CreateAgent() error = %v", err)
			}

			agent, err := dir.GetAgentBySlug(ctx, "acme", "helper")
			if err != nil {
				t.Fatalf("GetAgentBySlug() error = %v", err)
			}
			if agent == nil {
				t.Fatal("GetAgentBySlug() = nil for existing agent")
			}
			if agent.Name != "Test Agent" || len(agent.ToolNames) != 1 {
				t.Errorf("agent round-trip mismatch: %+v", agent)
			}

			// Missing agent is nil, not an error.
			missing, err := dir.GetAgentBySlug(ctx, "acme", "ghost")
			if err != nil || missing != nil {
				t.Errorf("missing agent: got (%v, %v), want (nil, nil)", missing, err)
			}

			// Tenant isolation.
			other, err := dir.GetAgentBySlug(ctx, "globex", "helper")
			if err != nil || other != nil {
				t.Errorf("cross-tenant lookup: got (%v, %v), want (nil, nil)", other, err)
			}
		})
	}
}

func TestListAgentsFiltersInactive(t *testing.T) {
	for name, factory := range storeFactories {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			dir := directory.New(factory(t), logging.Nop())

			if err := dir.CreateAgent(ctx, customAgent("acme", "active-one")); err != nil {
				t.Fatalf("CreateAgent() error = %v", err)
			}
			dormant := customAgent("acme", "dormant")
			dormant.IsActive = false
			if err := dir.CreateAgent(ctx, dormant); err != nil {
				t.Fatalf("CreateAgent() error = %v", err)
			}

			active, err := dir.ListAgents(ctx, "acme")
			if err != nil {
				t.Fatalf("ListAgents() error = %v", err)
			}
			if len(active) != 1 || active[0].Slug != "active-one" {
				t.Errorf("ListAgents() = %+v, want only active-one", active)
			}

			all, err := dir.ListAllAgents(ctx, "acme")
			if err != nil {
				t.Fatalf("ListAllAgents() error = %v", err)
			}
			if len(all) != 2 {
				t.Errorf("ListAllAgents() returned %d agents, want 2", len(all))
			}
		})
	}
}

func TestTemplateAgentsCannotBeDeleted(t *testing.T) {
	for name, factory := range storeFactories {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			dir := directory.New(factory(t), logging.Nop())

			if err := dir.SeedTemplates(ctx, "acme"); err != nil {
				t.Fatalf("SeedTemplates() error = %v", err)
			}

			err := dir.DeleteAgent(ctx, "acme", "erp-analyst")
			if !errors.Is(err, directory.ErrTemplateDerived) {
				t.Fatalf("DeleteAgent(template) error = %v, want ErrTemplateDerived", err)
			}

			// Deactivation is the allowed path.
			if err := dir.Deactivate(ctx, "acme", "erp-analyst"); err != nil {
				t.Fatalf("Deactivate() error = %v", err)
			}
			agent, _ := dir.GetAgentBySlug(ctx, "acme", "erp-analyst")
			if agent == nil || agent.IsActive {
				t.Errorf("agent after Deactivate = %+v, want inactive but present", agent)
			}

			// Custom agents delete normally.
			if err := dir.CreateAgent(ctx, customAgent("acme", "custom")); err != nil {
				t.Fatalf("CreateAgent() error = %v", err)
			}
			if err := dir.DeleteAgent(ctx, "acme", "custom"); err != nil {
				t.Errorf("DeleteAgent(custom) error = %v", err)
			}
		})
	}
}

func TestSeedTemplatesIsIdempotent(t *testing.T) {
	ctx := context.Background()
	dir := directory.New(directory.NewMemoryStore(), logging.Nop())

	if err := dir.SeedTemplates(ctx, "acme"); err != nil {
		t.Fatalf("SeedTemplates() error = %v", err)
	}
	first, _ := dir.ListAgents(ctx, "acme")

	// Admin edit must survive a reseed.
	erp, _ := dir.GetAgentBySlug(ctx, "acme", "erp-analyst")
	erp.Name = "Renamed Analyst"
	if err := dir.UpdateAgent(ctx, erp); err != nil {
		t.Fatalf("UpdateAgent() error = %v", err)
	}

	if err := dir.SeedTemplates(ctx, "acme"); err != nil {
		t.Fatalf("SeedTemplates() second run error = %v", err)
	}
	second, _ := dir.ListAgents(ctx, "acme")
	if len(first) != len(second) {
		t.Errorf("reseed changed agent count: %d → %d", len(first), len(second))
	}
	erp, _ = dir.GetAgentBySlug(ctx, "acme", "erp-analyst")
	if erp.Name != "Renamed Analyst" {
		t.Errorf("reseed overwrote admin edit: name = %q", erp.Name)
	}
}

func TestValidation(t *testing.T) {
	ctx := context.Background()
	dir := directory.New(directory.NewMemoryStore(), logging.Nop())

	bad := customAgent("acme", "Bad Slug!")
	if err := dir.CreateAgent(ctx, bad); err == nil {
		t.Error("CreateAgent() accepted invalid slug")
	}

	noPrompt := customAgent("acme", "ok")
	noPrompt.SystemPrompt = ""
	if err := dir.CreateAgent(ctx, noPrompt); err == nil {
		t.Error("CreateAgent() accepted empty system prompt")
	}
}

func TestMergePrompt(t *testing.T) {
	if got := directory.MergePrompt("base", ""); got != "base" {
		t.Errorf("MergePrompt(base, empty) = %q", got)
	}
	if got := directory.MergePrompt("base", "tenant rules"); got != "base\n\ntenant rules" {
		t.Errorf("MergePrompt() = %q", got)
	}
}
