// Package contracts defines the collaborator interfaces consumed by the
// orchestration pipeline.
//
// The pipeline depends only on these interfaces; the repo ships reference
// implementations (sqlite directory, redis usage meter, HTTP transport)
// and tests substitute in-memory doubles. Swapping an implementation is a
// single line in the wiring code.
package contracts

import (
	"context"

	"github.com/atriumhq/atrium/pkg/models"
)

// ── Agent Directory ─────────────────────────────────────────

// AgentDirectory supplies agent definitions per tenant.
type AgentDirectory interface {
	// GetAgentBySlug returns the agent, or nil when no such agent exists.
	GetAgentBySlug(ctx context.Context, tenantID, slug string) (*models.AgentDefinition, error)

	// ListAgents returns all active agents for a tenant.
	ListAgents(ctx context.Context, tenantID string) ([]models.AgentDefinition, error)
}

// ── Tenant Context ──────────────────────────────────────────

// TenantContextProvider returns the tenant/company context block injected
// into composed instructions. An empty string means no block is emitted.
type TenantContextProvider interface {
	GetContextText(ctx context.Context, tenantID string) (string, error)
}

// ── Usage ───────────────────────────────────────────────────

// UsageService gates and accounts token consumption per tenant/user.
//
// CheckLimit is strict: it runs before any model or skill call and its
// error is the only fatal, caller-visible failure in the pipeline.
// TrackUsage is best-effort: commit failures are logged, never rolled
// back into an already-delivered answer.
type UsageService interface {
	CheckLimit(ctx context.Context, tenantID, userID string, estimatedTokens int64) error
	TrackUsage(ctx context.Context, tenantID, userID string, actualTokens int64) error
}

// ── Credentials ─────────────────────────────────────────────

// Credentials is a per-tenant secret set for a skill's backing system.
type Credentials struct {
	BaseURL  string
	Database string
	Username string
	APIKey   string
}

// Empty reports whether no usable credential material is present.
func (c Credentials) Empty() bool {
	return c.APIKey == "" && c.Username == ""
}

// CredentialResolver looks up per-tenant secrets for a named backing
// system.
type CredentialResolver interface {
	Resolve(ctx context.Context, tenantID, system string) (Credentials, error)
}

// ── Model Transport ─────────────────────────────────────────

// ModelTransport is the black-box call contract to the generative model.
// Implementations must honor ctx cancellation so no call outlives its
// request.
type ModelTransport interface {
	Complete(ctx context.Context, req *models.TransportRequest) (*models.TransportResponse, error)
}
