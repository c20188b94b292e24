// Package resolver serves per-tenant context text and backing-system
// credentials from configured tenant profiles. It implements both
// contracts.CredentialResolver and contracts.TenantContextProvider.
package resolver

import (
	"context"
	"fmt"

	"github.com/atriumhq/atrium/internal/config"
	"github.com/atriumhq/atrium/pkg/contracts"
)

// Resolver answers credential and context lookups from static profile
// configuration. Profiles are read-only after Load, so no locking.
type Resolver struct {
	defaults config.ERPConfig
	tenants  map[string]config.TenantProfile
}

func New(cfg *config.Config) *Resolver {
	return &Resolver{defaults: cfg.ERP, tenants: cfg.Tenants}
}

// Resolve returns the tenant's credentials for the named system,
// falling back to the deployment defaults field by field.
func (r *Resolver) Resolve(_ context.Context, tenantID, system string) (contracts.Credentials, error) {
	if system != "erp" {
		return contracts.Credentials{}, fmt.Errorf("resolver: unknown system %q", system)
	}
	erp := r.defaults
	if profile, ok := r.tenants[tenantID]; ok {
		erp = merge(erp, profile.ERP)
	}
	return contracts.Credentials{
		BaseURL:  erp.BaseURL,
		Database: erp.Database,
		Username: erp.Username,
		APIKey:   erp.APIKey,
	}, nil
}

// GetContextText returns the tenant's company context block, empty when
// no profile declares one.
func (r *Resolver) GetContextText(_ context.Context, tenantID string) (string, error) {
	if profile, ok := r.tenants[tenantID]; ok {
		return profile.ContextText, nil
	}
	return "", nil
}

func merge(base, override config.ERPConfig) config.ERPConfig {
	if override.BaseURL != "" {
		base.BaseURL = override.BaseURL
	}
	if override.Database != "" {
		base.Database = override.Database
	}
	if override.Username != "" {
		base.Username = override.Username
	}
	if override.APIKey != "" {
		base.APIKey = override.APIKey
	}
	return base
}
