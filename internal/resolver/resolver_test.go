package resolver_test

import (
	"context"
	"testing"

	"github.com/atriumhq/atrium/internal/config"
	"github.com/atriumhq/atrium/internal/resolver"
)

func newResolver() *resolver.Resolver {
	return resolver.New(&config.Config{
		ERP: config.ERPConfig{
			BaseURL:  "https://erp.example.com",
			Database: "prod",
			Username: "svc",
			APIKey:   "default-key",
		},
		Tenants: map[string]config.TenantProfile{
			"acme": {
				ContextText: "Acme Corp sells industrial widgets in LATAM.",
				ERP:         config.ERPConfig{Database: "acme_prod", APIKey: "acme-key"},
			},
		},
	})
}

func TestResolveMergesTenantOverrides(t *testing.T) {
	creds, err := newResolver().Resolve(context.Background(), "acme", "erp")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if creds.BaseURL != "https://erp.example.com" {
		t.Errorf("BaseURL = %q, want default preserved", creds.BaseURL)
	}
	if creds.Database != "acme_prod" || creds.APIKey != "acme-key" {
		t.Errorf("creds = %+v, want tenant overrides applied", creds)
	}
}

func TestResolveUnknownTenantUsesDefaults(t *testing.T) {
	creds, err := newResolver().Resolve(context.Background(), "globex", "erp")
	if err != nil {
		t.Fatal(err)
	}
	if creds.APIKey != "default-key" {
		t.Errorf("APIKey = %q, want deployment default", creds.APIKey)
	}
}

func TestResolveUnknownSystemFails(t *testing.T) {
	if _, err := newResolver().Resolve(context.Background(), "acme", "crm"); err == nil {
		t.Fatal("Resolve() error = nil, want unknown system error")
	}
}

func TestGetContextText(t *testing.T) {
	r := newResolver()
	text, err := r.GetContextText(context.Background(), "acme")
	if err != nil || text == "" {
		t.Fatalf("GetContextText() = %q, %v", text, err)
	}
	empty, err := r.GetContextText(context.Background(), "globex")
	if err != nil || empty != "" {
		t.Errorf("GetContextText(globex) = %q, %v, want empty", empty, err)
	}
}
