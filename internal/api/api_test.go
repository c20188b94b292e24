package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/atriumhq/atrium/internal/api"
	"github.com/atriumhq/atrium/internal/api/handlers"
	"github.com/atriumhq/atrium/internal/composer"
	"github.com/atriumhq/atrium/internal/directory"
	"github.com/atriumhq/atrium/internal/engine"
	"github.com/atriumhq/atrium/internal/logging"
	"github.com/atriumhq/atrium/internal/metrics"
	"github.com/atriumhq/atrium/internal/pipeline"
	"github.com/atriumhq/atrium/internal/router"
	"github.com/atriumhq/atrium/internal/skills"
	"github.com/atriumhq/atrium/internal/usage"
	"github.com/atriumhq/atrium/pkg/contracts"
	"github.com/atriumhq/atrium/pkg/models"
)

type staticTransport struct{ text string }

func (s staticTransport) Complete(context.Context, *models.TransportRequest) (*models.TransportResponse, error) {
	return &models.TransportResponse{Text: s.text, Usage: models.TokenUsage{TotalTokens: 7}}, nil
}

type staticCreds struct{}

func (staticCreds) Resolve(context.Context, string, string) (contracts.Credentials, error) {
	return contracts.Credentials{Username: "svc", APIKey: "k"}, nil
}

func (staticCreds) GetContextText(context.Context, string) (string, error) { return "", nil }

func newTestServer(t *testing.T, tokenLimit int64) *httptest.Server {
	t.Helper()
	log := logging.Nop()

	dir := directory.New(directory.NewMemoryStore(), log)
	for _, tenant := range []string{"default", "acme"} {
		if err := dir.SeedTemplates(context.Background(), tenant); err != nil {
			t.Fatal(err)
		}
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	meter := usage.NewMeter(rdb, tokenLimit, nil, log)

	registry, err := skills.NewRegistry(log)
	if err != nil {
		t.Fatal(err)
	}

	tr := staticTransport{text: "sure, happy to help"}
	now := func() time.Time { return time.Date(2026, time.August, 29, 12, 0, 0, 0, time.UTC) }
	p := pipeline.New(
		router.New(tr, log),
		composer.New(staticCreds{}, now, log),
		engine.New(tr, registry, 4, log),
		dir,
		meter,
		staticCreds{},
		metrics.New(),
		log,
	)

	srv := httptest.NewServer(api.NewRouter(handlers.New(dir, p, meter, log), metrics.New(), log))
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, tenant string, body any) *http.Response {
	t.Helper()
	raw, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPost, url, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if tenant != "" {
		req.Header.Set("X-Tenant-Id", tenant)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestChatEndpoint(t *testing.T) {
	srv := newTestServer(t, 0)

	resp := postJSON(t, srv.URL+"/v1/chat", "acme", map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "hello"}},
		"channel":  "web",
		"userId":   "u1",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var result models.ChatResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if result.Text == "" {
		t.Error("empty text")
	}
	if result.Routing.AgentSlug == "" {
		t.Error("routing decision missing")
	}
}

func TestChatRejectsEmptyMessages(t *testing.T) {
	srv := newTestServer(t, 0)
	resp := postJSON(t, srv.URL+"/v1/chat", "acme", map[string]any{"messages": []any{}})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestChatUnknownAgent404(t *testing.T) {
	srv := newTestServer(t, 0)
	resp := postJSON(t, srv.URL+"/v1/chat", "acme", map[string]any{
		"agentSlug": "nope",
		"messages":  []map[string]string{{"role": "user", "content": "hi"}},
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestChatOverLimitReturns429(t *testing.T) {
	srv := newTestServer(t, 1) // allowance smaller than any estimate
	resp := postJSON(t, srv.URL+"/v1/chat", "acme", map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "hello"}},
		"userId":   "u1",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", resp.StatusCode)
	}
}

func TestAgentCRUDAndTemplateRule(t *testing.T) {
	srv := newTestServer(t, 0)

	// Create a custom agent.
	resp := postJSON(t, srv.URL+"/v1/agents", "acme", map[string]any{
		"slug":         "support-bot",
		"name":         "Support Bot",
		"systemPrompt": "You handle support questions.",
		"keywords":     []string{"ticket", "support"},
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", resp.StatusCode)
	}

	// Custom agents delete cleanly.
	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/v1/agents/support-bot", nil)
	req.Header.Set("X-Tenant-Id", "acme")
	del, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	del.Body.Close()
	if del.StatusCode != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", del.StatusCode)
	}

	// Template-derived agents refuse deletion.
	req, _ = http.NewRequest(http.MethodDelete, srv.URL+"/v1/agents/general", nil)
	req.Header.Set("X-Tenant-Id", "acme")
	del, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	del.Body.Close()
	if del.StatusCode != http.StatusConflict {
		t.Errorf("template delete status = %d, want 409", del.StatusCode)
	}
}

func patchJSON(t *testing.T, url string, tenant string, body any) *http.Response {
	t.Helper()
	raw, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPatch, url, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", tenant)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestAgentPatchPreservesUnmentionedFields(t *testing.T) {
	srv := newTestServer(t, 0)

	// A name-only patch must leave activation alone.
	resp := patchJSON(t, srv.URL+"/v1/agents/general", "acme", map[string]any{
		"name": "General Assistant",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch status = %d, want 200", resp.StatusCode)
	}
	var agent models.AgentDefinition
	if err := json.NewDecoder(resp.Body).Decode(&agent); err != nil {
		t.Fatal(err)
	}
	if agent.Name != "General Assistant" {
		t.Errorf("Name = %q, want patched name", agent.Name)
	}
	if !agent.IsActive {
		t.Error("IsActive flipped to false by a name-only patch")
	}

	// Explicit deactivation through the same endpoint still works.
	resp = patchJSON(t, srv.URL+"/v1/agents/general", "acme", map[string]any{
		"isActive": false,
	})
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(&agent); err != nil {
		t.Fatal(err)
	}
	if agent.IsActive {
		t.Error("explicit isActive:false not applied")
	}
}

func TestTenantIsolationViaHeader(t *testing.T) {
	srv := newTestServer(t, 0)

	// Created under acme, invisible to default tenant.
	resp := postJSON(t, srv.URL+"/v1/agents", "acme", map[string]any{
		"slug":         "acme-only",
		"name":         "Acme Only",
		"systemPrompt": "p",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/agents/acme-only", nil)
	get, err := http.DefaultClient.Do(req) // no tenant header → default
	if err != nil {
		t.Fatal(err)
	}
	get.Body.Close()
	if get.StatusCode != http.StatusNotFound {
		t.Errorf("cross-tenant get status = %d, want 404", get.StatusCode)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t, 0)

	for _, path := range []string{"/healthz", "/metrics", "/version"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s status = %d, want 200", path, resp.StatusCode)
		}
	}
}
