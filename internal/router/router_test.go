package router_test

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/atriumhq/atrium/internal/directory"
	"github.com/atriumhq/atrium/internal/logging"
	"github.com/atriumhq/atrium/internal/router"
	"github.com/atriumhq/atrium/pkg/models"
)

// mockTransport is a scripted contracts.ModelTransport that counts calls.
type mockTransport struct {
	calls   int
	text    string
	err     error
	lastReq *models.TransportRequest
}

func (m *mockTransport) Complete(_ context.Context, req *models.TransportRequest) (*models.TransportResponse, error) {
	m.calls++
	m.lastReq = req
	if m.err != nil {
		return nil, m.err
	}
	return &models.TransportResponse{Text: m.text}, nil
}

func seededDirectory(t *testing.T) *directory.Directory {
	t.Helper()
	dir := directory.New(directory.NewMemoryStore(), logging.Nop())
	if err := dir.SeedTemplates(context.Background(), "acme"); err != nil {
		t.Fatalf("SeedTemplates() error = %v", err)
	}
	return dir
}

func TestMentionOverrideSkipsBothTiers(t *testing.T) {
	dir := seededDirectory(t)
	transport := &mockTransport{text: `{"agent":"general","confidence":"high","reason":"x"}`}
	r := router.New(transport, logging.Nop())

	decision, tier := r.Route(context.Background(), router.Request{
		TenantID:      "acme",
		Message:       "whatever the message says",
		BaseAgentSlug: "general",
		MentionedSlug: "legal-expert",
	}, dir)

	if decision.AgentSlug != "legal-expert" {
		t.Errorf("AgentSlug = %s, want legal-expert", decision.AgentSlug)
	}
	if decision.Confidence != models.ConfidenceHigh {
		t.Errorf("Confidence = %s, want high", decision.Confidence)
	}
	if decision.Reason != "explicit selection" {
		t.Errorf("Reason = %q", decision.Reason)
	}
	if tier != router.TierMention {
		t.Errorf("tier = %s, want mention", tier)
	}
	if transport.calls != 0 {
		t.Errorf("transport calls = %d, want 0 (no classification tier)", transport.calls)
	}
}

func TestMentionUnknownAgentFallsThrough(t *testing.T) {
	dir := seededDirectory(t)
	r := router.New(nil, logging.Nop())

	decision, _ := r.Route(context.Background(), router.Request{
		TenantID:      "acme",
		Message:       "¿Cuánto vendimos este mes?",
		BaseAgentSlug: "general",
		MentionedSlug: "no-such-agent",
	}, dir)

	// The finance keywords still win after the bad mention is discarded.
	if decision.AgentSlug != "erp-analyst" {
		t.Errorf("AgentSlug = %s, want erp-analyst", decision.AgentSlug)
	}
}

func TestKeywordTierRoutesSpanishFinanceQuestion(t *testing.T) {
	dir := seededDirectory(t)
	transport := &mockTransport{}
	r := router.New(transport, logging.Nop())

	decision, tier := r.Route(context.Background(), router.Request{
		TenantID:      "acme",
		Message:       "¿Cuánto vendimos este mes?",
		BaseAgentSlug: "general",
	}, dir)

	if decision.AgentSlug != "erp-analyst" {
		t.Errorf("AgentSlug = %s, want erp-analyst", decision.AgentSlug)
	}
	if decision.Confidence != models.ConfidenceHigh {
		t.Errorf("Confidence = %s, want high", decision.Confidence)
	}
	if tier != router.TierKeyword {
		t.Errorf("tier = %s, want keyword", tier)
	}
	if transport.calls != 0 {
		t.Errorf("transport calls = %d, want 0 (deterministic tier committed)", transport.calls)
	}
}

func TestKeywordTierIsDeterministic(t *testing.T) {
	dir := seededDirectory(t)
	r := router.New(nil, logging.Nop())

	req := router.Request{
		TenantID:      "acme",
		Message:       "necesito las ventas y facturas de este mes",
		BaseAgentSlug: "general",
	}

	first, _ := r.Route(context.Background(), req, dir)
	for i := 0; i < 25; i++ {
		again, _ := r.Route(context.Background(), req, dir)
		if again != first {
			t.Fatalf("run %d: decision %+v != first %+v", i, again, first)
		}
	}
}

func TestAmbiguousMessageUsesSemanticTier(t *testing.T) {
	dir := seededDirectory(t)
	transport := &mockTransport{
		text: "Sure! Here you go:\n```json\n{\"agent\":\"tax-expert\",\"confidence\":\"medium\",\"reason\":\"fiscal topic\"}\n```",
	}
	r := router.New(transport, logging.Nop())

	// No keyword hits at all.
	decision, tier := r.Route(context.Background(), router.Request{
		TenantID:      "acme",
		Message:       "tell me about quarterly obligations",
		BaseAgentSlug: "general",
	}, dir)

	if transport.calls != 1 {
		t.Fatalf("transport calls = %d, want 1", transport.calls)
	}
	if tier != router.TierSemantic {
		t.Errorf("tier = %s, want semantic", tier)
	}
	if decision.AgentSlug != "tax-expert" || decision.Confidence != models.ConfidenceMedium {
		t.Errorf("decision = %+v, want tax-expert/medium", decision)
	}
}

func TestTruncatedHistoryStaysValidUTF8(t *testing.T) {
	dir := seededDirectory(t)
	transport := &mockTransport{text: `{"agent":"tax-expert","confidence":"medium","reason":"x"}`}
	r := router.New(transport, logging.Nop())

	// 300 bytes of 3-byte runes: the truncation window lands mid-rune.
	long := strings.Repeat("€", 100)
	_, tier := r.Route(context.Background(), router.Request{
		TenantID:      "acme",
		Message:       "tell me about quarterly obligations",
		History:       []models.ConversationMessage{{Role: models.RoleUser, Content: long}},
		BaseAgentSlug: "general",
	}, dir)

	if tier != router.TierSemantic {
		t.Fatalf("tier = %s, want semantic", tier)
	}
	prompt := transport.lastReq.Messages[0].Content
	if !utf8.ValidString(prompt) {
		t.Error("classifier prompt contains invalid UTF-8 after history truncation")
	}
}

func TestUnparseableClassificationFallsBack(t *testing.T) {
	dir := seededDirectory(t)
	transport := &mockTransport{text: "I think probably the tax one?"}
	r := router.New(transport, logging.Nop())

	decision, tier := r.Route(context.Background(), router.Request{
		TenantID:      "acme",
		Message:       "hmm",
		BaseAgentSlug: "general",
	}, dir)

	if tier != router.TierFallback {
		t.Errorf("tier = %s, want fallback", tier)
	}
	if decision.AgentSlug != "general" || decision.Confidence != models.ConfidenceLow {
		t.Errorf("decision = %+v, want general/low", decision)
	}
}

func TestClassifierUnknownSlugRejected(t *testing.T) {
	dir := seededDirectory(t)
	transport := &mockTransport{text: `{"agent":"made-up","confidence":"high","reason":"?"}`}
	r := router.New(transport, logging.Nop())

	decision, tier := r.Route(context.Background(), router.Request{
		TenantID:      "acme",
		Message:       "hmm",
		BaseAgentSlug: "general",
	}, dir)

	if tier != router.TierFallback || decision.AgentSlug != "general" {
		t.Errorf("(%+v, %s), want general fallback", decision, tier)
	}
}

func TestEmptyDirectoryDefaultsToBaseAgent(t *testing.T) {
	dir := directory.New(directory.NewMemoryStore(), logging.Nop())
	r := router.New(nil, logging.Nop())

	decision, tier := r.Route(context.Background(), router.Request{
		TenantID:      "empty-tenant",
		Message:       "anything",
		BaseAgentSlug: "general",
	}, dir)

	if decision.AgentSlug != "general" || decision.Confidence != models.ConfidenceLow {
		t.Errorf("decision = %+v, want general/low", decision)
	}
	if tier != router.TierFallback {
		t.Errorf("tier = %s, want fallback", tier)
	}
}

func TestCloseScoresDoNotCommit(t *testing.T) {
	dir := directory.New(directory.NewMemoryStore(), logging.Nop())
	ctx := context.Background()
	mk := func(slug string, keywords ...string) *models.AgentDefinition {
		return &models.AgentDefinition{
			TenantID: "acme", Slug: slug, Name: slug,
			SystemPrompt: "p", Keywords: keywords, IsActive: true,
		}
	}
	if err := dir.CreateAgent(ctx, mk("alpha", "budget report")); err != nil {
		t.Fatal(err)
	}
	if err := dir.CreateAgent(ctx, mk("beta", "report summary")); err != nil {
		t.Fatal(err)
	}

	r := router.New(nil, logging.Nop())
	decision, tier := r.Route(ctx, router.Request{
		TenantID:      "acme",
		Message:       "I need the budget report summary",
		BaseAgentSlug: "alpha",
	}, dir)

	// Both score 2: inside the margin, so no keyword commit.
	if tier != router.TierFallback {
		t.Errorf("tier = %s, want fallback (scores tied within margin), decision %+v", tier, decision)
	}
}
