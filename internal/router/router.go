// Package router selects the specialist agent for each inbound message.
//
// Two tiers: a deterministic keyword scorer commits immediately on a
// clear margin; otherwise one semantic classification call to the model
// transport breaks the tie. An explicit @mention skips both. The router
// never mutates shared state and never fails a request: every path ends
// in a usable decision.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/atriumhq/atrium/internal/logging"
	"github.com/atriumhq/atrium/pkg/contracts"
	"github.com/atriumhq/atrium/pkg/models"
)

// Tier records which mechanism produced a decision, for logs and metrics.
type Tier string

const (
	TierMention  Tier = "mention"
	TierKeyword  Tier = "keyword"
	TierSemantic Tier = "semantic"
	TierFallback Tier = "fallback"
)

// Scoring thresholds for the deterministic tier. A match commits when it
// clears minCommitScore and leads the runner-up by at least commitMargin
// weighted words. Tune empirically per deployment; these defaults favor
// precision over recall so ambiguity falls through to the semantic tier.
const (
	minCommitScore = 2
	commitMargin   = 2
)

// historyWindow bounds how much trailing conversation the semantic tier
// sees.
const (
	historyWindow   = 6
	historyMaxChars = 280
)

// Request carries everything routing needs for one message.
type Request struct {
	TenantID      string
	Message       string
	History       []models.ConversationMessage
	BaseAgentSlug string
	MentionedSlug string
}

// Router picks the handling agent for a message.
type Router struct {
	transport contracts.ModelTransport // nil disables the semantic tier
	log       *logging.Logger
}

// New creates a router. transport may be nil, in which case ambiguous
// messages fall back to the base agent instead of a semantic call.
func New(transport contracts.ModelTransport, log *logging.Logger) *Router {
	return &Router{transport: transport, log: log.Sub("router")}
}

// Route returns the handling decision and the tier that produced it.
func (r *Router) Route(ctx context.Context, req Request, dir contracts.AgentDirectory) (models.RoutingDecision, Tier) {
	// Explicit selection wins outright; a bad slug falls through to the
	// scored tiers.
	if req.MentionedSlug != "" {
		agent, err := dir.GetAgentBySlug(ctx, req.TenantID, req.MentionedSlug)
		if err == nil && agent != nil && agent.IsActive {
			return models.RoutingDecision{
				AgentSlug:  agent.Slug,
				Confidence: models.ConfidenceHigh,
				Reason:     "explicit selection",
			}, TierMention
		}
		r.log.Warn().Str("slug", req.MentionedSlug).Msg("mentioned agent not found, scoring instead")
	}

	agents, err := dir.ListAgents(ctx, req.TenantID)
	if err != nil {
		r.log.Error().Err(err).Str("tenant", req.TenantID).Msg("agent directory unavailable")
		return r.fallback(req, "agent directory unavailable"), TierFallback
	}
	if len(agents) == 0 {
		return r.fallback(req, "no agents configured"), TierFallback
	}

	if decision, ok := r.scoreKeywords(req.Message, agents); ok {
		return decision, TierKeyword
	}

	if r.transport != nil {
		if decision, ok := r.classify(ctx, req, agents); ok {
			return decision, TierSemantic
		}
	}

	return r.fallback(req, "no specialty matched"), TierFallback
}

func (r *Router) fallback(req Request, reason string) models.RoutingDecision {
	return models.RoutingDecision{
		AgentSlug:  req.BaseAgentSlug,
		Confidence: models.ConfidenceLow,
		Reason:     reason,
	}
}

// ── Tier 1: keyword scoring ─────────────────────────────────

type keywordScore struct {
	slug    string
	score   int
	matched []string
}

// scoreKeywords sums, per agent, the word count of every keyword found as
// a substring of the lower-cased message, so longer phrases weigh more.
// Deterministic: agents are scored in slug order and the result depends
// only on the inputs.
func (r *Router) scoreKeywords(message string, agents []models.AgentDefinition) (models.RoutingDecision, bool) {
	lowerMsg := strings.ToLower(message)

	scores := make([]keywordScore, 0, len(agents))
	for _, agent := range agents {
		if len(agent.Keywords) == 0 {
			continue
		}
		s := keywordScore{slug: agent.Slug}
		for _, kw := range agent.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" {
				continue
			}
			if strings.Contains(lowerMsg, kw) {
				s.score += len(strings.Fields(kw))
				s.matched = append(s.matched, kw)
			}
		}
		if s.score > 0 {
			scores = append(scores, s)
		}
	}
	if len(scores) == 0 {
		return models.RoutingDecision{}, false
	}

	sort.Slice(scores, func(i, j int) bool {
		if scores[i].score != scores[j].score {
			return scores[i].score > scores[j].score
		}
		return scores[i].slug < scores[j].slug
	})

	top := scores[0]
	runnerUp := 0
	if len(scores) > 1 {
		runnerUp = scores[1].score
	}
	if top.score < minCommitScore || top.score-runnerUp < commitMargin {
		return models.RoutingDecision{}, false
	}

	sort.Strings(top.matched)
	return models.RoutingDecision{
		AgentSlug:  top.slug,
		Confidence: models.ConfidenceHigh,
		Reason:     "matched keywords: " + strings.Join(top.matched, ", "),
	}, true
}

// ── Tier 2: semantic classification ─────────────────────────

const classifierSystem = `You are a routing classifier. Given a user message,
recent conversation and a list of available agents, pick the best agent.
Respond with ONLY a JSON object: {"agent": "<slug>", "confidence":
"high"|"medium"|"low", "reason": "<short reason>"}.`

type classification struct {
	Agent      string `json:"agent"`
	Confidence string `json:"confidence"`
	Reason     string `json:"reason"`
}

func (r *Router) classify(ctx context.Context, req Request, agents []models.AgentDefinition) (models.RoutingDecision, bool) {
	var b strings.Builder
	b.WriteString("Available agents:\n")
	for _, a := range agents {
		fmt.Fprintf(&b, "- %s: %s\n", a.Slug, a.Description)
	}
	b.WriteString("\nRecent conversation:\n")
	history := req.History
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	for _, m := range history {
		content := m.Content
		if len(content) > historyMaxChars {
			content = truncateRunes(content, historyMaxChars) + "…"
		}
		fmt.Fprintf(&b, "%s: %s\n", m.Role, content)
	}
	fmt.Fprintf(&b, "\nMessage to route: %s\n", req.Message)

	resp, err := r.transport.Complete(ctx, &models.TransportRequest{
		System:        classifierSystem,
		Messages:      []models.ConversationMessage{{Role: models.RoleUser, Content: b.String()}},
		ThinkingLevel: models.ThinkingReduced,
	})
	if err != nil {
		r.log.Warn().Err(err).Msg("semantic classification call failed")
		return models.RoutingDecision{}, false
	}

	parsed, err := parseClassification(resp.Text)
	if err != nil {
		r.log.Warn().Err(err).Str("raw", resp.Text).Msg("unparseable classification")
		return models.RoutingDecision{}, false
	}

	// The classifier may hallucinate a slug; verify before trusting it.
	valid := false
	for _, a := range agents {
		if a.Slug == parsed.Agent {
			valid = true
			break
		}
	}
	if !valid {
		r.log.Warn().Str("slug", parsed.Agent).Msg("classifier picked unknown agent")
		return models.RoutingDecision{}, false
	}

	confidence := models.Confidence(parsed.Confidence)
	switch confidence {
	case models.ConfidenceHigh, models.ConfidenceMedium, models.ConfidenceLow:
	default:
		confidence = models.ConfidenceLow
	}

	return models.RoutingDecision{
		AgentSlug:  parsed.Agent,
		Confidence: confidence,
		Reason:     parsed.Reason,
	}, true
}

// truncateRunes cuts s to at most max bytes without splitting a
// multibyte rune.
func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// parseClassification tolerates code fences and prose around the JSON
// object.
func parseClassification(text string) (*classification, error) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in classifier output")
	}

	var parsed classification
	if err := json.Unmarshal([]byte(text[start:end+1]), &parsed); err != nil {
		return nil, fmt.Errorf("decode classification: %w", err)
	}
	if parsed.Agent == "" {
		return nil, fmt.Errorf("classification missing agent slug")
	}
	return &parsed, nil
}
