// Package pipeline orchestrates one conversational request end to end:
// usage pre-check, routing, instruction composition, the generation
// loop, response validation, usage commit.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/atriumhq/atrium/internal/composer"
	"github.com/atriumhq/atrium/internal/engine"
	"github.com/atriumhq/atrium/internal/logging"
	"github.com/atriumhq/atrium/internal/metrics"
	"github.com/atriumhq/atrium/internal/router"
	"github.com/atriumhq/atrium/internal/validator"
	"github.com/atriumhq/atrium/pkg/contracts"
	"github.com/atriumhq/atrium/pkg/models"
)

var tracer = otel.Tracer("atrium-pipeline")

// State tracks pipeline progress through its transition table. FAILED
// is absorbing and only reachable from fatal (non-skill) errors.
type State string

const (
	StateRouting        State = "ROUTING"
	StateComposing      State = "COMPOSING"
	StateGenerating     State = "GENERATING"
	StateExecutingTools State = "EXECUTING_TOOLS"
	StateValidating     State = "VALIDATING"
	StateDone           State = "DONE"
	StateFailed         State = "FAILED"
)

// erpSystem names the credential scope for the builtin business-data
// skills.
const erpSystem = "erp"

// baselineTokenEstimate is the fixed floor added to the history-derived
// estimate handed to the usage gate.
const baselineTokenEstimate = 500

// Request is one inbound conversational turn.
type Request struct {
	TenantID      string
	UserEmail     string
	UserID        string
	Agent         *models.AgentDefinition
	Messages      []models.ConversationMessage
	Channel       models.Channel
	Streaming     bool
	MentionedSlug string
	OnStep        func(models.ThinkingStep)
	OnSummary     func(string)
}

// Pipeline wires the stages together. One instance serves all
// requests; per-request state lives on the stack of ProcessRequest.
type Pipeline struct {
	router    *router.Router
	composer  *composer.Composer
	engine    *engine.Engine
	directory contracts.AgentDirectory
	usage     contracts.UsageService
	creds     contracts.CredentialResolver
	metrics   *metrics.Metrics
	log       *logging.Logger
}

func New(
	rt *router.Router,
	cp *composer.Composer,
	en *engine.Engine,
	dir contracts.AgentDirectory,
	us contracts.UsageService,
	cr contracts.CredentialResolver,
	mx *metrics.Metrics,
	log *logging.Logger,
) *Pipeline {
	return &Pipeline{
		router:    rt,
		composer:  cp,
		engine:    en,
		directory: dir,
		usage:     us,
		creds:     cr,
		metrics:   mx,
		log:       log.Sub("pipeline"),
	}
}

// ProcessRequest runs the full pipeline. The only error it returns is
// the usage gate's: every other failure mode is folded back into the
// answer so the caller always receives coherent text.
func (p *Pipeline) ProcessRequest(ctx context.Context, req *Request) (*models.ChatResult, error) {
	if req.Agent == nil {
		return nil, fmt.Errorf("pipeline: no base agent")
	}
	if !req.Channel.Valid() {
		req.Channel = models.ChannelWeb
	}

	ctx, span := tracer.Start(ctx, "pipeline.process",
		trace.WithAttributes(
			attribute.String("atrium.tenant", req.TenantID),
			attribute.String("atrium.channel", string(req.Channel)),
			attribute.String("atrium.base_agent", req.Agent.Slug),
		))
	defer span.End()

	start := time.Now()
	log := p.log.With("tenant", req.TenantID)

	// Strict gate: nothing runs past this on exceed.
	if err := p.usage.CheckLimit(ctx, req.TenantID, req.UserID, estimateTokens(req.Messages)); err != nil {
		p.metrics.UsageRejections.Inc()
		p.observe(req.Channel, "billing_exceeded", start)
		log.Warn().Str("user", req.UserID).Err(err).Msg("request rejected by usage gate")
		return nil, err
	}

	state := StateRouting
	decision, tier := p.router.Route(ctx, router.Request{
		TenantID:      req.TenantID,
		Message:       lastUserMessage(req.Messages),
		History:       req.Messages,
		BaseAgentSlug: req.Agent.Slug,
		MentionedSlug: req.MentionedSlug,
	}, p.directory)
	p.metrics.RoutingTier.WithLabelValues(string(tier)).Inc()
	span.SetAttributes(
		attribute.String("atrium.routed_agent", decision.AgentSlug),
		attribute.String("atrium.routing_tier", string(tier)),
	)

	agent := req.Agent
	if decision.AgentSlug != req.Agent.Slug {
		routed, err := p.directory.GetAgentBySlug(ctx, req.TenantID, decision.AgentSlug)
		if err != nil || routed == nil {
			// RoutingFallback is non-fatal: stay on the base agent.
			log.Warn().Str("slug", decision.AgentSlug).Err(err).Msg("routed agent unavailable, using base")
			decision = models.RoutingDecision{
				AgentSlug:  req.Agent.Slug,
				Confidence: models.ConfidenceLow,
				Reason:     "routed agent unavailable",
			}
		} else {
			agent = routed
		}
	}

	state = StateComposing
	instructions := p.composer.Compose(ctx, composer.Input{
		TenantID:    req.TenantID,
		AgentPrompt: agent.MergedSystemPrompt,
		RoutedAgent: agent,
		Decision:    decision,
		BaseSlug:    req.Agent.Slug,
		Channel:     req.Channel,
	})

	credentials := p.resolveCredentials(ctx, req.TenantID, agent)

	state = StateGenerating
	genRes, err := p.engine.Run(ctx, &engine.Request{
		TenantID:     req.TenantID,
		UserID:       req.UserID,
		Instructions: instructions,
		Messages:     req.Messages,
		ToolNames:    agent.ToolNames,
		Credentials:  credentials,
		Channel:      req.Channel,
		Streaming:    req.Streaming,
		OnStep:       req.OnStep,
		OnSummary:    req.OnSummary,
	})
	if err != nil {
		// Only context cancellation reaches here.
		state = StateFailed
		span.SetAttributes(attribute.String("atrium.state", string(state)))
		p.observe(req.Channel, "cancelled", start)
		return nil, fmt.Errorf("pipeline: generation aborted: %w", err)
	}
	for _, call := range genRes.ToolCalls {
		code := "ok"
		if call.IsError {
			code = "error"
		}
		p.metrics.SkillCallsTotal.WithLabelValues(call.ToolName, code).Inc()
	}
	p.metrics.GenerationRounds.Observe(float64(genRes.Rounds))

	state = StateValidating
	report := validator.Validate(genRes.Text, genRes.ToolCalls)
	if !report.Valid {
		// Advisory only: recorded, never blocks delivery.
		log.Warn().
			Int("score", report.Score).
			Strs("warnings", report.Warnings).
			Msg("response flagged by validator")
	}

	// Best-effort commit: a failure never claws back the answer.
	if err := p.usage.TrackUsage(ctx, req.TenantID, req.UserID, genRes.Usage.TotalTokens); err != nil {
		log.Error().Err(err).Msg("usage commit failed")
	}

	state = StateDone
	span.SetAttributes(
		attribute.String("atrium.state", string(state)),
		attribute.Int("atrium.rounds", genRes.Rounds),
		attribute.Int64("atrium.tokens", genRes.Usage.TotalTokens),
	)
	p.observe(req.Channel, "ok", start)

	return &models.ChatResult{
		Text:       genRes.Text,
		ToolCalls:  genRes.ToolCalls,
		Usage:      genRes.Usage,
		Routing:    decision,
		Validation: &report,
		Rounds:     genRes.Rounds,
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

// resolveCredentials looks up the tenant's backing-system secrets for
// agents that declare skills. Missing credentials are not fatal: the
// registry turns them into AUTH_ERROR results the model can explain.
func (p *Pipeline) resolveCredentials(ctx context.Context, tenantID string, agent *models.AgentDefinition) contracts.Credentials {
	if len(agent.ToolNames) == 0 || p.creds == nil {
		return contracts.Credentials{}
	}
	credentials, err := p.creds.Resolve(ctx, tenantID, erpSystem)
	if err != nil {
		p.log.Warn().Str("tenant", tenantID).Err(err).Msg("credential resolution failed")
		return contracts.Credentials{}
	}
	return credentials
}

func (p *Pipeline) observe(channel models.Channel, outcome string, start time.Time) {
	p.metrics.RequestsTotal.WithLabelValues(string(channel), outcome).Inc()
	p.metrics.RequestDuration.WithLabelValues(string(channel)).Observe(time.Since(start).Seconds())
}

// estimateTokens is a coarse pre-flight estimate: four characters per
// token over the history plus a fixed floor for instructions.
func estimateTokens(messages []models.ConversationMessage) int64 {
	chars := 0
	for _, m := range messages {
		chars += len(m.Content)
	}
	return int64(chars/4) + baselineTokenEstimate
}

func lastUserMessage(messages []models.ConversationMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}
