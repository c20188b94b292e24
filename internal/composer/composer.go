// Package composer assembles the final instruction text handed to the
// model transport: tenant context, the agent's merged prompt, routing
// and channel blocks, and the universal conversation rules.
package composer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/atriumhq/atrium/internal/logging"
	"github.com/atriumhq/atrium/pkg/contracts"
	"github.com/atriumhq/atrium/pkg/models"
)

const datePlaceholder = "{{CURRENT_DATE}}"

const universalRules = `## Conversation rules
- Be efficient: answer directly and keep responses focused on what was asked.
- Never mention internal tool or function names to the user. Describe what you did in plain language instead.
- Do not ask the user to clarify something already answered earlier in the conversation. Re-read the history first.`

const voiceRules = `## Voice channel
Your answer will be read aloud. Keep it short and conversational: no lists, no markdown, no URLs. One or two sentences when possible.`

const messagingRules = `## Messaging channel
Keep answers compact and mobile-friendly. Prefer short paragraphs over long lists and avoid heavy markdown formatting.`

// Input carries everything a single composition needs. RoutedAgent and
// Decision are nil/zero when routing kept the base agent.
type Input struct {
	TenantID    string
	AgentPrompt string
	RoutedAgent *models.AgentDefinition
	Decision    models.RoutingDecision
	BaseSlug    string
	Channel     models.Channel
}

// Composer builds instruction text. It holds no per-request state:
// Compose is pure string assembly and idempotent for identical inputs.
type Composer struct {
	tenantCtx contracts.TenantContextProvider
	now       func() time.Time
	log       *logging.Logger
}

func New(tenantCtx contracts.TenantContextProvider, now func() time.Time, log *logging.Logger) *Composer {
	if now == nil {
		now = time.Now
	}
	return &Composer{tenantCtx: tenantCtx, now: now, log: log.Sub("composer")}
}

// Compose concatenates the instruction blocks in order: tenant context
// (omitted entirely when empty), the agent prompt with the current date
// substituted, a specialty block when routing switched agents at
// high/medium confidence, channel rules, and the universal rules.
func (c *Composer) Compose(ctx context.Context, in Input) string {
	var blocks []string

	if c.tenantCtx != nil {
		text, err := c.tenantCtx.GetContextText(ctx, in.TenantID)
		if err != nil {
			c.log.Warn().Str("tenant", in.TenantID).Err(err).Msg("tenant context unavailable")
		} else if text = strings.TrimSpace(text); text != "" {
			blocks = append(blocks, "## Company context\n"+text)
		}
	}

	prompt := strings.ReplaceAll(in.AgentPrompt, datePlaceholder, c.now().Format("Monday, 2 January 2006"))
	blocks = append(blocks, strings.TrimSpace(prompt))

	if block := c.specialtyBlock(in); block != "" {
		blocks = append(blocks, block)
	}

	switch in.Channel {
	case models.ChannelVoice:
		blocks = append(blocks, voiceRules)
	case models.ChannelMessaging:
		blocks = append(blocks, messagingRules)
	}

	blocks = append(blocks, universalRules)

	return strings.Join(blocks, "\n\n")
}

func (c *Composer) specialtyBlock(in Input) string {
	if in.RoutedAgent == nil || in.RoutedAgent.Slug == in.BaseSlug {
		return ""
	}
	switch in.Decision.Confidence {
	case models.ConfidenceHigh, models.ConfidenceMedium:
	default:
		return ""
	}
	return fmt.Sprintf("## Active specialty\nYou are currently acting as %s. %s",
		in.RoutedAgent.Name, strings.TrimSpace(in.RoutedAgent.Description))
}
