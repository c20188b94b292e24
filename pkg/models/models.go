// Package models defines the shared data model for the Atrium
// conversational orchestration service.
package models

import "time"

// ── Channels ────────────────────────────────────────────────

// Channel is the medium the conversation arrives on. It affects tone and
// verbosity rules in the composed instructions and the thinking level
// used during generation.
type Channel string

const (
	ChannelWeb       Channel = "web"
	ChannelMessaging Channel = "messaging"
	ChannelVoice     Channel = "voice"
)

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelWeb, ChannelMessaging, ChannelVoice:
		return true
	}
	return false
}

// ── Agents ──────────────────────────────────────────────────

// AgentDefinition is a named specialist persona with its own instructions
// and allowed skill set.
//
// TemplateOriginID is non-nil when the agent was seeded from a platform
// template. Template-derived agents are never physically removed, only
// deactivated.
type AgentDefinition struct {
	Slug               string    `json:"slug"`
	TenantID           string    `json:"tenantId"`
	Name               string    `json:"name"`
	Description        string    `json:"description"`
	SystemPrompt       string    `json:"systemPrompt"`
	MergedSystemPrompt string    `json:"mergedSystemPrompt"`
	ToolNames          []string  `json:"toolNames,omitempty"`
	Keywords           []string  `json:"keywords,omitempty"`
	RAGEnabled         bool      `json:"ragEnabled"`
	IsActive           bool      `json:"isActive"`
	TemplateOriginID   *string   `json:"templateOriginId,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// HasTool reports whether the agent declares the given skill name.
func (a *AgentDefinition) HasTool(name string) bool {
	for _, t := range a.ToolNames {
		if t == name {
			return true
		}
	}
	return false
}

// ── Routing ─────────────────────────────────────────────────

// Confidence is the router's self-assessed certainty.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// RoutingDecision is the outcome of agent selection for one request.
// It is ephemeral: recomputed every request and never persisted beyond logs.
type RoutingDecision struct {
	AgentSlug  string     `json:"agentSlug"`
	Confidence Confidence `json:"confidence"`
	Reason     string     `json:"reason"`
}

// ── Conversation ────────────────────────────────────────────

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ConversationMessage is one turn in a session. Sessions are append-only;
// their persistence lives outside this service.
type ConversationMessage struct {
	Role      Role             `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ToolCallRecord `json:"toolCalls,omitempty"`
}

// ToolCallRecord captures one skill invocation once its generation round
// completed. ResultSummary is a truncated serialization of the result.
type ToolCallRecord struct {
	ToolName      string         `json:"toolName"`
	Args          map[string]any `json:"args,omitempty"`
	ResultSummary string         `json:"resultSummary,omitempty"`
	IsError       bool           `json:"isError,omitempty"`
}

// ── Skill results ───────────────────────────────────────────

// SkillErrorCode is the uniform error taxonomy for skill execution.
type SkillErrorCode string

const (
	SkillAuthError       SkillErrorCode = "AUTH_ERROR"
	SkillValidationError SkillErrorCode = "VALIDATION_ERROR"
	SkillAPIError        SkillErrorCode = "API_ERROR"
)

// SkillError describes a failed skill execution.
type SkillError struct {
	Code    SkillErrorCode `json:"code"`
	Message string         `json:"message"`
}

// SkillResult carries exactly one of Payload or Err. Constructed only via
// OkResult/ErrResult so the invariant holds at the type level.
type SkillResult struct {
	payload any
	err     *SkillError
}

// OkResult wraps a successful payload.
func OkResult(payload any) SkillResult {
	return SkillResult{payload: payload}
}

// ErrResult wraps a failure with the given taxonomy code.
func ErrResult(code SkillErrorCode, message string) SkillResult {
	return SkillResult{err: &SkillError{Code: code, Message: message}}
}

// OK reports whether the result carries a payload.
func (r SkillResult) OK() bool { return r.err == nil }

// Payload returns the success payload, nil on error results.
func (r SkillResult) Payload() any { return r.payload }

// Err returns the failure, nil on success results.
func (r SkillResult) Err() *SkillError { return r.err }

// ── Transport ───────────────────────────────────────────────

// TokenUsage tracks token consumption across a request.
type TokenUsage struct {
	InputTokens    int64 `json:"inputTokens"`
	OutputTokens   int64 `json:"outputTokens"`
	ThinkingTokens int64 `json:"thinkingTokens,omitempty"`
	TotalTokens    int64 `json:"totalTokens"`
}

// Add accumulates another usage sample.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.ThinkingTokens += other.ThinkingTokens
	u.TotalTokens += other.TotalTokens
}

// ThinkingLevel controls reasoning verbosity on transport calls. Voice is
// latency-sensitive and runs reduced.
type ThinkingLevel string

const (
	ThinkingFull    ThinkingLevel = "full"
	ThinkingReduced ThinkingLevel = "reduced"
)

// ToolSignature is the declaration of a callable skill sent with a
// transport request.
type ToolSignature struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// ToolRequest is a tool invocation requested by the model.
type ToolRequest struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// TransportRequest is the black-box call contract to the generative model.
type TransportRequest struct {
	Model         string                `json:"model,omitempty"`
	System        string                `json:"system"`
	Messages      []ConversationMessage `json:"messages"`
	Tools         []ToolSignature       `json:"tools,omitempty"`
	ThinkingLevel ThinkingLevel         `json:"thinkingLevel,omitempty"`
	Streaming     bool                  `json:"streaming,omitempty"`
}

// TransportResponse is what the model transport returns for one call.
// ToolRequests non-empty means the model wants another round.
type TransportResponse struct {
	Text         string        `json:"text"`
	ToolRequests []ToolRequest `json:"toolRequests,omitempty"`
	Thinking     string        `json:"thinking,omitempty"`
	Usage        TokenUsage    `json:"usage"`
}

// ── Pipeline ────────────────────────────────────────────────

// ThinkingStep is an intermediate reasoning/progress signal emitted while
// a request is being generated, distinct from the final answer.
type ThinkingStep struct {
	Round   int       `json:"round"`
	Kind    string    `json:"kind"` // "thinking", "tool_start", "tool_result"
	Detail  string    `json:"detail,omitempty"`
	Emitted time.Time `json:"emitted"`
}

// ValidationReport is the advisory outcome of response validation.
// Warnings are recorded but never block delivery.
type ValidationReport struct {
	Valid    bool     `json:"valid"`
	Score    int      `json:"score"` // 0–100
	Warnings []string `json:"warnings,omitempty"`
}

// ChatResult is the final outcome of one orchestrated request.
type ChatResult struct {
	Text       string            `json:"text"`
	ToolCalls  []ToolCallRecord  `json:"toolCalls,omitempty"`
	Usage      TokenUsage        `json:"usage"`
	Routing    RoutingDecision   `json:"routing"`
	Validation *ValidationReport `json:"validation,omitempty"`
	Rounds     int               `json:"rounds"`
	DurationMs int64             `json:"durationMs"`
}

// UsageRecord is one tenant/user accounting sample.
type UsageRecord struct {
	TenantID string    `json:"tenantId"`
	UserID   string    `json:"userId"`
	Tokens   int64     `json:"tokens"`
	Period   string    `json:"period"` // YYYY-MM
	At       time.Time `json:"at"`
}
