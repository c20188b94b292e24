// Package transport implements contracts.ModelTransport against an
// OpenAI-compatible chat completions endpoint.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/atriumhq/atrium/internal/logging"
	"github.com/atriumhq/atrium/pkg/models"
)

const defaultTimeout = 120 * time.Second

// OpenAIClient speaks the chat completions wire format with function
// tools. Any provider exposing that surface works.
type OpenAIClient struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
	log      *logging.Logger
}

func NewOpenAIClient(endpoint, apiKey, model string, log *logging.Logger) *OpenAIClient {
	return &OpenAIClient{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		apiKey:   apiKey,
		model:    model,
		client:   &http.Client{Timeout: defaultTimeout},
		log:      log.Sub("transport"),
	}
}

// ── Wire types ──────────────────────────────────────────────

type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireToolSpec `json:"function"`
}

type wireToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type chatRequest struct {
	Model           string        `json:"model"`
	Messages        []chatMessage `json:"messages"`
	Tools           []wireTool    `json:"tools,omitempty"`
	ReasoningEffort string        `json:"reasoning_effort,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   string         `json:"content"`
			ToolCalls []wireToolCall `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens            int64 `json:"prompt_tokens"`
		CompletionTokens        int64 `json:"completion_tokens"`
		TotalTokens             int64 `json:"total_tokens"`
		CompletionTokensDetails struct {
			ReasoningTokens int64 `json:"reasoning_tokens"`
		} `json:"completion_tokens_details"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// ── Complete ────────────────────────────────────────────────

func (c *OpenAIClient) Complete(ctx context.Context, req *models.TransportRequest) (*models.TransportResponse, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	body := chatRequest{
		Model:    model,
		Messages: c.buildMessages(req),
		Tools:    buildTools(req.Tools),
	}
	if req.ThinkingLevel == models.ThinkingReduced {
		body.ReasoningEffort = "low"
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("transport: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.endpoint+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("transport: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("transport: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("transport: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("transport: status %d: %s", resp.StatusCode, truncate(string(respBody), 300))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("transport: parse response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("transport: provider error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("transport: empty choices")
	}

	msg := parsed.Choices[0].Message
	out := &models.TransportResponse{
		Text: msg.Content,
		Usage: models.TokenUsage{
			InputTokens:    parsed.Usage.PromptTokens,
			OutputTokens:   parsed.Usage.CompletionTokens,
			ThinkingTokens: parsed.Usage.CompletionTokensDetails.ReasoningTokens,
			TotalTokens:    parsed.Usage.TotalTokens,
		},
	}
	for _, tc := range msg.ToolCalls {
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				c.log.Warn().Str("tool", tc.Function.Name).Err(err).Msg("unparseable tool arguments")
				args = map[string]any{}
			}
		}
		out.ToolRequests = append(out.ToolRequests, models.ToolRequest{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		})
	}

	c.log.Debug().
		Str("model", model).
		Int("toolRequests", len(out.ToolRequests)).
		Int64("tokens", out.Usage.TotalTokens).
		Dur("elapsed", time.Since(start)).
		Msg("completion")
	return out, nil
}

// buildMessages flattens the conversation into wire messages. A turn
// carrying tool call records expands into the assistant tool_calls
// message plus one tool message per result, with per-request synthetic
// IDs pairing them up.
func (c *OpenAIClient) buildMessages(req *models.TransportRequest) []chatMessage {
	out := make([]chatMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		out = append(out, chatMessage{Role: "system", Content: req.System})
	}
	callSeq := 0
	for _, m := range req.Messages {
		if len(m.ToolCalls) == 0 {
			out = append(out, chatMessage{Role: string(m.Role), Content: m.Content})
			continue
		}
		assistant := chatMessage{Role: "assistant", Content: m.Content}
		var results []chatMessage
		for _, call := range m.ToolCalls {
			callSeq++
			id := fmt.Sprintf("call_%d", callSeq)
			args, _ := json.Marshal(call.Args)
			assistant.ToolCalls = append(assistant.ToolCalls, wireToolCall{
				ID:   id,
				Type: "function",
				Function: wireFunction{
					Name:      call.ToolName,
					Arguments: string(args),
				},
			})
			results = append(results, chatMessage{
				Role:       "tool",
				ToolCallID: id,
				Content:    call.ResultSummary,
			})
		}
		out = append(out, assistant)
		out = append(out, results...)
	}
	return out
}

func buildTools(sigs []models.ToolSignature) []wireTool {
	if len(sigs) == 0 {
		return nil
	}
	out := make([]wireTool, 0, len(sigs))
	for _, s := range sigs {
		out = append(out, wireTool{
			Type: "function",
			Function: wireToolSpec{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  s.InputSchema,
			},
		})
	}
	return out
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit] + "…"
}
