package transport_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/atriumhq/atrium/internal/logging"
	"github.com/atriumhq/atrium/internal/transport"
	"github.com/atriumhq/atrium/pkg/models"
)

func newServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *transport.OpenAIClient) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, transport.NewOpenAIClient(srv.URL, "test-key", "test-model", logging.Nop())
}

func TestCompleteTextResponse(t *testing.T) {
	var gotBody map[string]any
	_, client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Authorization = %q", auth)
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		_, _ = w.Write([]byte(`{
			"choices":[{"message":{"content":"hello there"}}],
			"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}
		}`))
	})

	resp, err := client.Complete(context.Background(), &models.TransportRequest{
		System:   "be brief",
		Messages: []models.ConversationMessage{{Role: models.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if resp.Text != "hello there" {
		t.Errorf("Text = %q", resp.Text)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("TotalTokens = %d, want 15", resp.Usage.TotalTokens)
	}

	msgs, _ := gotBody["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("wire messages = %d, want system + user", len(msgs))
	}
	first, _ := msgs[0].(map[string]any)
	if first["role"] != "system" || first["content"] != "be brief" {
		t.Errorf("first message = %v", first)
	}
	if gotBody["model"] != "test-model" {
		t.Errorf("model = %v, want configured default", gotBody["model"])
	}
}

func TestCompleteParsesToolCalls(t *testing.T) {
	_, client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"choices":[{"message":{"content":"","tool_calls":[
				{"id":"call_abc","type":"function","function":{"name":"sales_total","arguments":"{\"start_date\":\"2026-08-01\"}"}}
			]}}],
			"usage":{"total_tokens":20}
		}`))
	})

	resp, err := client.Complete(context.Background(), &models.TransportRequest{
		Messages: []models.ConversationMessage{{Role: models.RoleUser, Content: "sales?"}},
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if len(resp.ToolRequests) != 1 {
		t.Fatalf("ToolRequests = %d, want 1", len(resp.ToolRequests))
	}
	tr := resp.ToolRequests[0]
	if tr.Name != "sales_total" || tr.ID != "call_abc" {
		t.Errorf("tool request = %+v", tr)
	}
	if tr.Args["start_date"] != "2026-08-01" {
		t.Errorf("Args = %v", tr.Args)
	}
}

func TestCompleteExpandsToolResultTurns(t *testing.T) {
	var gotBody struct {
		Messages []map[string]any `json:"messages"`
	}
	_, client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"done"}}],"usage":{}}`))
	})

	_, err := client.Complete(context.Background(), &models.TransportRequest{
		Messages: []models.ConversationMessage{
			{Role: models.RoleUser, Content: "sales?"},
			{Role: models.RoleAssistant, ToolCalls: []models.ToolCallRecord{
				{ToolName: "sales_total", Args: map[string]any{}, ResultSummary: `{"total":100}`},
			}},
		},
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	// user, assistant-with-tool_calls, tool result
	if len(gotBody.Messages) != 3 {
		t.Fatalf("wire messages = %d, want 3", len(gotBody.Messages))
	}
	if gotBody.Messages[1]["role"] != "assistant" {
		t.Errorf("second role = %v", gotBody.Messages[1]["role"])
	}
	toolMsg := gotBody.Messages[2]
	if toolMsg["role"] != "tool" || toolMsg["content"] != `{"total":100}` {
		t.Errorf("tool message = %v", toolMsg)
	}
	if toolMsg["tool_call_id"] == "" {
		t.Error("tool message missing tool_call_id")
	}
}

func TestCompleteReducedThinkingSetsEffort(t *testing.T) {
	var gotBody map[string]any
	_, client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}],"usage":{}}`))
	})

	_, err := client.Complete(context.Background(), &models.TransportRequest{
		Messages:      []models.ConversationMessage{{Role: models.RoleUser, Content: "hi"}},
		ThinkingLevel: models.ThinkingReduced,
	})
	if err != nil {
		t.Fatal(err)
	}
	if gotBody["reasoning_effort"] != "low" {
		t.Errorf("reasoning_effort = %v, want low", gotBody["reasoning_effort"])
	}
}

func TestCompleteErrorStatus(t *testing.T) {
	_, client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
	})

	_, err := client.Complete(context.Background(), &models.TransportRequest{
		Messages: []models.ConversationMessage{{Role: models.RoleUser, Content: "hi"}},
	})
	if err == nil {
		t.Fatal("Complete() error = nil, want status error")
	}
}

func TestCompleteHonorsContextCancellation(t *testing.T) {
	_, client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.Complete(ctx, &models.TransportRequest{
		Messages: []models.ConversationMessage{{Role: models.RoleUser, Content: "hi"}},
	})
	if err == nil {
		t.Fatal("Complete() error = nil, want context error")
	}
}
