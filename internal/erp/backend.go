package erp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/atriumhq/atrium/pkg/contracts"
)

// Backend is the low-level call surface against the backing system.
// The HTTP implementation speaks the system's JSON-RPC dialect; tests
// substitute a fake.
type Backend interface {
	// SearchRead fetches up to limit matching records.
	SearchRead(ctx context.Context, creds contracts.Credentials, entity string, domain []Filter, fields []string, limit int) ([]map[string]any, error)

	// SearchCount returns the full matching population size.
	SearchCount(ctx context.Context, creds contracts.Credentials, entity string, domain []Filter) (int64, error)

	// ReadGroup aggregates matching records server-side, grouped by
	// groupBy when non-empty, summing sumField when non-empty.
	ReadGroup(ctx context.Context, creds contracts.Credentials, entity string, domain []Filter, groupBy, sumField string) ([]GroupRow, error)
}

// HTTPBackend talks JSON-RPC to the backing system's /jsonrpc endpoint.
type HTTPBackend struct {
	client *http.Client
}

// NewHTTPBackend creates a backend with a bounded request timeout.
func NewHTTPBackend() *HTTPBackend {
	return &HTTPBackend{
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

type rpcRequest struct {
	Jsonrpc string    `json:"jsonrpc"`
	Method  string    `json:"method"`
	Params  rpcParams `json:"params"`
	ID      string    `json:"id"`
}

type rpcParams struct {
	Service string `json:"service"`
	Method  string `json:"method"`
	Args    []any  `json:"args"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Message string `json:"message"`
		Data    struct {
			Message string `json:"message"`
		} `json:"data"`
	} `json:"error"`
}

// wireDomain converts filters to the triple form the backing system
// expects: [field, op, value].
func wireDomain(domain []Filter) [][]any {
	out := make([][]any, 0, len(domain))
	for _, f := range domain {
		out = append(out, []any{f.Field, f.Op, f.Value})
	}
	return out
}

func (b *HTTPBackend) call(ctx context.Context, creds contracts.Credentials, model, method string, args []any) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{
		Jsonrpc: "2.0",
		Method:  "call",
		Params: rpcParams{
			Service: "object",
			Method:  "execute_kw",
			Args: append([]any{
				creds.Database, creds.Username, creds.APIKey, model, method,
			}, args...),
		},
		ID: uuid.New().String(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := creds.BaseURL + "/jsonrpc"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("status %d: %s", httpResp.StatusCode, string(respBody))
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if rpcResp.Error != nil {
		msg := rpcResp.Error.Data.Message
		if msg == "" {
			msg = rpcResp.Error.Message
		}
		return nil, fmt.Errorf("backend error: %s", msg)
	}
	return rpcResp.Result, nil
}

// SearchRead implements Backend.
func (b *HTTPBackend) SearchRead(ctx context.Context, creds contracts.Credentials, entity string, domain []Filter, fields []string, limit int) ([]map[string]any, error) {
	kwargs := map[string]any{"limit": limit}
	if len(fields) > 0 {
		kwargs["fields"] = fields
	}
	raw, err := b.call(ctx, creds, entity, "search_read", []any{
		[]any{wireDomain(domain)}, kwargs,
	})
	if err != nil {
		return nil, fmt.Errorf("%s search_read: %w", entity, err)
	}

	var records []map[string]any
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("%s search_read: decode records: %w", entity, err)
	}
	return records, nil
}

// SearchCount implements Backend.
func (b *HTTPBackend) SearchCount(ctx context.Context, creds contracts.Credentials, entity string, domain []Filter) (int64, error) {
	raw, err := b.call(ctx, creds, entity, "search_count", []any{
		[]any{wireDomain(domain)},
	})
	if err != nil {
		return 0, fmt.Errorf("%s search_count: %w", entity, err)
	}

	var count int64
	if err := json.Unmarshal(raw, &count); err != nil {
		return 0, fmt.Errorf("%s search_count: decode count: %w", entity, err)
	}
	return count, nil
}

// ReadGroup implements Backend.
func (b *HTTPBackend) ReadGroup(ctx context.Context, creds contracts.Credentials, entity string, domain []Filter, groupBy, sumField string) ([]GroupRow, error) {
	fields := []string{}
	if sumField != "" {
		fields = append(fields, sumField)
	}
	groupList := []string{}
	if groupBy != "" {
		groupList = append(groupList, groupBy)
	}

	raw, err := b.call(ctx, creds, entity, "read_group", []any{
		[]any{wireDomain(domain), fields, groupList},
	})
	if err != nil {
		return nil, fmt.Errorf("%s read_group: %w", entity, err)
	}

	var buckets []map[string]any
	if err := json.Unmarshal(raw, &buckets); err != nil {
		return nil, fmt.Errorf("%s read_group: decode groups: %w", entity, err)
	}

	rows := make([]GroupRow, 0, len(buckets))
	for _, bucket := range buckets {
		row := GroupRow{Key: groupKey(bucket, groupBy)}
		if n, ok := toFloat(bucket[groupBy+"_count"]); ok {
			row.Count = int64(n)
		} else if n, ok := toFloat(bucket["__count"]); ok {
			row.Count = int64(n)
		}
		if sumField != "" {
			if s, ok := toFloat(bucket[sumField]); ok {
				row.Sum = s
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// groupKey extracts a printable group label. The backing system returns
// relational fields as [id, display_name] pairs.
func groupKey(bucket map[string]any, groupBy string) string {
	if groupBy == "" {
		return ""
	}
	switch v := bucket[groupBy].(type) {
	case string:
		return v
	case []any:
		if len(v) == 2 {
			if name, ok := v[1].(string); ok {
				return name
			}
		}
	case float64:
		return fmt.Sprintf("%v", v)
	}
	return fmt.Sprintf("%v", bucket[groupBy])
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
