// Package engine runs the bounded multi-round generation loop:
//
//	call the model transport with instructions, history and tool
//	signatures → if tool calls are requested, execute them all
//	concurrently, fold the results back in → repeat until final text
//	or the round budget is exhausted → one forced-text call.
//
// The loop always terminates with non-empty text. Skill failures are
// absorbed as structured tool results the model reacts to on its next
// round; only context cancellation escapes as an error.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/atriumhq/atrium/internal/logging"
	"github.com/atriumhq/atrium/internal/skills"
	"github.com/atriumhq/atrium/pkg/contracts"
	"github.com/atriumhq/atrium/pkg/models"
)

const DefaultMaxRounds = 6

const summaryLimit = 600

// apologyText substitutes an empty final answer. The loop never
// surfaces an empty string to the caller.
const apologyText = "I'm sorry, I couldn't put together an answer this time. Please try rephrasing your question."

const forcedTextInstruction = "Tool use is no longer available. Answer the user now in plain text using the information already gathered. If the data is incomplete, say so honestly."

// Request is one generation run. OnStep/OnSummary are optional
// observers for intermediate progress; they are invoked sequentially,
// in temporal order, and never after the run has returned.
type Request struct {
	TenantID     string
	UserID       string
	Instructions string
	Messages     []models.ConversationMessage
	ToolNames    []string
	Credentials  contracts.Credentials
	Channel      models.Channel
	Model        string
	Streaming    bool
	OnStep       func(models.ThinkingStep)
	OnSummary    func(string)
}

// Result is the outcome of a completed run.
type Result struct {
	Text       string
	ToolCalls  []models.ToolCallRecord
	Usage      models.TokenUsage
	Rounds     int
	ForcedText bool
}

// Engine drives the loop against a transport and a skill registry.
type Engine struct {
	transport contracts.ModelTransport
	registry  *skills.Registry
	maxRounds int
	log       *logging.Logger
}

func New(transport contracts.ModelTransport, registry *skills.Registry, maxRounds int, log *logging.Logger) *Engine {
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	return &Engine{
		transport: transport,
		registry:  registry,
		maxRounds: maxRounds,
		log:       log.Sub("engine"),
	}
}

// Run executes the loop. The returned error is non-nil only for
// context cancellation; every other failure degrades into the
// forced-text / apology path.
func (e *Engine) Run(ctx context.Context, req *Request) (*Result, error) {
	// Intermediate steps are a streaming-only surface; the summary fires
	// either way.
	onStep := req.OnStep
	if !req.Streaming {
		onStep = nil
	}
	emitter := newEmitter(onStep, req.OnSummary)
	defer emitter.close()

	res := &Result{}
	signatures := e.registry.Signatures(req.ToolNames)
	messages := make([]models.ConversationMessage, len(req.Messages))
	copy(messages, req.Messages)

	thinking := models.ThinkingFull
	if req.Channel == models.ChannelVoice {
		thinking = models.ThinkingReduced
	}

	skillCtx := &skills.SkillContext{
		TenantID:    req.TenantID,
		UserID:      req.UserID,
		Credentials: req.Credentials,
	}

	for round := 1; round <= e.maxRounds; round++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		res.Rounds = round

		resp, err := e.complete(ctx, &models.TransportRequest{
			Model:         req.Model,
			System:        req.Instructions,
			Messages:      messages,
			Tools:         signatures,
			ThinkingLevel: thinking,
			Streaming:     req.Streaming,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.log.Warn().Int("round", round).Err(err).Msg("transport failed, degrading to forced text")
			break
		}
		res.Usage.Add(resp.Usage)

		if resp.Thinking != "" {
			emitter.step(models.ThinkingStep{Round: round, Kind: "thinking", Detail: resp.Thinking})
		}

		if len(resp.ToolRequests) == 0 {
			res.Text = strings.TrimSpace(resp.Text)
			e.finish(res, emitter)
			return res, nil
		}

		records := e.executeRound(ctx, round, resp.ToolRequests, skillCtx, emitter)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		res.ToolCalls = append(res.ToolCalls, records...)
		messages = append(messages, models.ConversationMessage{
			Role:      models.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: records,
		})
	}

	// Round budget exhausted (or transport degraded): exactly one
	// forced-text call with tools withheld.
	res.ForcedText = true
	resp, err := e.complete(ctx, &models.TransportRequest{
		Model:         req.Model,
		System:        req.Instructions + "\n\n" + forcedTextInstruction,
		Messages:      messages,
		ThinkingLevel: models.ThinkingReduced,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.log.Error().Err(err).Msg("forced-text call failed")
	} else {
		res.Usage.Add(resp.Usage)
		res.Text = strings.TrimSpace(resp.Text)
	}

	e.finish(res, emitter)
	return res, nil
}

func (e *Engine) finish(res *Result, emitter *emitter) {
	if res.Text == "" {
		res.Text = apologyText
	}
	emitter.summary(fmt.Sprintf("answered after %d round(s), %d tool call(s)", res.Rounds, len(res.ToolCalls)))
	emitter.close()
}

// complete calls the transport with a single bounded retry on failure.
func (e *Engine) complete(ctx context.Context, treq *models.TransportRequest) (*models.TransportResponse, error) {
	resp, err := e.transport.Complete(ctx, treq)
	if err == nil || ctx.Err() != nil {
		return resp, err
	}
	e.log.Debug().Err(err).Msg("transport retry")
	return e.transport.Complete(ctx, treq)
}

// executeRound runs every tool request of one round concurrently and
// joins the results in request order. A failure in one call never
// cancels its siblings: each resolves to its own result record.
func (e *Engine) executeRound(ctx context.Context, round int, requests []models.ToolRequest, sc *skills.SkillContext, em *emitter) []models.ToolCallRecord {
	records := make([]models.ToolCallRecord, len(requests))
	var wg sync.WaitGroup
	for i, tr := range requests {
		wg.Add(1)
		go func(i int, tr models.ToolRequest) {
			defer wg.Done()
			em.step(models.ThinkingStep{Round: round, Kind: "tool_start", Detail: tr.Name})

			start := time.Now()
			result := e.registry.Execute(ctx, tr.Name, tr.Args, sc)
			summary := skills.Summarize(result, summaryLimit)

			records[i] = models.ToolCallRecord{
				ToolName:      tr.Name,
				Args:          tr.Args,
				ResultSummary: summary,
				IsError:       !result.OK(),
			}
			e.log.Debug().
				Str("tool", tr.Name).
				Bool("ok", result.OK()).
				Dur("elapsed", time.Since(start)).
				Msg("tool executed")
			em.step(models.ThinkingStep{Round: round, Kind: "tool_result", Detail: tr.Name})
		}(i, tr)
	}
	wg.Wait()
	return records
}

// ── Thinking emitter ────────────────────────────────────────

// emitter serializes observer callbacks. Steps are delivered in the
// order they occur and nothing fires after close.
type emitter struct {
	mu        sync.Mutex
	closed    bool
	onStep    func(models.ThinkingStep)
	onSummary func(string)
}

func newEmitter(onStep func(models.ThinkingStep), onSummary func(string)) *emitter {
	return &emitter{onStep: onStep, onSummary: onSummary}
}

func (e *emitter) step(s models.ThinkingStep) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.onStep == nil {
		return
	}
	s.Emitted = time.Now()
	e.onStep(s)
}

func (e *emitter) summary(text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.onSummary == nil {
		return
	}
	e.onSummary(text)
}

func (e *emitter) close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
}
