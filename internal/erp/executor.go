package erp

import (
	"context"
	"fmt"

	"github.com/atriumhq/atrium/internal/logging"
	"github.com/atriumhq/atrium/pkg/contracts"
)

// Executor runs SubQueries against a Backend and enforces the population
// invariant: whenever a search page is smaller than the true matching
// set, the reported count and total are upgraded from server-side
// aggregates so downstream numeric claims match reality.
type Executor struct {
	backend Backend
	log     *logging.Logger
}

// NewExecutor creates a query executor.
func NewExecutor(backend Backend, log *logging.Logger) *Executor {
	return &Executor{backend: backend, log: log.Sub("erp")}
}

// DefaultSearchLimit caps search pages when a skill asks for none.
const DefaultSearchLimit = 50

// Execute runs one SubQuery. Errors are raw backend errors; the skill
// layer normalizes them into the Result taxonomy.
func (e *Executor) Execute(ctx context.Context, creds contracts.Credentials, q SubQuery) (*QueryResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	domain := q.Domain()

	switch q.Operation {
	case OpSearch:
		return e.executeSearch(ctx, creds, q, domain)
	case OpAggregate:
		return e.executeAggregate(ctx, creds, q, domain)
	case OpReadGroup:
		rows, err := e.backend.ReadGroup(ctx, creds, q.Entity, domain, q.GroupBy, q.SumField)
		if err != nil {
			return nil, err
		}
		result := &QueryResult{Groups: rows}
		for _, r := range rows {
			result.Count += r.Count
			result.Total += r.Sum
		}
		return result, nil
	default:
		return nil, fmt.Errorf("unknown operation %q", q.Operation)
	}
}

func (e *Executor) executeSearch(ctx context.Context, creds contracts.Credentials, q SubQuery, domain []Filter) (*QueryResult, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	records, err := e.backend.SearchRead(ctx, creds, q.Entity, domain, q.Fields, limit)
	if err != nil {
		return nil, err
	}

	result := &QueryResult{
		Records: records,
		Count:   int64(len(records)),
	}
	if q.SumField != "" {
		for _, r := range records {
			if v, ok := toFloat(r[q.SumField]); ok {
				result.Total += v
			}
		}
	}

	// A full page may hide further matches. Upgrade to aggregate
	// semantics so count/total describe the whole population.
	if len(records) < limit {
		return result, nil
	}

	count, err := e.backend.SearchCount(ctx, creds, q.Entity, domain)
	if err != nil {
		return nil, err
	}
	if count <= int64(len(records)) {
		result.Count = count
		return result, nil
	}

	result.Count = count
	result.Truncated = true
	if q.SumField != "" {
		rows, err := e.backend.ReadGroup(ctx, creds, q.Entity, domain, "", q.SumField)
		if err != nil {
			return nil, err
		}
		result.Total = 0
		for _, r := range rows {
			result.Total += r.Sum
		}
	}

	e.log.Debug().
		Str("entity", q.Entity).
		Int("page", len(records)).
		Int64("population", count).
		Msg("search upgraded to aggregate semantics")

	return result, nil
}

func (e *Executor) executeAggregate(ctx context.Context, creds contracts.Credentials, q SubQuery, domain []Filter) (*QueryResult, error) {
	count, err := e.backend.SearchCount(ctx, creds, q.Entity, domain)
	if err != nil {
		return nil, err
	}
	result := &QueryResult{Count: count}

	if q.SumField != "" {
		rows, err := e.backend.ReadGroup(ctx, creds, q.Entity, domain, "", q.SumField)
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			result.Total += r.Sum
		}
	}
	return result, nil
}
