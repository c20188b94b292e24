// Package erp provides the generic query layer skills use to reach the
// tenant's backing business-data system. Skills translate their semantic
// request into SubQuery values; the Executor runs them and guarantees
// that reported counts and totals always reflect the full matching
// population, never a truncated page.
package erp

import (
	"fmt"
	"time"
)

// Operation selects how a SubQuery is evaluated.
type Operation string

const (
	// OpSearch fetches matching records up to Limit.
	OpSearch Operation = "search"
	// OpAggregate computes count/sum server-side without fetching rows.
	OpAggregate Operation = "aggregate"
	// OpReadGroup groups records by a field and aggregates per group.
	OpReadGroup Operation = "read_group"
)

// Filter is one domain condition. Filters on a SubQuery combine via
// logical AND.
type Filter struct {
	Field string `json:"field"`
	Op    string `json:"op"` // "=", "!=", ">", ">=", "<", "<=", "ilike", "in"
	Value any    `json:"value"`
}

// DateRange bounds a query on its date field, inclusive start, exclusive
// end.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// CurrentMonth returns the range covering the month containing now.
func CurrentMonth(now time.Time) DateRange {
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	return DateRange{Start: start, End: start.AddDate(0, 1, 0)}
}

// SubQuery is one structured request against the backing system.
type SubQuery struct {
	ID        string     `json:"id"`
	Entity    string     `json:"entity"`
	Operation Operation  `json:"operation"`
	Filters   []Filter   `json:"filters,omitempty"`
	DateField string     `json:"dateField,omitempty"`
	DateRange *DateRange `json:"dateRange,omitempty"`
	GroupBy   string     `json:"groupBy,omitempty"`
	SumField  string     `json:"sumField,omitempty"`
	Limit     int        `json:"limit,omitempty"`
	Fields    []string   `json:"fields,omitempty"`
}

// Domain expands the query's filters plus date range into the wire-level
// condition list sent to the backing system.
func (q *SubQuery) Domain() []Filter {
	domain := make([]Filter, 0, len(q.Filters)+2)
	domain = append(domain, q.Filters...)
	if q.DateRange != nil {
		field := q.DateField
		if field == "" {
			field = "date"
		}
		domain = append(domain,
			Filter{Field: field, Op: ">=", Value: q.DateRange.Start.Format("2006-01-02")},
			Filter{Field: field, Op: "<", Value: q.DateRange.End.Format("2006-01-02")},
		)
	}
	return domain
}

// Validate checks structural consistency before execution.
func (q *SubQuery) Validate() error {
	if q.Entity == "" {
		return fmt.Errorf("subquery %s: entity is required", q.ID)
	}
	switch q.Operation {
	case OpSearch, OpAggregate:
	case OpReadGroup:
		if q.GroupBy == "" {
			return fmt.Errorf("subquery %s: read_group requires a group-by field", q.ID)
		}
	default:
		return fmt.Errorf("subquery %s: unknown operation %q", q.ID, q.Operation)
	}
	if q.Limit < 0 {
		return fmt.Errorf("subquery %s: negative limit", q.ID)
	}
	return nil
}

// GroupRow is one aggregated bucket from a read_group query.
type GroupRow struct {
	Key   string  `json:"key"`
	Count int64   `json:"count"`
	Sum   float64 `json:"sum,omitempty"`
}

// QueryResult is the uniform outcome of executing one SubQuery.
//
// Count and Total always describe the full matching population. When a
// search page was truncated by Limit, the executor upgrades them from
// server-side aggregates rather than the fetched page.
type QueryResult struct {
	Records []map[string]any `json:"records,omitempty"`
	Groups  []GroupRow       `json:"groups,omitempty"`
	Count   int64            `json:"count"`
	Total   float64          `json:"total,omitempty"`
	// Truncated marks that Records is a partial page of Count matches.
	Truncated bool `json:"truncated,omitempty"`
}
