package skills

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/atriumhq/atrium/internal/erp"
	"github.com/atriumhq/atrium/pkg/models"
)

// Builtin returns the built-in business-data skill set, all backed by the
// generic query executor. The now function is injectable so tests can pin
// "current month" semantics.
func Builtin(executor *erp.Executor, now func() time.Time) []*Skill {
	if now == nil {
		now = time.Now
	}
	return []*Skill{
		salesTotal(executor, now),
		searchInvoices(executor),
		productPrice(executor),
		inventoryLevel(executor),
		topCustomers(executor, now),
	}
}

// runQuery executes a SubQuery and folds any backing-system failure into
// the API_ERROR branch of the taxonomy.
func runQuery(ctx context.Context, executor *erp.Executor, sc *SkillContext, q erp.SubQuery) (*erp.QueryResult, *models.SkillResult) {
	result, err := executor.Execute(ctx, sc.Credentials, q)
	if err != nil {
		r := models.ErrResult(models.SkillAPIError, err.Error())
		return nil, &r
	}
	return result, nil
}

// parseRange reads optional start_date/end_date (YYYY-MM-DD) from input,
// defaulting to the current month.
func parseRange(input map[string]any, now func() time.Time) (erp.DateRange, error) {
	startRaw, hasStart := input["start_date"].(string)
	endRaw, hasEnd := input["end_date"].(string)
	if !hasStart && !hasEnd {
		return erp.CurrentMonth(now()), nil
	}

	r := erp.CurrentMonth(now())
	if hasStart {
		t, err := time.Parse("2006-01-02", startRaw)
		if err != nil {
			return erp.DateRange{}, fmt.Errorf("start_date: %w", err)
		}
		r.Start = t
	}
	if hasEnd {
		t, err := time.Parse("2006-01-02", endRaw)
		if err != nil {
			return erp.DateRange{}, fmt.Errorf("end_date: %w", err)
		}
		r.End = t
	}
	if !r.End.After(r.Start) {
		return erp.DateRange{}, fmt.Errorf("end_date must be after start_date")
	}
	return r, nil
}

func intArg(input map[string]any, key string, fallback int) int {
	switch v := input[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return fallback
}

// ── sales_total ─────────────────────────────────────────────

func salesTotal(executor *erp.Executor, now func() time.Time) *Skill {
	return &Skill{
		Name: "sales_total",
		Description: "Get total confirmed sales revenue and order count for a date range. " +
			"Defaults to the current month when no dates are given. " +
			"Use for questions like how much we sold, revenue this month, sales figures.",
		Contract: InputContract{Fields: []Field{
			{Name: "start_date", Type: "string", Description: "Range start, YYYY-MM-DD (inclusive)"},
			{Name: "end_date", Type: "string", Description: "Range end, YYYY-MM-DD (exclusive)"},
		}},
		Tags:     []string{"sales", "finance"},
		Priority: 10,
		Execute: func(ctx context.Context, input map[string]any, sc *SkillContext) models.SkillResult {
			dateRange, err := parseRange(input, now)
			if err != nil {
				return models.ErrResult(models.SkillValidationError, err.Error())
			}

			result, errResult := runQuery(ctx, executor, sc, erp.SubQuery{
				ID:        "sales-total",
				Entity:    "sale.order",
				Operation: erp.OpAggregate,
				Filters:   []erp.Filter{{Field: "state", Op: "=", Value: "sale"}},
				DateField: "date_order",
				DateRange: &dateRange,
				SumField:  "amount_total",
			})
			if errResult != nil {
				return *errResult
			}

			return models.OkResult(map[string]any{
				"total":      result.Total,
				"count":      result.Count,
				"start_date": dateRange.Start.Format("2006-01-02"),
				"end_date":   dateRange.End.Format("2006-01-02"),
			})
		},
	}
}

// ── search_invoices ─────────────────────────────────────────

func searchInvoices(executor *erp.Executor) *Skill {
	return &Skill{
		Name: "search_invoices",
		Description: "Search customer invoices, optionally filtered by payment state, " +
			"customer name and minimum amount. Returns matching invoices plus the " +
			"total count and amount across ALL matches, not just the listed page.",
		Contract: InputContract{Fields: []Field{
			{Name: "payment_state", Type: "string", Description: "One of: not_paid, in_payment, paid, partial, reversed"},
			{Name: "customer", Type: "string", Description: "Customer name, partial match"},
			{Name: "min_amount", Type: "number", Description: "Only invoices of at least this amount"},
			{Name: "limit", Type: "integer", Description: "Max invoices to list (default 10)"},
		}},
		Tags:     []string{"finance", "invoices"},
		Priority: 5,
		Execute: func(ctx context.Context, input map[string]any, sc *SkillContext) models.SkillResult {
			filters := []erp.Filter{{Field: "move_type", Op: "=", Value: "out_invoice"}}
			if state, ok := input["payment_state"].(string); ok && state != "" {
				filters = append(filters, erp.Filter{Field: "payment_state", Op: "=", Value: state})
			}
			if customer, ok := input["customer"].(string); ok && customer != "" {
				filters = append(filters, erp.Filter{Field: "partner_id.name", Op: "ilike", Value: customer})
			}
			if minAmount, ok := input["min_amount"].(float64); ok {
				filters = append(filters, erp.Filter{Field: "amount_total", Op: ">=", Value: minAmount})
			}

			result, errResult := runQuery(ctx, executor, sc, erp.SubQuery{
				ID:        "invoice-search",
				Entity:    "account.move",
				Operation: erp.OpSearch,
				Filters:   filters,
				SumField:  "amount_total",
				Limit:     intArg(input, "limit", 10),
				Fields:    []string{"name", "partner_id", "amount_total", "payment_state", "invoice_date"},
			})
			if errResult != nil {
				return *errResult
			}

			return models.OkResult(map[string]any{
				"invoices":  result.Records,
				"count":     result.Count,
				"total":     result.Total,
				"truncated": result.Truncated,
			})
		},
	}
}

// ── product_price ───────────────────────────────────────────

func productPrice(executor *erp.Executor) *Skill {
	return &Skill{
		Name: "product_price",
		Description: "Look up the list price of products by name. " +
			"Use when the user asks what something costs or for a price quote basis.",
		Contract: InputContract{Fields: []Field{
			{Name: "product", Type: "string", Required: true, Description: "Product name, partial match"},
		}},
		Tags:     []string{"pricing", "catalog"},
		Priority: 5,
		Execute: func(ctx context.Context, input map[string]any, sc *SkillContext) models.SkillResult {
			product := input["product"].(string)
			result, errResult := runQuery(ctx, executor, sc, erp.SubQuery{
				ID:        "product-price",
				Entity:    "product.template",
				Operation: erp.OpSearch,
				Filters:   []erp.Filter{{Field: "name", Op: "ilike", Value: product}},
				Limit:     10,
				Fields:    []string{"name", "list_price", "default_code"},
			})
			if errResult != nil {
				return *errResult
			}
			if len(result.Records) == 0 {
				return models.OkResult(map[string]any{
					"products": []any{},
					"note":     fmt.Sprintf("no products matching %q", product),
				})
			}
			return models.OkResult(map[string]any{
				"products": result.Records,
				"count":    result.Count,
			})
		},
	}
}

// ── inventory_level ─────────────────────────────────────────

func inventoryLevel(executor *erp.Executor) *Skill {
	return &Skill{
		Name: "inventory_level",
		Description: "Check on-hand stock quantities for products by name. " +
			"Use for availability and stock questions.",
		Contract: InputContract{Fields: []Field{
			{Name: "product", Type: "string", Required: true, Description: "Product name, partial match"},
		}},
		Tags:     []string{"inventory"},
		Priority: 5,
		Execute: func(ctx context.Context, input map[string]any, sc *SkillContext) models.SkillResult {
			product := input["product"].(string)
			result, errResult := runQuery(ctx, executor, sc, erp.SubQuery{
				ID:        "inventory-level",
				Entity:    "product.product",
				Operation: erp.OpSearch,
				Filters:   []erp.Filter{{Field: "name", Op: "ilike", Value: product}},
				Limit:     10,
				Fields:    []string{"name", "qty_available", "virtual_available"},
			})
			if errResult != nil {
				return *errResult
			}
			return models.OkResult(map[string]any{
				"products": result.Records,
				"count":    result.Count,
			})
		},
	}
}

// ── top_customers ───────────────────────────────────────────

func topCustomers(executor *erp.Executor, now func() time.Time) *Skill {
	return &Skill{
		Name: "top_customers",
		Description: "Rank customers by confirmed sales revenue over a date range " +
			"(default: current month). Use for best-customer and revenue-breakdown questions.",
		Contract: InputContract{Fields: []Field{
			{Name: "start_date", Type: "string", Description: "Range start, YYYY-MM-DD (inclusive)"},
			{Name: "end_date", Type: "string", Description: "Range end, YYYY-MM-DD (exclusive)"},
			{Name: "limit", Type: "integer", Description: "Max customers to return (default 5)"},
		}},
		Tags:     []string{"sales", "analytics"},
		Priority: 3,
		Execute: func(ctx context.Context, input map[string]any, sc *SkillContext) models.SkillResult {
			dateRange, err := parseRange(input, now)
			if err != nil {
				return models.ErrResult(models.SkillValidationError, err.Error())
			}

			result, errResult := runQuery(ctx, executor, sc, erp.SubQuery{
				ID:        "top-customers",
				Entity:    "sale.order",
				Operation: erp.OpReadGroup,
				Filters:   []erp.Filter{{Field: "state", Op: "=", Value: "sale"}},
				DateField: "date_order",
				DateRange: &dateRange,
				GroupBy:   "partner_id",
				SumField:  "amount_total",
			})
			if errResult != nil {
				return *errResult
			}

			limit := intArg(input, "limit", 5)
			groups := result.Groups
			// Backing system returns groups unsorted; rank by revenue.
			sort.Slice(groups, func(i, j int) bool { return groups[i].Sum > groups[j].Sum })
			if len(groups) > limit {
				groups = groups[:limit]
			}

			return models.OkResult(map[string]any{
				"customers":     groups,
				"total_revenue": result.Total,
				"order_count":   result.Count,
			})
		},
	}
}
