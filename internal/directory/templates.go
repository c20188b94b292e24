package directory

import (
	"context"
	"errors"
	"time"

	"github.com/atriumhq/atrium/pkg/models"
)

// template is a built-in platform agent blueprint. Seeded copies carry
// the template id as TemplateOriginID, which forbids physical deletion.
type template struct {
	ID           string
	Slug         string
	Name         string
	Description  string
	SystemPrompt string
	ToolNames    []string
	Keywords     []string
}

var builtinTemplates = []template{
	{
		ID:   "tpl-general",
		Slug: "general",
		Name: "General Assistant",
		Description: "All-purpose assistant for questions that need no business-data specialist.",
		SystemPrompt: "You are a helpful, concise company assistant. Today is {{CURRENT_DATE}}. " +
			"Answer in the user's language.",
	},
	{
		ID:   "tpl-erp-analyst",
		Slug: "erp-analyst",
		Name: "ERP Analyst",
		Description: "Specialist for business operations data: sales, invoices, inventory, customers.",
		SystemPrompt: "You are an ERP data analyst. Today is {{CURRENT_DATE}}. " +
			"Ground every number in retrieved business data; when data could not be " +
			"retrieved, say so instead of estimating.",
		ToolNames: []string{"sales_total", "search_invoices", "inventory_level", "top_customers"},
		Keywords: []string{
			"sales", "revenue", "invoice", "invoices", "facturas", "ventas",
			"vendimos", "inventory", "stock", "orders", "pedidos", "customers",
			"clientes", "this month", "este mes",
		},
	},
	{
		ID:   "tpl-pricing-analyst",
		Slug: "pricing-analyst",
		Name: "Pricing Analyst",
		Description: "Specialist for product pricing and quotation questions.",
		SystemPrompt: "You are a pricing analyst. Today is {{CURRENT_DATE}}. " +
			"Quote list prices from the catalog; never invent a price.",
		ToolNames: []string{"product_price"},
		Keywords: []string{
			"price", "precio", "cost", "cuesta", "quote", "cotización",
			"pricing", "list price", "tarifa",
		},
	},
	{
		ID:   "tpl-legal-expert",
		Slug: "legal-expert",
		Name: "Legal Expert",
		Description: "Specialist for contract and compliance questions. Gives general guidance, not legal advice.",
		SystemPrompt: "You are a legal information specialist. Today is {{CURRENT_DATE}}. " +
			"Provide general guidance and always recommend professional counsel for decisions.",
		Keywords: []string{
			"contract", "contrato", "legal", "compliance", "liability",
			"terms and conditions", "clause", "cláusula",
		},
	},
	{
		ID:   "tpl-tax-expert",
		Slug: "tax-expert",
		Name: "Tax Expert",
		Description: "Specialist for tax and fiscal questions. Gives general guidance, not tax advice.",
		SystemPrompt: "You are a tax information specialist. Today is {{CURRENT_DATE}}. " +
			"Provide general guidance and always recommend a certified advisor for filings.",
		Keywords: []string{
			"tax", "taxes", "impuesto", "impuestos", "vat", "iva",
			"withholding", "retención", "fiscal", "deduction",
		},
	},
}

// GeneralAgentSlug is the tenant's default agent when routing finds no
// specialist.
const GeneralAgentSlug = "general"

// SeedTemplates ensures every built-in template exists for the tenant.
// Existing agents are left untouched so admin edits survive restarts.
func (d *Directory) SeedTemplates(ctx context.Context, tenantID string) error {
	for _, tpl := range builtinTemplates {
		existing, err := d.store.GetAgent(ctx, tenantID, tpl.Slug)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if existing != nil {
			continue
		}

		originID := tpl.ID
		now := time.Now().UTC()
		agent := &models.AgentDefinition{
			Slug:               tpl.Slug,
			TenantID:           tenantID,
			Name:               tpl.Name,
			Description:        tpl.Description,
			SystemPrompt:       tpl.SystemPrompt,
			MergedSystemPrompt: tpl.SystemPrompt,
			ToolNames:          append([]string(nil), tpl.ToolNames...),
			Keywords:           append([]string(nil), tpl.Keywords...),
			IsActive:           true,
			TemplateOriginID:   &originID,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if err := d.store.CreateAgent(ctx, agent); err != nil {
			return err
		}
		d.log.Info().Str("tenant", tenantID).Str("slug", tpl.Slug).Msg("seeded template agent")
	}
	return nil
}
