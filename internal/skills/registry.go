// Package skills implements the catalog of typed business-data
// operations the model may invoke, and the uniform execution discipline
// wrapped around every one of them:
//
//	validate input → resolve credentials → query backing system →
//	normalize every failure into the Result taxonomy.
//
// Skills never propagate raw backing-system errors past this boundary.
package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/atriumhq/atrium/internal/logging"
	"github.com/atriumhq/atrium/pkg/contracts"
	"github.com/atriumhq/atrium/pkg/models"
)

// SkillContext carries per-request execution state into a skill. It is
// built once per request, immutable for that request's lifetime, and
// never shared across concurrent requests.
type SkillContext struct {
	TenantID    string
	UserID      string
	Credentials contracts.Credentials
}

// Field is one entry of a skill's structural input contract.
type Field struct {
	Name        string
	Type        string // "string", "number", "integer", "boolean"
	Required    bool
	Description string
}

// InputContract is the structural validation applied to raw model-supplied
// arguments before a skill runs.
type InputContract struct {
	Fields []Field
}

// Parse checks raw input against the contract. It returns an explicit
// error rather than panicking or coercing; every skill consumes the same
// ok/error shape before touching the backing system.
func (c InputContract) Parse(raw map[string]any) (map[string]any, error) {
	if raw == nil {
		raw = map[string]any{}
	}
	for _, f := range c.Fields {
		v, present := raw[f.Name]
		if !present || v == nil {
			if f.Required {
				return nil, fmt.Errorf("missing required field %q", f.Name)
			}
			continue
		}
		if err := checkType(f, v); err != nil {
			return nil, err
		}
	}
	return raw, nil
}

func checkType(f Field, v any) error {
	switch f.Type {
	case "string":
		if _, ok := v.(string); !ok {
			return fmt.Errorf("field %q: expected string, got %T", f.Name, v)
		}
	case "number", "integer":
		switch v.(type) {
		case float64, int, int64:
		default:
			return fmt.Errorf("field %q: expected %s, got %T", f.Name, f.Type, v)
		}
	case "boolean":
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("field %q: expected boolean, got %T", f.Name, v)
		}
	}
	return nil
}

// Schema renders the contract as the JSON-schema object sent with tool
// signatures.
func (c InputContract) Schema() map[string]any {
	props := map[string]any{}
	var required []string
	for _, f := range c.Fields {
		props[f.Name] = map[string]any{
			"type":        f.Type,
			"description": f.Description,
		}
		if f.Required {
			required = append(required, f.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// ExecuteFunc runs a validated skill invocation.
type ExecuteFunc func(ctx context.Context, input map[string]any, sc *SkillContext) models.SkillResult

// Skill is one named, typed operation.
type Skill struct {
	Name        string
	Description string
	Contract    InputContract
	Tags        []string
	Priority    int
	Execute     ExecuteFunc
}

// Registry is the closed skill catalog, built once at process start and
// keyed by name. Looking up an unknown name is an error, never a silent
// no-op.
type Registry struct {
	skills map[string]*Skill
	log    *logging.Logger
}

// NewRegistry validates and indexes the given skills. Registration
// errors are startup errors by design.
func NewRegistry(log *logging.Logger, skills ...*Skill) (*Registry, error) {
	r := &Registry{
		skills: make(map[string]*Skill, len(skills)),
		log:    log.Sub("skills"),
	}
	for _, s := range skills {
		if s.Name == "" {
			return nil, fmt.Errorf("skill with empty name")
		}
		if s.Description == "" {
			return nil, fmt.Errorf("skill %s: empty description", s.Name)
		}
		if s.Execute == nil {
			return nil, fmt.Errorf("skill %s: nil execute function", s.Name)
		}
		if _, dup := r.skills[s.Name]; dup {
			return nil, fmt.Errorf("skill %s: duplicate registration", s.Name)
		}
		r.skills[s.Name] = s
	}
	return r, nil
}

// Get returns the named skill.
func (r *Registry) Get(name string) (*Skill, error) {
	s, ok := r.skills[name]
	if !ok {
		return nil, fmt.Errorf("unknown skill %q", name)
	}
	return s, nil
}

// Names returns all registered skill names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.skills))
	for name := range r.skills {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Signatures resolves an agent's declared tool names into transport tool
// signatures, ordered by priority then name. Names that resolve to no
// skill are skipped with a warning: an agent definition can momentarily
// reference a skill that was removed from the build.
func (r *Registry) Signatures(toolNames []string) []models.ToolSignature {
	resolved := make([]*Skill, 0, len(toolNames))
	for _, name := range toolNames {
		s, ok := r.skills[name]
		if !ok {
			r.log.Warn().Str("skill", name).Msg("agent references unknown skill")
			continue
		}
		resolved = append(resolved, s)
	}
	sort.Slice(resolved, func(i, j int) bool {
		if resolved[i].Priority != resolved[j].Priority {
			return resolved[i].Priority > resolved[j].Priority
		}
		return resolved[i].Name < resolved[j].Name
	})

	sigs := make([]models.ToolSignature, 0, len(resolved))
	for _, s := range resolved {
		sigs = append(sigs, models.ToolSignature{
			Name:        s.Name,
			Description: s.Description,
			InputSchema: s.Contract.Schema(),
		})
	}
	return sigs
}

// Execute runs one skill invocation through the full discipline. The
// returned Result is always well-formed; failures of any kind map onto
// the error taxonomy instead of escaping.
func (r *Registry) Execute(ctx context.Context, name string, raw map[string]any, sc *SkillContext) (result models.SkillResult) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().Str("skill", name).Any("panic", rec).Msg("skill panicked")
			result = models.ErrResult(models.SkillAPIError, fmt.Sprintf("skill %s failed unexpectedly", name))
		}
	}()

	s, err := r.Get(name)
	if err != nil {
		return models.ErrResult(models.SkillValidationError, err.Error())
	}

	input, err := s.Contract.Parse(raw)
	if err != nil {
		return models.ErrResult(models.SkillValidationError, err.Error())
	}

	if sc == nil || sc.Credentials.Empty() {
		return models.ErrResult(models.SkillAuthError, "no backing-system credentials configured for tenant")
	}

	return s.Execute(ctx, input, sc)
}

// Summarize renders a result for the tool-result turn fed back to the
// model, truncated so a verbose payload cannot flood the context.
func Summarize(result models.SkillResult, limit int) string {
	if limit <= 0 {
		limit = 2000
	}
	var text string
	if !result.OK() {
		e := result.Err()
		text = fmt.Sprintf("error %s: %s", e.Code, e.Message)
	} else if data, err := json.Marshal(result.Payload()); err == nil {
		text = string(data)
	} else {
		text = fmt.Sprintf("%v", result.Payload())
	}
	text = strings.TrimSpace(text)
	if len(text) > limit {
		// back up to a rune boundary so the cut never yields invalid UTF-8
		cut := limit
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut] + "…"
	}
	return text
}
