// Package handlers implements the HTTP handlers for the Atrium API:
// the chat endpoint driving the orchestration pipeline and the admin
// surface for agent definitions and usage reporting.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/atriumhq/atrium/internal/api/middleware"
	"github.com/atriumhq/atrium/internal/directory"
	"github.com/atriumhq/atrium/internal/logging"
	"github.com/atriumhq/atrium/internal/pipeline"
	"github.com/atriumhq/atrium/internal/usage"
	"github.com/atriumhq/atrium/pkg/models"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Directory *directory.Directory
	Pipeline  *pipeline.Pipeline
	Usage     *usage.Meter
	Log       *logging.Logger
}

// New creates a Handlers instance.
func New(dir *directory.Directory, p *pipeline.Pipeline, meter *usage.Meter, log *logging.Logger) *Handlers {
	return &Handlers{Directory: dir, Pipeline: p, Usage: meter, Log: log.Sub("handlers")}
}

// ── Chat ────────────────────────────────────────────────────

type chatRequest struct {
	AgentSlug     string                       `json:"agentSlug"`
	Messages      []models.ConversationMessage `json:"messages"`
	Channel       models.Channel               `json:"channel"`
	Streaming     bool                         `json:"streaming"`
	MentionedSlug string                       `json:"mentionedAgentSlug"`
	UserEmail     string                       `json:"userEmail"`
	UserID        string                       `json:"userId"`
}

// Chat runs one conversational turn through the pipeline.
func (h *Handlers) Chat(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.GetTenantID(r.Context())

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Messages) == 0 {
		respondError(w, http.StatusBadRequest, "messages must not be empty")
		return
	}
	if req.Channel == "" {
		req.Channel = models.ChannelWeb
	}
	if !req.Channel.Valid() {
		respondError(w, http.StatusBadRequest, "unknown channel "+string(req.Channel))
		return
	}
	if req.AgentSlug == "" {
		req.AgentSlug = directory.GeneralAgentSlug
	}
	if req.UserID == "" {
		req.UserID = req.UserEmail
	}

	agent, err := h.Directory.GetAgentBySlug(r.Context(), tenant, req.AgentSlug)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if agent == nil || !agent.IsActive {
		respondError(w, http.StatusNotFound, "agent "+req.AgentSlug+" not found")
		return
	}

	result, err := h.Pipeline.ProcessRequest(r.Context(), &pipeline.Request{
		TenantID:      tenant,
		UserEmail:     req.UserEmail,
		UserID:        req.UserID,
		Agent:         agent,
		Messages:      req.Messages,
		Channel:       req.Channel,
		Streaming:     req.Streaming,
		MentionedSlug: req.MentionedSlug,
	})
	if err != nil {
		if errors.Is(err, usage.ErrLimitExceeded) {
			respondError(w, http.StatusTooManyRequests, err.Error())
			return
		}
		if r.Context().Err() != nil {
			// Client went away; nothing left to answer.
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// ── Agent Admin ─────────────────────────────────────────────

func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.GetTenantID(r.Context())
	agents, err := h.Directory.ListAllAgents(r.Context(), tenant)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if agents == nil {
		agents = []models.AgentDefinition{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"agents": agents})
}

func (h *Handlers) GetAgent(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.GetTenantID(r.Context())
	slug := chi.URLParam(r, "slug")

	agent, err := h.Directory.GetAgentBySlug(r.Context(), tenant, slug)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if agent == nil {
		respondError(w, http.StatusNotFound, "agent "+slug+" not found")
		return
	}
	respondJSON(w, http.StatusOK, agent)
}

func (h *Handlers) CreateAgent(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.GetTenantID(r.Context())

	var agent models.AgentDefinition
	if err := json.NewDecoder(r.Body).Decode(&agent); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	agent.TenantID = tenant
	agent.IsActive = true
	agent.TemplateOriginID = nil // admin-created agents are never template-derived

	if err := h.Directory.CreateAgent(r.Context(), &agent); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, agent)
}

func (h *Handlers) UpdateAgent(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.GetTenantID(r.Context())
	slug := chi.URLParam(r, "slug")

	existing, err := h.Directory.GetAgentBySlug(r.Context(), tenant, slug)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if existing == nil {
		respondError(w, http.StatusNotFound, "agent "+slug+" not found")
		return
	}

	var patch agentPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	applyPatch(existing, &patch)

	if err := h.Directory.UpdateAgent(r.Context(), existing); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, existing)
}

func (h *Handlers) DeleteAgent(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.GetTenantID(r.Context())
	slug := chi.URLParam(r, "slug")

	err := h.Directory.DeleteAgent(r.Context(), tenant, slug)
	switch {
	case errors.Is(err, directory.ErrNotFound):
		respondError(w, http.StatusNotFound, "agent "+slug+" not found")
	case errors.Is(err, directory.ErrTemplateDerived):
		respondError(w, http.StatusConflict, err.Error())
	case err != nil:
		respondError(w, http.StatusInternalServerError, err.Error())
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handlers) DeactivateAgent(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.GetTenantID(r.Context())
	slug := chi.URLParam(r, "slug")

	err := h.Directory.Deactivate(r.Context(), tenant, slug)
	switch {
	case errors.Is(err, directory.ErrNotFound):
		respondError(w, http.StatusNotFound, "agent "+slug+" not found")
	case err != nil:
		respondError(w, http.StatusInternalServerError, err.Error())
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// ── Usage ───────────────────────────────────────────────────

func (h *Handlers) GetUsage(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.GetTenantID(r.Context())
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "userId query parameter is required")
		return
	}
	rec, err := h.Usage.Current(r.Context(), tenant, userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// ── Helpers ─────────────────────────────────────────────────

// agentPatch uses pointers so an absent field is distinguishable from
// its zero value: a name-only PATCH must not flip IsActive to false.
type agentPatch struct {
	Name               *string  `json:"name"`
	Description        *string  `json:"description"`
	SystemPrompt       *string  `json:"systemPrompt"`
	MergedSystemPrompt *string  `json:"mergedSystemPrompt"`
	ToolNames          []string `json:"toolNames"`
	Keywords           []string `json:"keywords"`
	RAGEnabled         *bool    `json:"ragEnabled"`
	IsActive           *bool    `json:"isActive"`
}

// applyPatch copies the fields present in patch onto existing. Slug and
// tenant are immutable; template origin is preserved so the deletion
// rule cannot be laundered away through an update.
func applyPatch(existing *models.AgentDefinition, patch *agentPatch) {
	if patch.Name != nil {
		existing.Name = *patch.Name
	}
	if patch.Description != nil {
		existing.Description = *patch.Description
	}
	if patch.SystemPrompt != nil {
		existing.SystemPrompt = *patch.SystemPrompt
		existing.MergedSystemPrompt = ""
	}
	if patch.MergedSystemPrompt != nil {
		existing.MergedSystemPrompt = *patch.MergedSystemPrompt
	}
	if patch.ToolNames != nil {
		existing.ToolNames = patch.ToolNames
	}
	if patch.Keywords != nil {
		existing.Keywords = patch.Keywords
	}
	if patch.RAGEnabled != nil {
		existing.RAGEnabled = *patch.RAGEnabled
	}
	if patch.IsActive != nil {
		existing.IsActive = *patch.IsActive
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
