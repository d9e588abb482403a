package handlers

import (
	"context"
	"strconv"
	"strings"

	"github.com/veridian-labs/veridian/core/pkg/api"
	"github.com/veridian-labs/veridian/core/pkg/feedback"
)

// FeedbackHandlers exposes feedback submission, trained model inspection,
// on-demand learning, and feedback pattern analysis.
type FeedbackHandlers struct {
	system *feedback.System
}

func NewFeedbackHandlers(system *feedback.System) *FeedbackHandlers {
	return &FeedbackHandlers{system: system}
}

type submitFeedbackRequest struct {
	Kind         string                 `json:"kind"`
	TargetEntity string                 `json:"target_entity"`
	DecisionID   string                 `json:"decision_id"`
	Context      string                 `json:"context"`
	Score        float64                `json:"score"`
	Priority     string                 `json:"priority"`
	Text         string                 `json:"text"`
	Metadata     map[string]interface{} `json:"metadata"`
}

func (h *FeedbackHandlers) Submit(ctx context.Context, req *api.Request) *api.Response {
	var body submitFeedbackRequest
	if err := decode(req.Body, &body); err != nil {
		return api.BadRequest(err.Error())
	}
	if strings.TrimSpace(body.TargetEntity) == "" {
		return api.BadRequest("target_entity is required")
	}
	kind := feedback.Kind(body.Kind)
	switch kind {
	case feedback.KindHumanExplicit, feedback.KindHumanImplicit,
		feedback.KindSystemValidation, feedback.KindPerformanceMetric:
	case "":
		kind = feedback.KindHumanExplicit
	default:
		return api.BadRequest("unknown feedback kind")
	}
	priority := feedback.Priority(body.Priority)
	switch priority {
	case "", feedback.PriorityLow, feedback.PriorityMedium,
		feedback.PriorityHigh, feedback.PriorityCritical:
	default:
		return api.BadRequest("priority must be low, medium, high, or critical")
	}

	f, err := h.system.Submit(ctx, feedback.Data{
		Kind:         kind,
		SourceEntity: req.CallerID,
		TargetEntity: body.TargetEntity,
		DecisionID:   body.DecisionID,
		Context:      body.Context,
		Score:        body.Score,
		Priority:     priority,
		Text:         body.Text,
		Metadata:     body.Metadata,
	})
	if err != nil {
		return api.Internal(err)
	}
	return api.Created(f)
}

// Model returns the trained model of one type for an entity.
func (h *FeedbackHandlers) Model(ctx context.Context, req *api.Request) *api.Response {
	entityID := req.Params["entityId"]
	mt := feedback.ModelType(req.Query.Get("type"))
	switch mt {
	case "":
		mt = feedback.ModelDecision
	case feedback.ModelDecision, feedback.ModelBehavior, feedback.ModelRisk:
	default:
		return api.BadRequest("type must be decision, behavior, or risk")
	}

	m, ok := h.system.GetModel(entityID, mt)
	if !ok {
		return api.NotFound("no trained model for entity")
	}
	return api.OK(m)
}

type learnRequest struct {
	EntityID string `json:"entity_id"`
}

// Learn triggers a learning pass for one entity, or all when entity_id is
// empty.
func (h *FeedbackHandlers) Learn(ctx context.Context, req *api.Request) *api.Response {
	var body learnRequest
	if len(req.Body) > 0 {
		if err := decode(req.Body, &body); err != nil {
			return api.BadRequest(err.Error())
		}
	}
	updated := h.system.ApplyLearning(ctx, body.EntityID)
	return api.Accepted(map[string]interface{}{"models_updated": updated})
}

// Analysis summarizes recent feedback for an entity.
func (h *FeedbackHandlers) Analysis(ctx context.Context, req *api.Request) *api.Response {
	entityID := req.Params["entityId"]
	daysBack := 30
	if raw := req.Query.Get("days"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			daysBack = v
		}
	}
	return api.OK(h.system.AnalyzeFeedbackPatterns(entityID, daysBack))
}

// Stats reports feedback system counters.
func (h *FeedbackHandlers) Stats(ctx context.Context, req *api.Request) *api.Response {
	return api.OK(h.system.Stats())
}
