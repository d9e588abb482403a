package handlers

import (
	"context"
	"strconv"

	"github.com/veridian-labs/veridian/core/pkg/api"
	"github.com/veridian-labs/veridian/core/pkg/patterns"
)

// PatternHandlers exposes discovered patterns and on-demand analysis.
type PatternHandlers struct {
	engine *patterns.Engine
	store  *patterns.PostgresStore
}

func NewPatternHandlers(engine *patterns.Engine, store *patterns.PostgresStore) *PatternHandlers {
	return &PatternHandlers{engine: engine, store: store}
}

// List returns persisted patterns, merged with the live engine set when
// includeLive=true. Without a persistence store the live set is all there is.
func (h *PatternHandlers) List(ctx context.Context, req *api.Request) *api.Response {
	kind := patterns.Kind(req.Query.Get("type"))
	if kind != "" {
		known := false
		for _, k := range patterns.Kinds {
			if kind == k {
				known = true
				break
			}
		}
		if !known {
			return api.BadRequest("unknown pattern type")
		}
	}
	minConfidence := patterns.Confidence(req.Query.Get("minConfidence"))
	switch minConfidence {
	case "", patterns.ConfidenceLow, patterns.ConfidenceMedium,
		patterns.ConfidenceHigh, patterns.ConfidenceVeryHigh:
	default:
		return api.BadRequest("minConfidence must be low, medium, high, or very_high")
	}

	limit := 100
	if raw := req.Query.Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}

	includeLive := req.Query.Get("includeLive") == "true"

	var items []*patterns.Pattern
	if h.store != nil {
		stored, err := h.store.ListPatterns(ctx, limit)
		if err != nil {
			return api.Internal(err)
		}
		for _, p := range stored {
			if kind != "" && p.Kind != kind {
				continue
			}
			items = append(items, p)
		}
	}
	if includeLive || h.store == nil {
		seen := map[string]bool{}
		for _, p := range items {
			seen[p.ID] = true
		}
		for _, p := range h.engine.GetPatterns(kind, minConfidence) {
			if !seen[p.ID] {
				items = append(items, p)
			}
		}
	}

	if len(items) > limit {
		items = items[:limit]
	}
	if items == nil {
		items = []*patterns.Pattern{}
	}
	return api.OK(map[string]interface{}{"items": items})
}

func (h *PatternHandlers) Get(ctx context.Context, req *api.Request) *api.Response {
	p, ok := h.engine.GetPattern(req.Params["id"])
	if !ok {
		return api.NotFound("pattern not found")
	}
	return api.OK(p)
}

type detectRequest struct {
	EntityID string `json:"entity_id"`
}

// Detect runs the analyzers for one entity immediately instead of waiting
// for the background cadence.
func (h *PatternHandlers) Detect(ctx context.Context, req *api.Request) *api.Response {
	var body detectRequest
	if err := decode(req.Body, &body); err != nil {
		return api.BadRequest(err.Error())
	}
	if body.EntityID == "" {
		return api.BadRequest("entity_id is required")
	}

	discovered := h.engine.Analyze(ctx, body.EntityID)
	return api.Accepted(map[string]interface{}{
		"entity_id":  body.EntityID,
		"discovered": len(discovered),
		"patterns":   discovered,
	})
}

// Stats reports engine counters.
func (h *PatternHandlers) Stats(ctx context.Context, req *api.Request) *api.Response {
	return api.OK(h.engine.Stats())
}
