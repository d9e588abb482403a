package handlers

import (
	"context"
	"errors"

	"github.com/veridian-labs/veridian/core/pkg/api"
	"github.com/veridian-labs/veridian/core/pkg/regmonitor"
)

// RegulatoryHandlers exposes monitored sources, recent changes, and the
// force-check escape hatch that bypasses quarantine backoff.
type RegulatoryHandlers struct {
	monitor *regmonitor.Monitor
	changes regmonitor.ChangeStore
}

func NewRegulatoryHandlers(monitor *regmonitor.Monitor, changes regmonitor.ChangeStore) *RegulatoryHandlers {
	return &RegulatoryHandlers{monitor: monitor, changes: changes}
}

// Sources lists every monitored source with its failure and quarantine state.
func (h *RegulatoryHandlers) Sources(ctx context.Context, req *api.Request) *api.Response {
	return api.OK(map[string]interface{}{"items": h.monitor.Sources()})
}

// Changes lists recently seen regulatory changes, newest first.
func (h *RegulatoryHandlers) Changes(ctx context.Context, req *api.Request) *api.Response {
	page := parsePage(req.Query)
	changes, err := h.changes.Recent(ctx, page.Limit)
	if err != nil {
		return api.Internal(err)
	}
	if changes == nil {
		changes = []regmonitor.Change{}
	}
	return api.OK(map[string]interface{}{"items": changes})
}

// ForceCheck runs a scrape cycle for one source right now, resetting its
// quarantine state on success.
func (h *RegulatoryHandlers) ForceCheck(ctx context.Context, req *api.Request) *api.Response {
	result, err := h.monitor.ForceCheck(ctx, req.Params["id"])
	if errors.Is(err, regmonitor.ErrUnknownSource) {
		return api.NotFound("regulatory source not found")
	}
	if err != nil {
		// The scrape failed; the monitor already recorded the failure.
		return api.OK(map[string]interface{}{
			"source_id": req.Params["id"],
			"ok":        false,
			"error":     err.Error(),
		})
	}
	return api.OK(map[string]interface{}{
		"source_id":  result.SourceID,
		"ok":         true,
		"inserted":   result.Inserted,
		"duplicated": result.Duplicated,
		"failed":     result.Failed,
	})
}

// Stats reports monitor counters across all cycles.
func (h *RegulatoryHandlers) Stats(ctx context.Context, req *api.Request) *api.Response {
	return api.OK(h.monitor.Stats())
}
