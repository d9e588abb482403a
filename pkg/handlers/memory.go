package handlers

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/veridian-labs/veridian/core/pkg/api"
	"github.com/veridian-labs/veridian/core/pkg/database"
	"github.com/veridian-labs/veridian/core/pkg/memgraph"
)

// MemoryHandlers exposes the agent memory graph: node and edge CRUD, the
// bounded per-agent graph view, path finding, similarity, and importance
// recomputation. The graph is authoritative in memory; Postgres mirrors
// nodes and edges for restart recovery.
type MemoryHandlers struct {
	graph *memgraph.Graph
	pool  *database.Pool
}

func NewMemoryHandlers(graph *memgraph.Graph, pool *database.Pool) *MemoryHandlers {
	return &MemoryHandlers{graph: graph, pool: pool}
}

type memoryNodeRequest struct {
	AgentID    string  `json:"agent_id"`
	Type       string  `json:"type"`
	Content    string  `json:"content"`
	Importance float64 `json:"importance"`
}

func (h *MemoryHandlers) CreateNode(ctx context.Context, req *api.Request) *api.Response {
	var body memoryNodeRequest
	if err := decode(req.Body, &body); err != nil {
		return api.BadRequest(err.Error())
	}
	if strings.TrimSpace(body.AgentID) == "" {
		return api.BadRequest("agent_id is required")
	}
	if strings.TrimSpace(body.Content) == "" {
		return api.BadRequest("content is required")
	}
	if body.Type == "" {
		body.Type = "observation"
	}

	n := h.graph.AddNode(memgraph.Node{
		AgentID:    body.AgentID,
		Type:       body.Type,
		Content:    body.Content,
		Importance: body.Importance,
	})
	if err := h.persistNode(ctx, n); err != nil {
		return api.Internal(err)
	}
	return api.Created(n)
}

func (h *MemoryHandlers) GetNode(ctx context.Context, req *api.Request) *api.Response {
	n, err := h.graph.GetNode(req.Params["id"])
	if errors.Is(err, memgraph.ErrNodeNotFound) {
		return api.NotFound("memory node not found")
	}
	if err != nil {
		return api.Internal(err)
	}
	return api.OK(n)
}

func (h *MemoryHandlers) DeleteNode(ctx context.Context, req *api.Request) *api.Response {
	id := req.Params["id"]
	if err := h.graph.DeleteNode(id); errors.Is(err, memgraph.ErrNodeNotFound) {
		return api.NotFound("memory node not found")
	}
	if h.pool != nil {
		if hdl, err := h.pool.Lease(ctx); err == nil {
			_, _ = hdl.Exec(ctx, `DELETE FROM memory_edges WHERE source_id = $1 OR target_id = $1`, id)
			_, _ = hdl.Exec(ctx, `DELETE FROM memory_nodes WHERE id = $1`, id)
			h.pool.Release(hdl)
		}
	}
	return api.NoContent()
}

type memoryEdgeRequest struct {
	SourceID string  `json:"source_id"`
	TargetID string  `json:"target_id"`
	Type     string  `json:"type"`
	Strength float64 `json:"strength"`
}

func (h *MemoryHandlers) CreateEdge(ctx context.Context, req *api.Request) *api.Response {
	var body memoryEdgeRequest
	if err := decode(req.Body, &body); err != nil {
		return api.BadRequest(err.Error())
	}
	if body.SourceID == "" || body.TargetID == "" {
		return api.BadRequest("source_id and target_id are required")
	}
	if body.Type == "" {
		body.Type = "related"
	}

	e := memgraph.Edge{
		SourceID: body.SourceID,
		TargetID: body.TargetID,
		Type:     body.Type,
		Strength: body.Strength,
	}
	if err := h.graph.AddEdge(e); err != nil {
		if errors.Is(err, memgraph.ErrNodeNotFound) {
			return api.NotFound("source or target node not found")
		}
		return api.BadRequest(err.Error())
	}
	if err := h.persistEdge(ctx, e); err != nil {
		return api.Internal(err)
	}
	return api.Created(e)
}

// Graph returns the agent's bounded subgraph with visualization hints.
func (h *MemoryHandlers) Graph(ctx context.Context, req *api.Request) *api.Response {
	agentID := req.Query.Get("agent_id")
	if agentID == "" {
		return api.BadRequest("agent_id is required")
	}
	return api.OK(h.graph.GraphForAgent(agentID))
}

// Path finds the shortest undirected path between two nodes.
func (h *MemoryHandlers) Path(ctx context.Context, req *api.Request) *api.Response {
	from := req.Query.Get("from")
	to := req.Query.Get("to")
	if from == "" || to == "" {
		return api.BadRequest("from and to are required")
	}
	path := h.graph.FindPath(from, to)
	if path == nil {
		return api.NotFound("no path between nodes")
	}
	return api.OK(map[string]interface{}{
		"path":   path,
		"length": len(path) - 1,
	})
}

// Similar ranks an agent's nodes by semantic similarity to the query.
func (h *MemoryHandlers) Similar(ctx context.Context, req *api.Request) *api.Response {
	agentID := req.Query.Get("agent_id")
	query := strings.TrimSpace(req.Query.Get("q"))
	if agentID == "" || query == "" {
		return api.BadRequest("agent_id and q are required")
	}
	limit := 10
	if raw := req.Query.Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	nodes := h.graph.Similar(agentID, query, limit)
	if nodes == nil {
		nodes = []*memgraph.Node{}
	}
	return api.OK(map[string]interface{}{"items": nodes})
}

// RecomputeImportance rebalances importance scores for an agent's nodes
// from access frequency, connectivity, and the prior score.
func (h *MemoryHandlers) RecomputeImportance(ctx context.Context, req *api.Request) *api.Response {
	agentID := req.Query.Get("agent_id")
	if agentID == "" {
		return api.BadRequest("agent_id is required")
	}
	updated := h.graph.RecomputeImportance(agentID)
	return api.OK(map[string]interface{}{"updated": updated})
}

func (h *MemoryHandlers) persistNode(ctx context.Context, n *memgraph.Node) error {
	if h.pool == nil {
		return nil
	}
	hdl, err := h.pool.Lease(ctx)
	if err != nil {
		return err
	}
	defer h.pool.Release(hdl)

	_, err = hdl.Exec(ctx, `
		INSERT INTO memory_nodes
		       (id, agent_id, node_type, content, importance, access_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
		       content = EXCLUDED.content, importance = EXCLUDED.importance,
		       access_count = EXCLUDED.access_count, updated_at = EXCLUDED.updated_at`,
		n.ID, n.AgentID, n.Type, n.Content, n.Importance, n.AccessCount,
		n.CreatedAt, n.UpdatedAt)
	return err
}

func (h *MemoryHandlers) persistEdge(ctx context.Context, e memgraph.Edge) error {
	if h.pool == nil {
		return nil
	}
	hdl, err := h.pool.Lease(ctx)
	if err != nil {
		return err
	}
	defer h.pool.Release(hdl)

	_, err = hdl.Exec(ctx, `
		INSERT INTO memory_edges (source_id, target_id, edge_type, strength)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (source_id, target_id, edge_type)
		DO UPDATE SET strength = EXCLUDED.strength`,
		e.SourceID, e.TargetID, e.Type, e.Strength)
	return err
}

// LoadMemoryGraph rehydrates nodes then edges from Postgres at boot.
func LoadMemoryGraph(ctx context.Context, pool *database.Pool, graph *memgraph.Graph) (int, int, error) {
	h, err := pool.Lease(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer pool.Release(h)

	nodeRows, err := h.Query(ctx, `
		SELECT id, agent_id, node_type, content, importance, access_count,
		       created_at, updated_at
		  FROM memory_nodes`)
	if err != nil {
		return 0, 0, err
	}
	defer nodeRows.Close()

	nodes := 0
	for nodeRows.Next() {
		var n memgraph.Node
		if err := nodeRows.Scan(&n.ID, &n.AgentID, &n.Type, &n.Content,
			&n.Importance, &n.AccessCount, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nodes, 0, err
		}
		graph.AddNode(n)
		nodes++
	}
	if err := nodeRows.Err(); err != nil {
		return nodes, 0, err
	}

	edgeRows, err := h.Query(ctx, `SELECT source_id, target_id, edge_type, strength FROM memory_edges`)
	if err != nil {
		return nodes, 0, err
	}
	defer edgeRows.Close()

	edges := 0
	for edgeRows.Next() {
		var e memgraph.Edge
		if err := edgeRows.Scan(&e.SourceID, &e.TargetID, &e.Type, &e.Strength); err != nil {
			return nodes, edges, err
		}
		// Edges whose endpoints were pruned are dropped silently.
		if err := graph.AddEdge(e); err == nil {
			edges++
		}
	}
	return nodes, edges, edgeRows.Err()
}
