// Package memgraph implements the agent memory graph: typed nodes and
// edges, per-agent subgraph extraction with presentation hints, importance
// recomputation, and unweighted path finding.
package memgraph

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veridian-labs/veridian/core/pkg/knowledge"
)

// Importance recomputation weights and the per-agent subgraph cap.
const (
	accessWeight       = 0.3
	relationshipWeight = 0.4
	priorWeight        = 0.3
	maxGraphNodes      = 100
)

// ErrNodeNotFound is returned for unknown node ids.
var ErrNodeNotFound = errors.New("memory node not found")

// Node is one memory item in an agent's graph.
type Node struct {
	ID          string    `json:"id"`
	AgentID     string    `json:"agent_id"`
	Type        string    `json:"type"`
	Content     string    `json:"content"`
	Importance  float64   `json:"importance"`
	AccessCount int       `json:"access_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	embedding []float64
}

// Edge links two nodes with a typed, weighted relationship.
type Edge struct {
	SourceID string                 `json:"source_id"`
	TargetID string                 `json:"target_id"`
	Type     string                 `json:"type"`
	Strength float64                `json:"strength"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// NodeView decorates a node with deterministic visualization hints.
type NodeView struct {
	Node
	Color string  `json:"color"`
	Size  float64 `json:"size"`
}

// GraphView is the per-agent subgraph payload.
type GraphView struct {
	Nodes []NodeView `json:"nodes"`
	Edges []Edge     `json:"edges"`
}

// Graph is the mutex-guarded in-memory store of nodes and edges.
type Graph struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	edges map[[3]string]*Edge // (source, target, type)
}

func NewGraph() *Graph {
	return &Graph{
		nodes: map[string]*Node{},
		edges: map[[3]string]*Edge{},
	}
}

// AddNode stores a node, embedding its content for similarity queries.
func (g *Graph) AddNode(n Node) *Node {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	n.UpdatedAt = now
	if n.Importance < 0 {
		n.Importance = 0
	}
	if n.Importance > 1 {
		n.Importance = 1
	}
	n.embedding = knowledge.Embed(n.Content)

	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes[n.ID] = &n
	return &n
}

// GetNode returns the node and bumps its access count.
func (g *Graph) GetNode(id string) (*Node, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[id]
	if !ok {
		return nil, ErrNodeNotFound
	}
	n.AccessCount++
	return n, nil
}

// AddEdge links two existing nodes. Strength is clamped to [0, 1].
func (g *Graph) AddEdge(e Edge) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.nodes[e.SourceID]; !ok {
		return ErrNodeNotFound
	}
	if _, ok := g.nodes[e.TargetID]; !ok {
		return ErrNodeNotFound
	}
	if e.Strength < 0 {
		e.Strength = 0
	}
	if e.Strength > 1 {
		e.Strength = 1
	}
	g.edges[[3]string{e.SourceID, e.TargetID, e.Type}] = &e
	return nil
}

// DeleteNode removes a node and every edge touching it.
func (g *Graph) DeleteNode(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.nodes[id]; !ok {
		return ErrNodeNotFound
	}
	delete(g.nodes, id)
	for key := range g.edges {
		if key[0] == id || key[1] == id {
			delete(g.edges, key)
		}
	}
	return nil
}

// GraphForAgent returns the agent's top nodes by importance (at most 100)
// and every edge whose endpoints are both in the returned set.
func (g *Graph) GraphForAgent(agentID string) GraphView {
	g.mu.RLock()
	var nodes []*Node
	for _, n := range g.nodes {
		if n.AgentID == agentID {
			nodes = append(nodes, n)
		}
	}
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Importance != nodes[j].Importance {
			return nodes[i].Importance > nodes[j].Importance
		}
		return nodes[i].ID < nodes[j].ID
	})
	if len(nodes) > maxGraphNodes {
		nodes = nodes[:maxGraphNodes]
	}

	included := map[string]bool{}
	view := GraphView{Nodes: make([]NodeView, 0, len(nodes)), Edges: []Edge{}}
	for _, n := range nodes {
		included[n.ID] = true
		view.Nodes = append(view.Nodes, NodeView{
			Node:  *n,
			Color: colorFor(n.Type),
			Size:  sizeFor(n.Importance),
		})
	}
	for _, e := range g.edges {
		if included[e.SourceID] && included[e.TargetID] {
			view.Edges = append(view.Edges, *e)
		}
	}
	g.mu.RUnlock()

	sort.Slice(view.Edges, func(i, j int) bool {
		a, b := view.Edges[i], view.Edges[j]
		if a.SourceID != b.SourceID {
			return a.SourceID < b.SourceID
		}
		if a.TargetID != b.TargetID {
			return a.TargetID < b.TargetID
		}
		return a.Type < b.Type
	})
	return view
}

// colorFor assigns a deterministic presentation color by node type.
func colorFor(nodeType string) string {
	switch nodeType {
	case "fact":
		return "#4e79a7"
	case "decision":
		return "#f28e2b"
	case "observation":
		return "#59a14f"
	case "goal":
		return "#e15759"
	case "conversation":
		return "#b07aa1"
	default:
		return "#9c9c9c"
	}
}

// sizeFor scales a node's rendered size with importance.
func sizeFor(importance float64) float64 {
	return 10 + importance*30
}

// RecomputeImportance blends normalized access count, normalized
// relationship count, and the prior value for every node of the agent.
// Returns the number of nodes updated.
func (g *Graph) RecomputeImportance(agentID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	degree := map[string]int{}
	for _, e := range g.edges {
		degree[e.SourceID]++
		degree[e.TargetID]++
	}

	maxAccess, maxDegree := 0, 0
	var targets []*Node
	for _, n := range g.nodes {
		if n.AgentID != agentID {
			continue
		}
		targets = append(targets, n)
		if n.AccessCount > maxAccess {
			maxAccess = n.AccessCount
		}
		if degree[n.ID] > maxDegree {
			maxDegree = degree[n.ID]
		}
	}

	for _, n := range targets {
		var access, rel float64
		if maxAccess > 0 {
			access = float64(n.AccessCount) / float64(maxAccess)
		}
		if maxDegree > 0 {
			rel = float64(degree[n.ID]) / float64(maxDegree)
		}
		n.Importance = accessWeight*access + relationshipWeight*rel + priorWeight*n.Importance
		n.UpdatedAt = time.Now().UTC()
	}
	return len(targets)
}

// FindPath runs an unweighted BFS over the undirected edge union and
// returns the node ids along a shortest path, or nil when unreachable.
func (g *Graph) FindPath(fromID, toID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.nodes[fromID]; !ok {
		return nil
	}
	if _, ok := g.nodes[toID]; !ok {
		return nil
	}
	if fromID == toID {
		return []string{fromID}
	}

	adj := map[string][]string{}
	for _, e := range g.edges {
		adj[e.SourceID] = append(adj[e.SourceID], e.TargetID)
		adj[e.TargetID] = append(adj[e.TargetID], e.SourceID)
	}
	for _, ns := range adj {
		sort.Strings(ns)
	}

	prev := map[string]string{fromID: fromID}
	queue := []string{fromID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range adj[cur] {
			if _, seen := prev[next]; seen {
				continue
			}
			prev[next] = cur
			if next == toID {
				var path []string
				for at := toID; at != fromID; at = prev[at] {
					path = append(path, at)
				}
				path = append(path, fromID)
				for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
					path[i], path[j] = path[j], path[i]
				}
				return path
			}
			queue = append(queue, next)
		}
	}
	return nil
}

// Similar ranks the agent's nodes by embedding similarity to the query.
func (g *Graph) Similar(agentID, query string, limit int) []*Node {
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	qVec := knowledge.Embed(query)

	g.mu.RLock()
	type scored struct {
		node  *Node
		score float64
	}
	var all []scored
	for _, n := range g.nodes {
		if n.AgentID != agentID {
			continue
		}
		if s := knowledge.Cosine(qVec, n.embedding); s > 0 {
			all = append(all, scored{n, s})
		}
	}
	g.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		return all[i].node.ID < all[j].node.ID
	})
	if len(all) > limit {
		all = all[:limit]
	}
	out := make([]*Node, len(all))
	for i, s := range all {
		out[i] = s.node
	}
	return out
}

// Counts reports (nodes, edges).
func (g *Graph) Counts() (int, int) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes), len(g.edges)
}
