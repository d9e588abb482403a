package handlers

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"github.com/veridian-labs/veridian/core/pkg/api"
	"github.com/veridian-labs/veridian/core/pkg/database"
	"github.com/veridian-labs/veridian/core/pkg/knowledge"
)

// KnowledgeHandlers exposes knowledge base CRUD, search, and ask-the-KB.
// The in-memory index is authoritative at runtime; Postgres mirrors entries
// for restart recovery.
type KnowledgeHandlers struct {
	index    *knowledge.Index
	pool     *database.Pool
	answerer knowledge.Answerer
	sessions knowledge.SessionStore
}

func NewKnowledgeHandlers(index *knowledge.Index, pool *database.Pool, answerer knowledge.Answerer, sessions knowledge.SessionStore) *KnowledgeHandlers {
	return &KnowledgeHandlers{index: index, pool: pool, answerer: answerer, sessions: sessions}
}

type knowledgeEntryRequest struct {
	Title    string `json:"title"`
	Summary  string `json:"summary"`
	Content  string `json:"content"`
	Category string `json:"category"`
}

func (h *KnowledgeHandlers) Create(ctx context.Context, req *api.Request) *api.Response {
	var body knowledgeEntryRequest
	if err := decode(req.Body, &body); err != nil {
		return api.BadRequest(err.Error())
	}
	if strings.TrimSpace(body.Title) == "" {
		return api.BadRequest("title is required")
	}
	if strings.TrimSpace(body.Content) == "" {
		return api.BadRequest("content is required")
	}
	if body.Category == "" {
		body.Category = "general"
	}

	e := h.index.Add(knowledge.Entry{
		Title:     body.Title,
		Summary:   body.Summary,
		Content:   body.Content,
		Category:  body.Category,
		CreatedBy: req.CallerID,
	})
	if err := h.persist(ctx, e); err != nil {
		return api.Internal(err)
	}
	return api.Created(e)
}

func (h *KnowledgeHandlers) Get(ctx context.Context, req *api.Request) *api.Response {
	e, err := h.index.Get(req.Params["id"])
	if errors.Is(err, knowledge.ErrNotFound) {
		return api.NotFound("knowledge entry not found")
	}
	if err != nil {
		return api.Internal(err)
	}
	return api.OK(e)
}

func (h *KnowledgeHandlers) List(ctx context.Context, req *api.Request) *api.Response {
	page := parsePage(req.Query)
	all := h.index.List(req.Query.Get("category"))

	total := len(all)
	if page.Offset >= len(all) {
		all = nil
	} else {
		all = all[page.Offset:]
		if len(all) > page.Limit {
			all = all[:page.Limit]
		}
	}
	if all == nil {
		all = []*knowledge.Entry{}
	}
	return api.OK(ListResponse{
		Items:      all,
		Pagination: Pagination{Limit: page.Limit, Offset: page.Offset, Total: total},
	})
}

func (h *KnowledgeHandlers) Update(ctx context.Context, req *api.Request) *api.Response {
	var body struct {
		Title    *string `json:"title"`
		Summary  *string `json:"summary"`
		Content  *string `json:"content"`
		Category *string `json:"category"`
	}
	if err := decode(req.Body, &body); err != nil {
		return api.BadRequest(err.Error())
	}

	e, err := h.index.Update(req.Params["id"], func(e *knowledge.Entry) {
		if body.Title != nil {
			e.Title = *body.Title
		}
		if body.Summary != nil {
			e.Summary = *body.Summary
		}
		if body.Content != nil {
			e.Content = *body.Content
		}
		if body.Category != nil {
			e.Category = *body.Category
		}
	})
	if errors.Is(err, knowledge.ErrNotFound) {
		return api.NotFound("knowledge entry not found")
	}
	if err != nil {
		return api.Internal(err)
	}
	if err := h.persist(ctx, e); err != nil {
		return api.Internal(err)
	}
	return api.OK(e)
}

func (h *KnowledgeHandlers) Delete(ctx context.Context, req *api.Request) *api.Response {
	id := req.Params["id"]
	if err := h.index.Delete(id); errors.Is(err, knowledge.ErrNotFound) {
		return api.NotFound("knowledge entry not found")
	}
	if h.pool != nil {
		if hdl, err := h.pool.Lease(ctx); err == nil {
			_, _ = hdl.Exec(ctx, `UPDATE knowledge_entries SET status = 'deleted' WHERE id = $1`, id)
			h.pool.Release(hdl)
		}
	}
	return api.NoContent()
}

// Search runs keyword, semantic, or hybrid (default) search. An optional
// category narrows the result set after ranking.
func (h *KnowledgeHandlers) Search(ctx context.Context, req *api.Request) *api.Response {
	query := strings.TrimSpace(req.Query.Get("q"))
	if query == "" {
		return api.BadRequest("q is required")
	}

	mode := knowledge.ModeHybrid
	switch req.Query.Get("type") {
	case "", "hybrid":
	case "keyword":
		mode = knowledge.ModeKeyword
	case "semantic":
		mode = knowledge.ModeSemantic
	default:
		return api.BadRequest("type must be keyword, semantic, or hybrid")
	}

	topK := 10
	if raw := req.Query.Get("top_k"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			topK = v
		}
	}

	results := h.index.Search(query, mode, topK)
	if category := req.Query.Get("category"); category != "" {
		filtered := results[:0]
		for _, r := range results {
			if r.Entry.Category == category {
				filtered = append(filtered, r)
			}
		}
		results = filtered
	}
	if results == nil {
		results = []knowledge.Result{}
	}
	return api.OK(map[string]interface{}{
		"query":   query,
		"type":    string(mode),
		"results": results,
	})
}

type askRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k"`
}

// Ask answers a question from the knowledge base and stores the exchange.
func (h *KnowledgeHandlers) Ask(ctx context.Context, req *api.Request) *api.Response {
	var body askRequest
	if err := decode(req.Body, &body); err != nil {
		return api.BadRequest(err.Error())
	}
	if strings.TrimSpace(body.Question) == "" {
		return api.BadRequest("question is required")
	}

	session, err := h.index.Ask(ctx, body.Question, req.CallerID, body.TopK, h.answerer, h.sessions)
	if err != nil {
		return api.Internal(err)
	}
	return api.OK(session)
}

func (h *KnowledgeHandlers) persist(ctx context.Context, e *knowledge.Entry) error {
	if h.pool == nil {
		return nil
	}
	hdl, err := h.pool.Lease(ctx)
	if err != nil {
		return err
	}
	defer h.pool.Release(hdl)

	_, err = hdl.Exec(ctx, `
		INSERT INTO knowledge_entries
		       (id, title, summary, content, category, status, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
		       title = EXCLUDED.title, summary = EXCLUDED.summary,
		       content = EXCLUDED.content, category = EXCLUDED.category,
		       status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`,
		e.ID, e.Title, e.Summary, e.Content, e.Category, e.Status,
		e.CreatedBy, e.CreatedAt, e.UpdatedAt)
	return err
}

// LoadKnowledgeEntries rehydrates the index from the knowledge_entries
// table at boot. Deleted rows are skipped; they stay in Postgres for audit.
func LoadKnowledgeEntries(ctx context.Context, pool *database.Pool, index *knowledge.Index) (int, error) {
	h, err := pool.Lease(ctx)
	if err != nil {
		return 0, err
	}
	defer pool.Release(h)

	rows, err := h.Query(ctx, `
		SELECT id, title, summary, content, category, status,
		       created_by, created_at, updated_at
		  FROM knowledge_entries
		 WHERE status <> 'deleted'`)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	loaded := 0
	for rows.Next() {
		var e knowledge.Entry
		var summary, createdBy sql.NullString
		if err := rows.Scan(&e.ID, &e.Title, &summary, &e.Content, &e.Category,
			&e.Status, &createdBy, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return loaded, err
		}
		e.Summary = summary.String
		e.CreatedBy = createdBy.String
		index.Add(e)
		loaded++
	}
	return loaded, rows.Err()
}
