package handlers

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veridian-labs/veridian/core/pkg/api"
)

// Decision statuses form a one-way lifecycle; re-review is an explicit
// transition back to pending_review, and deletion is a status flip.
const (
	StatusDraft         = "draft"
	StatusPendingReview = "pending_review"
	StatusApproved      = "approved"
	StatusRejected      = "rejected"
	StatusImplemented   = "implemented"
	StatusDeleted       = "deleted"
)

// ErrDecisionNotFound covers unknown ids, soft-deleted rows, and
// transition preconditions that no longer hold.
var ErrDecisionNotFound = errors.New("decision not found")

// Decision is one governance decision record.
type Decision struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Category    string     `json:"category"`
	Status      string     `json:"status"`
	CreatedBy   string     `json:"created_by"`
	ApprovedBy  string     `json:"approved_by,omitempty"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	ReviewNotes string     `json:"review_notes,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// DecisionFilter narrows List and its companion total count; both run the
// same predicates so totals always agree with pages.
type DecisionFilter struct {
	Status    string
	Category  string
	CreatedBy string
	Search    string
	SortBy    string
	SortOrder string
	Limit     int
	Offset    int
}

var decisionSortFields = []string{"created_at", "updated_at", "title", "status"}

// DecisionStore is the persistence boundary for decisions.
type DecisionStore interface {
	Create(ctx context.Context, d Decision) (Decision, error)
	Get(ctx context.Context, id string) (Decision, error)
	List(ctx context.Context, f DecisionFilter) ([]Decision, int, error)
	Update(ctx context.Context, id string, mutate func(*Decision) error) (Decision, error)
	// Transition applies mutate only when the current status is in the
	// allowed set; otherwise it reports ErrDecisionNotFound.
	Transition(ctx context.Context, id string, from []string, mutate func(*Decision)) (Decision, error)
	SoftDelete(ctx context.Context, id string) error
	// CountByStatus includes soft-deleted rows: analytics sees history.
	CountByStatus(ctx context.Context) (map[string]int, error)
}

// MemoryDecisionStore backs tests and standalone operation.
type MemoryDecisionStore struct {
	mu   sync.Mutex
	rows map[string]*Decision
}

func NewMemoryDecisionStore() *MemoryDecisionStore {
	return &MemoryDecisionStore{rows: map[string]*Decision{}}
}

func (s *MemoryDecisionStore) Create(ctx context.Context, d Decision) (Decision, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	d.Status = StatusDraft
	d.CreatedAt = now
	d.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	cp := d
	s.rows[d.ID] = &cp
	return d, nil
}

func (s *MemoryDecisionStore) Get(ctx context.Context, id string) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.rows[id]
	if !ok || d.Status == StatusDeleted {
		return Decision{}, ErrDecisionNotFound
	}
	return *d, nil
}

func (s *MemoryDecisionStore) List(ctx context.Context, f DecisionFilter) ([]Decision, int, error) {
	s.mu.Lock()
	var all []Decision
	for _, d := range s.rows {
		if d.Status == StatusDeleted {
			continue
		}
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		if f.Category != "" && d.Category != f.Category {
			continue
		}
		if f.CreatedBy != "" && d.CreatedBy != f.CreatedBy {
			continue
		}
		if f.Search != "" {
			needle := strings.ToLower(f.Search)
			if !strings.Contains(strings.ToLower(d.Title), needle) &&
				!strings.Contains(strings.ToLower(d.Description), needle) {
				continue
			}
		}
		all = append(all, *d)
	}
	s.mu.Unlock()

	sortDecisions(all, f.SortBy, f.SortOrder)
	total := len(all)

	if f.Offset >= len(all) {
		return []Decision{}, total, nil
	}
	all = all[f.Offset:]
	if f.Limit > 0 && len(all) > f.Limit {
		all = all[:f.Limit]
	}
	return all, total, nil
}

func sortDecisions(ds []Decision, sortBy, order string) {
	less := func(i, j int) bool {
		a, b := ds[i], ds[j]
		switch sortBy {
		case "title":
			if a.Title != b.Title {
				return a.Title < b.Title
			}
		case "status":
			if a.Status != b.Status {
				return a.Status < b.Status
			}
		case "updated_at":
			if !a.UpdatedAt.Equal(b.UpdatedAt) {
				return a.UpdatedAt.Before(b.UpdatedAt)
			}
		default:
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.Before(b.CreatedAt)
			}
		}
		return a.ID < b.ID
	}
	if order == "desc" {
		sort.Slice(ds, func(i, j int) bool { return less(j, i) })
	} else {
		sort.Slice(ds, less)
	}
}

func (s *MemoryDecisionStore) Update(ctx context.Context, id string, mutate func(*Decision) error) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.rows[id]
	if !ok || d.Status == StatusDeleted {
		return Decision{}, ErrDecisionNotFound
	}
	if err := mutate(d); err != nil {
		return Decision{}, err
	}
	d.UpdatedAt = time.Now().UTC()
	return *d, nil
}

func (s *MemoryDecisionStore) Transition(ctx context.Context, id string, from []string, mutate func(*Decision)) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.rows[id]
	if !ok || d.Status == StatusDeleted {
		return Decision{}, ErrDecisionNotFound
	}
	allowed := false
	for _, st := range from {
		if d.Status == st {
			allowed = true
			break
		}
	}
	if !allowed {
		return Decision{}, ErrDecisionNotFound
	}
	mutate(d)
	d.UpdatedAt = time.Now().UTC()
	return *d, nil
}

func (s *MemoryDecisionStore) SoftDelete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.rows[id]
	if !ok || d.Status == StatusDeleted {
		return ErrDecisionNotFound
	}
	d.Status = StatusDeleted
	d.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryDecisionStore) CountByStatus(ctx context.Context) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]int{}
	for _, d := range s.rows {
		out[d.Status]++
	}
	return out, nil
}

// DecisionHandlers exposes decision CRUD and lifecycle transitions.
type DecisionHandlers struct {
	store DecisionStore
}

func NewDecisionHandlers(store DecisionStore) *DecisionHandlers {
	return &DecisionHandlers{store: store}
}

type createDecisionRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

func (h *DecisionHandlers) Create(ctx context.Context, req *api.Request) *api.Response {
	var body createDecisionRequest
	if err := decode(req.Body, &body); err != nil {
		return api.BadRequest(err.Error())
	}
	if strings.TrimSpace(body.Title) == "" {
		return api.BadRequest("title is required")
	}
	if body.Category == "" {
		body.Category = "general"
	}

	d, err := h.store.Create(ctx, Decision{
		Title:       body.Title,
		Description: body.Description,
		Category:    body.Category,
		CreatedBy:   req.CallerID,
	})
	if err != nil {
		return api.Internal(err)
	}
	return api.Created(d)
}

func (h *DecisionHandlers) Get(ctx context.Context, req *api.Request) *api.Response {
	d, err := h.store.Get(ctx, req.Params["id"])
	if errors.Is(err, ErrDecisionNotFound) {
		return api.NotFound("decision not found")
	}
	if err != nil {
		return api.Internal(err)
	}
	return api.OK(d)
}

func (h *DecisionHandlers) List(ctx context.Context, req *api.Request) *api.Response {
	sortBy, order, err := parseSort(req.Query, decisionSortFields, "created_at")
	if err != nil {
		return api.BadRequest(err.Error())
	}
	page := parsePage(req.Query)

	items, total, err := h.store.List(ctx, DecisionFilter{
		Status:    req.Query.Get("status"),
		Category:  req.Query.Get("category"),
		CreatedBy: req.Query.Get("createdBy"),
		Search:    req.Query.Get("search"),
		SortBy:    sortBy,
		SortOrder: order,
		Limit:     page.Limit,
		Offset:    page.Offset,
	})
	if err != nil {
		return api.Internal(err)
	}
	return api.OK(ListResponse{
		Items:      items,
		Pagination: Pagination{Limit: page.Limit, Offset: page.Offset, Total: total},
	})
}

type updateDecisionRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Category    *string `json:"category"`
}

func (h *DecisionHandlers) Update(ctx context.Context, req *api.Request) *api.Response {
	var body updateDecisionRequest
	if err := decode(req.Body, &body); err != nil {
		return api.BadRequest(err.Error())
	}

	d, err := h.store.Update(ctx, req.Params["id"], func(d *Decision) error {
		if body.Title != nil {
			if strings.TrimSpace(*body.Title) == "" {
				return errors.New("title cannot be empty")
			}
			d.Title = *body.Title
		}
		if body.Description != nil {
			d.Description = *body.Description
		}
		if body.Category != nil {
			d.Category = *body.Category
		}
		return nil
	})
	if errors.Is(err, ErrDecisionNotFound) {
		return api.NotFound("decision not found")
	}
	if err != nil {
		return api.BadRequest(err.Error())
	}
	return api.OK(d)
}

func (h *DecisionHandlers) SubmitForReview(ctx context.Context, req *api.Request) *api.Response {
	d, err := h.store.Transition(ctx, req.Params["id"], []string{StatusDraft}, func(d *Decision) {
		d.Status = StatusPendingReview
	})
	if errors.Is(err, ErrDecisionNotFound) {
		return api.NotFound("decision not found or not in draft")
	}
	if err != nil {
		return api.Internal(err)
	}
	return api.OK(d)
}

type approveRequest struct {
	Notes string `json:"notes"`
}

// Approve transitions a draft or pending decision to approved. The audit
// subject is the authenticated caller, not anything in the body.
func (h *DecisionHandlers) Approve(ctx context.Context, req *api.Request) *api.Response {
	var body approveRequest
	if len(req.Body) > 0 {
		if err := decode(req.Body, &body); err != nil {
			return api.BadRequest(err.Error())
		}
	}

	now := time.Now().UTC()
	d, err := h.store.Transition(ctx, req.Params["id"],
		[]string{StatusDraft, StatusPendingReview},
		func(d *Decision) {
			d.Status = StatusApproved
			d.ApprovedBy = req.CallerID
			d.ApprovedAt = &now
			d.ReviewNotes = body.Notes
		})
	if errors.Is(err, ErrDecisionNotFound) {
		return api.NotFound("decision not found or already approved")
	}
	if err != nil {
		return api.Internal(err)
	}
	return api.OK(d)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (h *DecisionHandlers) Reject(ctx context.Context, req *api.Request) *api.Response {
	var body rejectRequest
	if err := decode(req.Body, &body); err != nil {
		return api.BadRequest(err.Error())
	}
	if strings.TrimSpace(body.Reason) == "" {
		return api.BadRequest("reason is required")
	}

	d, err := h.store.Transition(ctx, req.Params["id"],
		[]string{StatusDraft, StatusPendingReview},
		func(d *Decision) {
			d.Status = StatusRejected
			d.ApprovedBy = req.CallerID
			d.ReviewNotes = body.Reason
		})
	if errors.Is(err, ErrDecisionNotFound) {
		return api.NotFound("decision not found or already reviewed")
	}
	if err != nil {
		return api.Internal(err)
	}
	return api.OK(d)
}

func (h *DecisionHandlers) Implement(ctx context.Context, req *api.Request) *api.Response {
	d, err := h.store.Transition(ctx, req.Params["id"], []string{StatusApproved}, func(d *Decision) {
		d.Status = StatusImplemented
	})
	if errors.Is(err, ErrDecisionNotFound) {
		return api.NotFound("decision not found or not approved")
	}
	if err != nil {
		return api.Internal(err)
	}
	return api.OK(d)
}

func (h *DecisionHandlers) Delete(ctx context.Context, req *api.Request) *api.Response {
	err := h.store.SoftDelete(ctx, req.Params["id"])
	if errors.Is(err, ErrDecisionNotFound) {
		return api.NotFound("decision not found")
	}
	if err != nil {
		return api.Internal(err)
	}
	return api.NoContent()
}

// Analytics counts decisions per status, soft-deleted included.
func (h *DecisionHandlers) Analytics(ctx context.Context, req *api.Request) *api.Response {
	counts, err := h.store.CountByStatus(ctx)
	if err != nil {
		return api.Internal(err)
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	return api.OK(map[string]interface{}{
		"total":     total,
		"by_status": counts,
	})
}
