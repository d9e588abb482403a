package handlers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/veridian-labs/veridian/core/pkg/database"
)

// PostgresDecisionStore runs every query through a leased pooled handle
// with positional parameters; filters are assembled by a clause builder
// that grows the args list in lockstep, never by string interpolation.
type PostgresDecisionStore struct {
	pool *database.Pool
}

func NewPostgresDecisionStore(pool *database.Pool) *PostgresDecisionStore {
	return &PostgresDecisionStore{pool: pool}
}

const decisionColumns = `id, title, description, category, status, created_by,
       approved_by, approved_at, review_notes, created_at, updated_at`

func scanDecision(row interface{ Scan(...interface{}) error }) (Decision, error) {
	var d Decision
	var approvedBy, reviewNotes sql.NullString
	var approvedAt sql.NullTime
	err := row.Scan(&d.ID, &d.Title, &d.Description, &d.Category, &d.Status,
		&d.CreatedBy, &approvedBy, &approvedAt, &reviewNotes, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return Decision{}, err
	}
	d.ApprovedBy = approvedBy.String
	d.ReviewNotes = reviewNotes.String
	if approvedAt.Valid {
		t := approvedAt.Time
		d.ApprovedAt = &t
	}
	return d, nil
}

func (s *PostgresDecisionStore) Create(ctx context.Context, d Decision) (Decision, error) {
	h, err := s.pool.Lease(ctx)
	if err != nil {
		return Decision{}, err
	}
	defer s.pool.Release(h)

	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	d.Status = StatusDraft
	d.CreatedAt = now
	d.UpdatedAt = now

	_, err = h.Exec(ctx, `
		INSERT INTO decisions (id, title, description, category, status,
		       created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		d.ID, d.Title, d.Description, d.Category, d.Status, d.CreatedBy, now)
	if err != nil {
		return Decision{}, err
	}
	return d, nil
}

func (s *PostgresDecisionStore) Get(ctx context.Context, id string) (Decision, error) {
	h, err := s.pool.Lease(ctx)
	if err != nil {
		return Decision{}, err
	}
	defer s.pool.Release(h)

	row := h.QueryRow(ctx, `SELECT `+decisionColumns+`
		  FROM decisions WHERE id = $1 AND status <> 'deleted'`, id)
	d, err := scanDecision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Decision{}, ErrDecisionNotFound
	}
	return d, err
}

// decisionWhere builds the shared WHERE clause for List and its companion
// count so both always apply identical predicates.
func decisionWhere(f DecisionFilter) (string, []interface{}) {
	clauses := []string{"status <> 'deleted'"}
	var args []interface{}
	add := func(clause string, arg interface{}) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.Category != "" {
		add("category = $%d", f.Category)
	}
	if f.CreatedBy != "" {
		add("created_by = $%d", f.CreatedBy)
	}
	if f.Search != "" {
		args = append(args, "%"+strings.ToLower(f.Search)+"%")
		n := len(args)
		clauses = append(clauses, fmt.Sprintf("(LOWER(title) LIKE $%d OR LOWER(description) LIKE $%d)", n, n))
	}
	return strings.Join(clauses, " AND "), args
}

func (s *PostgresDecisionStore) List(ctx context.Context, f DecisionFilter) ([]Decision, int, error) {
	h, err := s.pool.Lease(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer s.pool.Release(h)

	where, args := decisionWhere(f)

	var total int
	if err := h.QueryRow(ctx, `SELECT COUNT(*) FROM decisions WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	sortBy := f.SortBy
	ok := false
	for _, w := range decisionSortFields {
		if sortBy == w {
			ok = true
			break
		}
	}
	if !ok {
		sortBy = "created_at"
	}
	dir := "DESC"
	if f.SortOrder == "asc" {
		dir = "ASC"
	}

	limit := f.Limit
	if limit <= 0 || limit > maxLimit {
		limit = defaultLimit
	}
	args = append(args, limit, f.Offset)
	query := fmt.Sprintf(`SELECT %s FROM decisions WHERE %s
		 ORDER BY %s %s, id ASC LIMIT $%d OFFSET $%d`,
		decisionColumns, where, sortBy, dir, len(args)-1, len(args))

	rows, err := h.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items := []Decision{}
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, d)
	}
	return items, total, rows.Err()
}

func (s *PostgresDecisionStore) Update(ctx context.Context, id string, mutate func(*Decision) error) (Decision, error) {
	d, err := s.Get(ctx, id)
	if err != nil {
		return Decision{}, err
	}
	if err := mutate(&d); err != nil {
		return Decision{}, err
	}
	d.UpdatedAt = time.Now().UTC()

	h, err := s.pool.Lease(ctx)
	if err != nil {
		return Decision{}, err
	}
	defer s.pool.Release(h)

	_, err = h.Exec(ctx, `
		UPDATE decisions SET title = $2, description = $3, category = $4, updated_at = $5
		 WHERE id = $1 AND status <> 'deleted'`,
		id, d.Title, d.Description, d.Category, d.UpdatedAt)
	if err != nil {
		return Decision{}, err
	}
	return d, nil
}

func (s *PostgresDecisionStore) Transition(ctx context.Context, id string, from []string, mutate func(*Decision)) (Decision, error) {
	d, err := s.Get(ctx, id)
	if err != nil {
		return Decision{}, err
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
	prev := d.Status
	mutate(&d)
	d.UpdatedAt = time.Now().UTC()

	h, err := s.pool.Lease(ctx)
	if err != nil {
		return Decision{}, err
	}
	defer s.pool.Release(h)

	// The status guard repeats in SQL so a concurrent transition loses
	// cleanly instead of double-applying.
	res, err := h.Exec(ctx, `
		UPDATE decisions SET status = $3, approved_by = NULLIF($4, ''),
		       approved_at = $5, review_notes = NULLIF($6, ''), updated_at = $7
		 WHERE id = $1 AND status = $2`,
		id, prev, d.Status, d.ApprovedBy, d.ApprovedAt, d.ReviewNotes, d.UpdatedAt)
	if err != nil {
		return Decision{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Decision{}, ErrDecisionNotFound
	}
	return d, nil
}

func (s *PostgresDecisionStore) SoftDelete(ctx context.Context, id string) error {
	h, err := s.pool.Lease(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Release(h)

	res, err := h.Exec(ctx, `
		UPDATE decisions SET status = 'deleted', updated_at = $2
		 WHERE id = $1 AND status <> 'deleted'`, id, time.Now().UTC())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDecisionNotFound
	}
	return nil
}

func (s *PostgresDecisionStore) CountByStatus(ctx context.Context) (map[string]int, error) {
	h, err := s.pool.Lease(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Release(h)

	rows, err := h.Query(ctx, `SELECT status, COUNT(*) FROM decisions GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}
