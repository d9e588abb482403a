package handlers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veridian-labs/veridian/core/pkg/api"
	"github.com/veridian-labs/veridian/core/pkg/database"
	"github.com/veridian-labs/veridian/core/pkg/fraud"
	"github.com/veridian-labs/veridian/core/pkg/patterns"
)

// Transaction review statuses.
const (
	TxPending  = "pending"
	TxApproved = "approved"
	TxRejected = "rejected"
)

var ErrTransactionNotFound = errors.New("transaction not found")

// TransactionFilter narrows transaction listings.
type TransactionFilter struct {
	Status         string
	Category       string
	Classification string
	Limit          int
	Offset         int
}

// TransactionStore persists transactions.
type TransactionStore interface {
	Create(ctx context.Context, tx fraud.Transaction) (fraud.Transaction, error)
	Get(ctx context.Context, id string) (fraud.Transaction, error)
	List(ctx context.Context, f TransactionFilter) ([]fraud.Transaction, int, error)
	// Review flips a pending transaction to approved or rejected; it
	// reports ErrTransactionNotFound when the row is missing or already
	// reviewed.
	Review(ctx context.Context, id, status, reviewedBy string) (fraud.Transaction, error)
}

// MemoryTransactionStore backs tests and standalone operation.
type MemoryTransactionStore struct {
	mu   sync.Mutex
	rows map[string]*fraud.Transaction
}

func NewMemoryTransactionStore() *MemoryTransactionStore {
	return &MemoryTransactionStore{rows: map[string]*fraud.Transaction{}}
}

func (s *MemoryTransactionStore) Create(ctx context.Context, tx fraud.Transaction) (fraud.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := tx
	s.rows[tx.ID] = &cp
	return tx, nil
}

func (s *MemoryTransactionStore) Get(ctx context.Context, id string) (fraud.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.rows[id]
	if !ok {
		return fraud.Transaction{}, ErrTransactionNotFound
	}
	return *tx, nil
}

func (s *MemoryTransactionStore) List(ctx context.Context, f TransactionFilter) ([]fraud.Transaction, int, error) {
	s.mu.Lock()
	var all []fraud.Transaction
	for _, tx := range s.rows {
		if f.Status != "" && tx.Status != f.Status {
			continue
		}
		if f.Category != "" && tx.Category != f.Category {
			continue
		}
		if f.Classification != "" && tx.Classification != f.Classification {
			continue
		}
		all = append(all, *tx)
	}
	s.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})
	total := len(all)
	if f.Offset >= len(all) {
		return []fraud.Transaction{}, total, nil
	}
	all = all[f.Offset:]
	if f.Limit > 0 && len(all) > f.Limit {
		all = all[:f.Limit]
	}
	return all, total, nil
}

func (s *MemoryTransactionStore) Review(ctx context.Context, id, status, reviewedBy string) (fraud.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.rows[id]
	if !ok || tx.Status != TxPending {
		return fraud.Transaction{}, ErrTransactionNotFound
	}
	tx.Status = status
	tx.ReviewedBy = reviewedBy
	tx.UpdatedAt = time.Now().UTC()
	return *tx, nil
}

// PostgresTransactionStore persists transactions in the transactions table.
type PostgresTransactionStore struct {
	pool *database.Pool
}

func NewPostgresTransactionStore(pool *database.Pool) *PostgresTransactionStore {
	return &PostgresTransactionStore{pool: pool}
}

const txColumns = `id, amount, currency, category, classification, status,
       reviewed_by, created_by, created_at, updated_at`

func scanTransaction(row interface{ Scan(...interface{}) error }) (fraud.Transaction, error) {
	var tx fraud.Transaction
	var reviewedBy sql.NullString
	err := row.Scan(&tx.ID, &tx.Amount, &tx.Currency, &tx.Category, &tx.Classification,
		&tx.Status, &reviewedBy, &tx.CreatedBy, &tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		return fraud.Transaction{}, err
	}
	tx.ReviewedBy = reviewedBy.String
	return tx, nil
}

func (s *PostgresTransactionStore) Create(ctx context.Context, tx fraud.Transaction) (fraud.Transaction, error) {
	h, err := s.pool.Lease(ctx)
	if err != nil {
		return fraud.Transaction{}, err
	}
	defer s.pool.Release(h)

	_, err = h.Exec(ctx, `
		INSERT INTO transactions (id, amount, currency, category, classification,
		       status, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
		tx.ID, tx.Amount, tx.Currency, tx.Category, tx.Classification,
		tx.Status, tx.CreatedBy, tx.CreatedAt)
	if err != nil {
		return fraud.Transaction{}, err
	}
	return tx, nil
}

func (s *PostgresTransactionStore) Get(ctx context.Context, id string) (fraud.Transaction, error) {
	h, err := s.pool.Lease(ctx)
	if err != nil {
		return fraud.Transaction{}, err
	}
	defer s.pool.Release(h)

	row := h.QueryRow(ctx, `SELECT `+txColumns+` FROM transactions WHERE id = $1`, id)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return fraud.Transaction{}, ErrTransactionNotFound
	}
	return tx, err
}

func transactionWhere(f TransactionFilter) (string, []interface{}) {
	clauses := []string{"TRUE"}
	var args []interface{}
	add := func(col string, arg interface{}) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if f.Status != "" {
		add("status", f.Status)
	}
	if f.Category != "" {
		add("category", f.Category)
	}
	if f.Classification != "" {
		add("classification", f.Classification)
	}
	return strings.Join(clauses, " AND "), args
}

func (s *PostgresTransactionStore) List(ctx context.Context, f TransactionFilter) ([]fraud.Transaction, int, error) {
	h, err := s.pool.Lease(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer s.pool.Release(h)

	where, args := transactionWhere(f)

	var total int
	if err := h.QueryRow(ctx, `SELECT COUNT(*) FROM transactions WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 || limit > maxLimit {
		limit = defaultLimit
	}
	args = append(args, limit, f.Offset)
	query := fmt.Sprintf(`SELECT %s FROM transactions WHERE %s
		 ORDER BY created_at DESC, id ASC LIMIT $%d OFFSET $%d`,
		txColumns, where, len(args)-1, len(args))

	rows, err := h.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items := []fraud.Transaction{}
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, tx)
	}
	return items, total, rows.Err()
}

func (s *PostgresTransactionStore) Review(ctx context.Context, id, status, reviewedBy string) (fraud.Transaction, error) {
	h, err := s.pool.Lease(ctx)
	if err != nil {
		return fraud.Transaction{}, err
	}
	defer s.pool.Release(h)

	row := h.QueryRow(ctx, `
		UPDATE transactions SET status = $2, reviewed_by = $3, updated_at = $4
		 WHERE id = $1 AND status = 'pending'
		RETURNING `+txColumns, id, status, reviewedBy, time.Now().UTC())
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return fraud.Transaction{}, ErrTransactionNotFound
	}
	return tx, err
}

// TransactionHandlers ingests transactions, classifies them, runs the fraud
// rule engine, and feeds ingestion signals to the pattern engine.
type TransactionHandlers struct {
	store  TransactionStore
	rules  *fraud.Engine
	engine *patterns.Engine
}

func NewTransactionHandlers(store TransactionStore, rules *fraud.Engine, engine *patterns.Engine) *TransactionHandlers {
	return &TransactionHandlers{store: store, rules: rules, engine: engine}
}

type ingestTransactionRequest struct {
	ID       string  `json:"id"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
	Category string  `json:"category"`
}

type ingestTransactionResponse struct {
	Transaction fraud.Transaction `json:"transaction"`
	Hits        []fraud.Hit       `json:"fraud_hits"`
	Flagged     bool              `json:"flagged"`
}

// Ingest stores a classified transaction and reports which fraud rules fired.
func (h *TransactionHandlers) Ingest(ctx context.Context, req *api.Request) *api.Response {
	var body ingestTransactionRequest
	if err := decode(req.Body, &body); err != nil {
		return api.BadRequest(err.Error())
	}
	if body.Amount <= 0 {
		return api.BadRequest("amount must be positive")
	}
	if body.Currency == "" {
		body.Currency = "USD"
	}
	if body.Category == "" {
		body.Category = "uncategorized"
	}
	if body.ID == "" {
		body.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	tx := fraud.Transaction{
		ID:             body.ID,
		Amount:         body.Amount,
		Currency:       strings.ToUpper(body.Currency),
		Category:       body.Category,
		Classification: fraud.Classify(body.Amount),
		Status:         TxPending,
		CreatedBy:      req.CallerID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	tx, err := h.store.Create(ctx, tx)
	if err != nil {
		return api.Internal(err)
	}

	hits := h.rules.Evaluate(tx)
	if h.engine != nil {
		h.engine.AddDataPoint(patterns.DataPoint{
			EntityID:  "transactions",
			Timestamp: now,
			Numerical: map[string]float64{
				"amount":     tx.Amount,
				"fraud_hits": float64(len(hits)),
			},
			Categorical: map[string]string{
				"event_type":     "transaction",
				"category":       tx.Category,
				"classification": tx.Classification,
			},
		})
	}

	return api.Created(ingestTransactionResponse{
		Transaction: tx,
		Hits:        hits,
		Flagged:     len(hits) > 0,
	})
}

func (h *TransactionHandlers) Get(ctx context.Context, req *api.Request) *api.Response {
	tx, err := h.store.Get(ctx, req.Params["id"])
	if errors.Is(err, ErrTransactionNotFound) {
		return api.NotFound("transaction not found")
	}
	if err != nil {
		return api.Internal(err)
	}
	return api.OK(tx)
}

func (h *TransactionHandlers) List(ctx context.Context, req *api.Request) *api.Response {
	page := parsePage(req.Query)
	items, total, err := h.store.List(ctx, TransactionFilter{
		Status:         req.Query.Get("status"),
		Category:       req.Query.Get("category"),
		Classification: req.Query.Get("classification"),
		Limit:          page.Limit,
		Offset:         page.Offset,
	})
	if err != nil {
		return api.Internal(err)
	}
	return api.OK(ListResponse{
		Items:      items,
		Pagination: Pagination{Limit: page.Limit, Offset: page.Offset, Total: total},
	})
}

// Approve marks a pending transaction reviewed by the caller.
func (h *TransactionHandlers) Approve(ctx context.Context, req *api.Request) *api.Response {
	return h.review(ctx, req, TxApproved)
}

// Reject marks a pending transaction rejected by the caller.
func (h *TransactionHandlers) Reject(ctx context.Context, req *api.Request) *api.Response {
	return h.review(ctx, req, TxRejected)
}

func (h *TransactionHandlers) review(ctx context.Context, req *api.Request, status string) *api.Response {
	tx, err := h.store.Review(ctx, req.Params["id"], status, req.CallerID)
	if errors.Is(err, ErrTransactionNotFound) {
		return api.NotFound("transaction not found or already reviewed")
	}
	if err != nil {
		return api.Internal(err)
	}
	return api.OK(tx)
}

// FraudRuleHandlers exposes fraud rule CRUD backed by the in-process engine
// with Postgres persistence for restart recovery.
type FraudRuleHandlers struct {
	rules *fraud.Engine
	pool  *database.Pool
}

func NewFraudRuleHandlers(rules *fraud.Engine, pool *database.Pool) *FraudRuleHandlers {
	return &FraudRuleHandlers{rules: rules, pool: pool}
}

type fraudRuleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Expression  string `json:"expression"`
	Severity    string `json:"severity"`
	Active      *bool  `json:"active"`
}

func (h *FraudRuleHandlers) Create(ctx context.Context, req *api.Request) *api.Response {
	var body fraudRuleRequest
	if err := decode(req.Body, &body); err != nil {
		return api.BadRequest(err.Error())
	}
	if strings.TrimSpace(body.Name) == "" {
		return api.BadRequest("name is required")
	}
	if strings.TrimSpace(body.Expression) == "" {
		return api.BadRequest("expression is required")
	}
	active := true
	if body.Active != nil {
		active = *body.Active
	}

	r, err := h.rules.AddRule(fraud.Rule{
		Name:        body.Name,
		Description: body.Description,
		Expression:  body.Expression,
		Severity:    body.Severity,
		Active:      active,
		CreatedBy:   req.CallerID,
	})
	if err != nil {
		return api.BadRequest(err.Error())
	}
	if err := h.persist(ctx, r); err != nil {
		return api.Internal(err)
	}
	return api.Created(r)
}

func (h *FraudRuleHandlers) Get(ctx context.Context, req *api.Request) *api.Response {
	r, err := h.rules.GetRule(req.Params["id"])
	if errors.Is(err, fraud.ErrRuleNotFound) {
		return api.NotFound("fraud rule not found")
	}
	if err != nil {
		return api.Internal(err)
	}
	return api.OK(r)
}

func (h *FraudRuleHandlers) List(ctx context.Context, req *api.Request) *api.Response {
	return api.OK(map[string]interface{}{"items": h.rules.ListRules()})
}

func (h *FraudRuleHandlers) Update(ctx context.Context, req *api.Request) *api.Response {
	var body fraudRuleRequest
	if err := decode(req.Body, &body); err != nil {
		return api.BadRequest(err.Error())
	}

	r, err := h.rules.UpdateRule(req.Params["id"], func(r *fraud.Rule) {
		if body.Name != "" {
			r.Name = body.Name
		}
		if body.Description != "" {
			r.Description = body.Description
		}
		if body.Expression != "" {
			r.Expression = body.Expression
		}
		if body.Severity != "" {
			r.Severity = body.Severity
		}
		if body.Active != nil {
			r.Active = *body.Active
		}
	})
	if errors.Is(err, fraud.ErrRuleNotFound) {
		return api.NotFound("fraud rule not found")
	}
	if err != nil {
		return api.BadRequest(err.Error())
	}
	if err := h.persist(ctx, r); err != nil {
		return api.Internal(err)
	}
	return api.OK(r)
}

func (h *FraudRuleHandlers) Delete(ctx context.Context, req *api.Request) *api.Response {
	id := req.Params["id"]
	if err := h.rules.DeleteRule(id); errors.Is(err, fraud.ErrRuleNotFound) {
		return api.NotFound("fraud rule not found")
	}
	if h.pool != nil {
		if hdl, err := h.pool.Lease(ctx); err == nil {
			_, _ = hdl.Exec(ctx, `DELETE FROM fraud_rules WHERE id = $1`, id)
			h.pool.Release(hdl)
		}
	}
	return api.NoContent()
}

func (h *FraudRuleHandlers) persist(ctx context.Context, r *fraud.Rule) error {
	if h.pool == nil {
		return nil
	}
	hdl, err := h.pool.Lease(ctx)
	if err != nil {
		return err
	}
	defer h.pool.Release(hdl)

	_, err = hdl.Exec(ctx, `
		INSERT INTO fraud_rules (id, name, description, expression, severity,
		       active, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
		       name = EXCLUDED.name, description = EXCLUDED.description,
		       expression = EXCLUDED.expression, severity = EXCLUDED.severity,
		       active = EXCLUDED.active, updated_at = EXCLUDED.updated_at`,
		r.ID, r.Name, r.Description, r.Expression, r.Severity,
		r.Active, r.CreatedBy, r.CreatedAt, r.UpdatedAt)
	return err
}

// LoadFraudRules rehydrates the engine from the fraud_rules table at boot.
// A stored rule that no longer compiles is skipped rather than blocking
// startup.
func LoadFraudRules(ctx context.Context, pool *database.Pool, rules *fraud.Engine) (int, error) {
	h, err := pool.Lease(ctx)
	if err != nil {
		return 0, err
	}
	defer pool.Release(h)

	rows, err := h.Query(ctx, `
		SELECT id, name, description, expression, severity, active,
		       created_by, created_at, updated_at
		  FROM fraud_rules`)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	loaded := 0
	for rows.Next() {
		var r fraud.Rule
		var createdBy sql.NullString
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &r.Expression,
			&r.Severity, &r.Active, &createdBy, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return loaded, err
		}
		r.CreatedBy = createdBy.String
		if _, err := rules.AddRule(r); err != nil {
			slog.Warn("stored fraud rule skipped", "rule_id", r.ID, "error", err)
			continue
		}
		loaded++
	}
	return loaded, rows.Err()
}
