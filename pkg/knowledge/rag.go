package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/veridian-labs/veridian/core/pkg/database"
)

// Answerer produces an answer from a question and assembled context. The
// text generator behind it is external; tests and the default wiring use
// ExtractiveAnswerer.
type Answerer interface {
	Answer(ctx context.Context, question, kbContext string) (string, error)
}

// AnswererFunc adapts a function to the Answerer interface.
type AnswererFunc func(ctx context.Context, question, kbContext string) (string, error)

func (f AnswererFunc) Answer(ctx context.Context, question, kbContext string) (string, error) {
	return f(ctx, question, kbContext)
}

// ExtractiveAnswerer answers with the leading fragment of the assembled
// context. It keeps ask-the-KB functional without an external generator.
type ExtractiveAnswerer struct {
	MaxChars int
}

func (a ExtractiveAnswerer) Answer(_ context.Context, question, kbContext string) (string, error) {
	if strings.TrimSpace(kbContext) == "" {
		return "No relevant knowledge base entries were found for this question.", nil
	}
	max := a.MaxChars
	if max <= 0 {
		max = 600
	}
	answer := strings.TrimSpace(kbContext)
	if len(answer) > max {
		answer = answer[:max] + "..."
	}
	return answer, nil
}

// Session is one stored Q&A exchange.
type Session struct {
	ID        string    `json:"id"`
	Question  string    `json:"question"`
	Context   string    `json:"context"`
	SourceIDs []string  `json:"source_ids"`
	Answer    string    `json:"answer"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionStore persists Q&A sessions. Nil disables storage.
type SessionStore interface {
	SaveSession(ctx context.Context, s Session) error
}

// Ask retrieves the top-k entries by hybrid search, assembles their content
// into a context block, generates an answer, and stores the exchange.
func (ix *Index) Ask(ctx context.Context, question, callerID string, k int, answerer Answerer, store SessionStore) (Session, error) {
	if k <= 0 || k > 20 {
		k = 5
	}
	results := ix.Search(question, ModeHybrid, k)

	var sourceIDs []string
	var parts []string
	for _, r := range results {
		sourceIDs = append(sourceIDs, r.Entry.ID)
		parts = append(parts, fmt.Sprintf("[%s] %s", r.Entry.Title, r.Entry.Content))
	}
	kbContext := strings.Join(parts, "\n\n")

	if answerer == nil {
		answerer = ExtractiveAnswerer{}
	}
	answer, err := answerer.Answer(ctx, question, kbContext)
	if err != nil {
		return Session{}, fmt.Errorf("generate answer: %w", err)
	}

	session := Session{
		ID:        uuid.NewString(),
		Question:  question,
		Context:   kbContext,
		SourceIDs: sourceIDs,
		Answer:    answer,
		CreatedBy: callerID,
		CreatedAt: time.Now().UTC(),
	}
	if store != nil {
		if err := store.SaveSession(ctx, session); err != nil {
			return Session{}, fmt.Errorf("store session: %w", err)
		}
	}
	return session, nil
}

// PostgresSessionStore writes qa_sessions rows.
type PostgresSessionStore struct {
	pool *database.Pool
}

func NewPostgresSessionStore(pool *database.Pool) *PostgresSessionStore {
	return &PostgresSessionStore{pool: pool}
}

func (s *PostgresSessionStore) SaveSession(ctx context.Context, sess Session) error {
	h, err := s.pool.Lease(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Release(h)

	ids, err := json.Marshal(sess.SourceIDs)
	if err != nil {
		return fmt.Errorf("encode source ids: %w", err)
	}
	_, err = h.Exec(ctx, `
		INSERT INTO qa_sessions
		       (id, question, context, source_ids, answer, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sess.ID, sess.Question, sess.Context, string(ids), sess.Answer,
		sess.CreatedBy, sess.CreatedAt)
	return err
}
