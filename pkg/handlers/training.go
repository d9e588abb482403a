package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veridian-labs/veridian/core/pkg/api"
	"github.com/veridian-labs/veridian/core/pkg/database"
)

var (
	ErrCourseNotFound   = errors.New("training course not found")
	ErrScenarioNotFound = errors.New("simulator scenario not found")
)

// Course is one compliance training course.
type Course struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Level       string    `json:"level"`
	Status      string    `json:"status"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Scenario is one what-if simulator scenario with free-form parameters.
type Scenario struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Parameters  map[string]float64 `json:"parameters"`
	Status      string             `json:"status"`
	CreatedBy   string             `json:"created_by"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// CourseStore persists training courses.
type CourseStore interface {
	SaveCourse(ctx context.Context, c Course) error
	GetCourse(ctx context.Context, id string) (Course, error)
	ListCourses(ctx context.Context) ([]Course, error)
	DeleteCourse(ctx context.Context, id string) error
}

// ScenarioStore persists simulator scenarios.
type ScenarioStore interface {
	SaveScenario(ctx context.Context, s Scenario) error
	GetScenario(ctx context.Context, id string) (Scenario, error)
	ListScenarios(ctx context.Context) ([]Scenario, error)
	DeleteScenario(ctx context.Context, id string) error
}

// MemoryTrainingStore backs tests and standalone operation for both courses
// and scenarios.
type MemoryTrainingStore struct {
	mu        sync.Mutex
	courses   map[string]Course
	scenarios map[string]Scenario
}

func NewMemoryTrainingStore() *MemoryTrainingStore {
	return &MemoryTrainingStore{courses: map[string]Course{}, scenarios: map[string]Scenario{}}
}

func (s *MemoryTrainingStore) SaveCourse(ctx context.Context, c Course) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.courses[c.ID] = c
	return nil
}

func (s *MemoryTrainingStore) GetCourse(ctx context.Context, id string) (Course, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.courses[id]
	if !ok {
		return Course{}, ErrCourseNotFound
	}
	return c, nil
}

func (s *MemoryTrainingStore) ListCourses(ctx context.Context) ([]Course, error) {
	s.mu.Lock()
	out := make([]Course, 0, len(s.courses))
	for _, c := range s.courses {
		out = append(out, c)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryTrainingStore) DeleteCourse(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.courses[id]; !ok {
		return ErrCourseNotFound
	}
	delete(s.courses, id)
	return nil
}

func (s *MemoryTrainingStore) SaveScenario(ctx context.Context, sc Scenario) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scenarios[sc.ID] = sc
	return nil
}

func (s *MemoryTrainingStore) GetScenario(ctx context.Context, id string) (Scenario, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.scenarios[id]
	if !ok {
		return Scenario{}, ErrScenarioNotFound
	}
	return sc, nil
}

func (s *MemoryTrainingStore) ListScenarios(ctx context.Context) ([]Scenario, error) {
	s.mu.Lock()
	out := make([]Scenario, 0, len(s.scenarios))
	for _, sc := range s.scenarios {
		out = append(out, sc)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryTrainingStore) DeleteScenario(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.scenarios[id]; !ok {
		return ErrScenarioNotFound
	}
	delete(s.scenarios, id)
	return nil
}

// PostgresTrainingStore persists courses and scenarios.
type PostgresTrainingStore struct {
	pool *database.Pool
}

func NewPostgresTrainingStore(pool *database.Pool) *PostgresTrainingStore {
	return &PostgresTrainingStore{pool: pool}
}

func (s *PostgresTrainingStore) SaveCourse(ctx context.Context, c Course) error {
	h, err := s.pool.Lease(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Release(h)

	_, err = h.Exec(ctx, `
		INSERT INTO training_courses (id, title, description, level, status,
		       created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
		       title = EXCLUDED.title, description = EXCLUDED.description,
		       level = EXCLUDED.level, status = EXCLUDED.status,
		       updated_at = EXCLUDED.updated_at`,
		c.ID, c.Title, c.Description, c.Level, c.Status,
		c.CreatedBy, c.CreatedAt, c.UpdatedAt)
	return err
}

func (s *PostgresTrainingStore) GetCourse(ctx context.Context, id string) (Course, error) {
	h, err := s.pool.Lease(ctx)
	if err != nil {
		return Course{}, err
	}
	defer s.pool.Release(h)

	var c Course
	err = h.QueryRow(ctx, `
		SELECT id, title, description, level, status, created_by, created_at, updated_at
		  FROM training_courses WHERE id = $1`, id).
		Scan(&c.ID, &c.Title, &c.Description, &c.Level, &c.Status,
			&c.CreatedBy, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Course{}, ErrCourseNotFound
	}
	return c, err
}

func (s *PostgresTrainingStore) ListCourses(ctx context.Context) ([]Course, error) {
	h, err := s.pool.Lease(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Release(h)

	rows, err := h.Query(ctx, `
		SELECT id, title, description, level, status, created_by, created_at, updated_at
		  FROM training_courses ORDER BY created_at DESC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Course{}
	for rows.Next() {
		var c Course
		if err := rows.Scan(&c.ID, &c.Title, &c.Description, &c.Level, &c.Status,
			&c.CreatedBy, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresTrainingStore) DeleteCourse(ctx context.Context, id string) error {
	h, err := s.pool.Lease(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Release(h)

	res, err := h.Exec(ctx, `DELETE FROM training_courses WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrCourseNotFound
	}
	return nil
}

func (s *PostgresTrainingStore) SaveScenario(ctx context.Context, sc Scenario) error {
	h, err := s.pool.Lease(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Release(h)

	params, err := json.Marshal(sc.Parameters)
	if err != nil {
		return err
	}
	_, err = h.Exec(ctx, `
		INSERT INTO simulator_scenarios (id, name, description, parameters,
		       status, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
		       name = EXCLUDED.name, description = EXCLUDED.description,
		       parameters = EXCLUDED.parameters, status = EXCLUDED.status,
		       updated_at = EXCLUDED.updated_at`,
		sc.ID, sc.Name, sc.Description, string(params), sc.Status,
		sc.CreatedBy, sc.CreatedAt, sc.UpdatedAt)
	return err
}

func (s *PostgresTrainingStore) GetScenario(ctx context.Context, id string) (Scenario, error) {
	h, err := s.pool.Lease(ctx)
	if err != nil {
		return Scenario{}, err
	}
	defer s.pool.Release(h)

	var sc Scenario
	var params string
	err = h.QueryRow(ctx, `
		SELECT id, name, description, parameters, status, created_by, created_at, updated_at
		  FROM simulator_scenarios WHERE id = $1`, id).
		Scan(&sc.ID, &sc.Name, &sc.Description, &params, &sc.Status,
			&sc.CreatedBy, &sc.CreatedAt, &sc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Scenario{}, ErrScenarioNotFound
	}
	if err != nil {
		return Scenario{}, err
	}
	if err := json.Unmarshal([]byte(params), &sc.Parameters); err != nil {
		return Scenario{}, err
	}
	return sc, nil
}

func (s *PostgresTrainingStore) ListScenarios(ctx context.Context) ([]Scenario, error) {
	h, err := s.pool.Lease(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Release(h)

	rows, err := h.Query(ctx, `
		SELECT id, name, description, parameters, status, created_by, created_at, updated_at
		  FROM simulator_scenarios ORDER BY created_at DESC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Scenario{}
	for rows.Next() {
		var sc Scenario
		var params string
		if err := rows.Scan(&sc.ID, &sc.Name, &sc.Description, &params, &sc.Status,
			&sc.CreatedBy, &sc.CreatedAt, &sc.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(params), &sc.Parameters); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *PostgresTrainingStore) DeleteScenario(ctx context.Context, id string) error {
	h, err := s.pool.Lease(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Release(h)

	res, err := h.Exec(ctx, `DELETE FROM simulator_scenarios WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrScenarioNotFound
	}
	return nil
}

// TrainingHandlers exposes course and scenario CRUD.
type TrainingHandlers struct {
	courses   CourseStore
	scenarios ScenarioStore
}

func NewTrainingHandlers(courses CourseStore, scenarios ScenarioStore) *TrainingHandlers {
	return &TrainingHandlers{courses: courses, scenarios: scenarios}
}

type courseRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Level       string `json:"level"`
}

func (h *TrainingHandlers) CreateCourse(ctx context.Context, req *api.Request) *api.Response {
	var body courseRequest
	if err := decode(req.Body, &body); err != nil {
		return api.BadRequest(err.Error())
	}
	if strings.TrimSpace(body.Title) == "" {
		return api.BadRequest("title is required")
	}
	if body.Level == "" {
		body.Level = "beginner"
	}

	now := time.Now().UTC()
	c := Course{
		ID:          uuid.NewString(),
		Title:       body.Title,
		Description: body.Description,
		Level:       body.Level,
		Status:      "active",
		CreatedBy:   req.CallerID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := h.courses.SaveCourse(ctx, c); err != nil {
		return api.Internal(err)
	}
	return api.Created(c)
}

func (h *TrainingHandlers) GetCourse(ctx context.Context, req *api.Request) *api.Response {
	c, err := h.courses.GetCourse(ctx, req.Params["id"])
	if errors.Is(err, ErrCourseNotFound) {
		return api.NotFound("training course not found")
	}
	if err != nil {
		return api.Internal(err)
	}
	return api.OK(c)
}

func (h *TrainingHandlers) ListCourses(ctx context.Context, req *api.Request) *api.Response {
	courses, err := h.courses.ListCourses(ctx)
	if err != nil {
		return api.Internal(err)
	}
	return api.OK(map[string]interface{}{"items": courses})
}

func (h *TrainingHandlers) DeleteCourse(ctx context.Context, req *api.Request) *api.Response {
	err := h.courses.DeleteCourse(ctx, req.Params["id"])
	if errors.Is(err, ErrCourseNotFound) {
		return api.NotFound("training course not found")
	}
	if err != nil {
		return api.Internal(err)
	}
	return api.NoContent()
}

type scenarioRequest struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Parameters  map[string]float64 `json:"parameters"`
}

func (h *TrainingHandlers) CreateScenario(ctx context.Context, req *api.Request) *api.Response {
	var body scenarioRequest
	if err := decode(req.Body, &body); err != nil {
		return api.BadRequest(err.Error())
	}
	if strings.TrimSpace(body.Name) == "" {
		return api.BadRequest("name is required")
	}
	if body.Parameters == nil {
		body.Parameters = map[string]float64{}
	}

	now := time.Now().UTC()
	sc := Scenario{
		ID:          uuid.NewString(),
		Name:        body.Name,
		Description: body.Description,
		Parameters:  body.Parameters,
		Status:      "active",
		CreatedBy:   req.CallerID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := h.scenarios.SaveScenario(ctx, sc); err != nil {
		return api.Internal(err)
	}
	return api.Created(sc)
}

func (h *TrainingHandlers) GetScenario(ctx context.Context, req *api.Request) *api.Response {
	sc, err := h.scenarios.GetScenario(ctx, req.Params["id"])
	if errors.Is(err, ErrScenarioNotFound) {
		return api.NotFound("simulator scenario not found")
	}
	if err != nil {
		return api.Internal(err)
	}
	return api.OK(sc)
}

func (h *TrainingHandlers) ListScenarios(ctx context.Context, req *api.Request) *api.Response {
	scenarios, err := h.scenarios.ListScenarios(ctx)
	if err != nil {
		return api.Internal(err)
	}
	return api.OK(map[string]interface{}{"items": scenarios})
}

func (h *TrainingHandlers) DeleteScenario(ctx context.Context, req *api.Request) *api.Response {
	err := h.scenarios.DeleteScenario(ctx, req.Params["id"])
	if errors.Is(err, ErrScenarioNotFound) {
		return api.NotFound("simulator scenario not found")
	}
	if err != nil {
		return api.Internal(err)
	}
	return api.NoContent()
}
