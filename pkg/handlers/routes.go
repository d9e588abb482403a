package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/veridian-labs/veridian/core/pkg/api"
)

// Role names referenced by route registrations.
const (
	RoleUser              = "user"
	RoleAdmin             = "admin"
	RoleComplianceOfficer = "compliance_officer"
)

var (
	anyUser  = []string{RoleUser, RoleAdmin, RoleComplianceOfficer}
	officers = []string{RoleAdmin, RoleComplianceOfficer}
	admins   = []string{RoleAdmin}
)

// Set bundles every handler group for registration.
type Set struct {
	Auth         *AuthHandlers
	Decisions    *DecisionHandlers
	Knowledge    *KnowledgeHandlers
	Memory       *MemoryHandlers
	Transactions *TransactionHandlers
	FraudRules   *FraudRuleHandlers
	Patterns     *PatternHandlers
	Regulatory   *RegulatoryHandlers
	Feedback     *FeedbackHandlers
	Training     *TrainingHandlers
}

// RegisterAll wires the full endpoint catalogue into the registry. The
// registry enforces method+path uniqueness, so a conflicting registration
// fails here rather than at dispatch time.
func RegisterAll(r *api.Registry, s Set) error {
	started := time.Now().UTC()

	endpoints := []*api.Endpoint{
		// Liveness, unauthenticated.
		{Method: http.MethodGet, Path: "/api/health", Category: "system",
			Summary: "liveness probe",
			Handler: func(ctx context.Context, req *api.Request) *api.Response {
				return api.OK(map[string]interface{}{
					"status":         "ok",
					"uptime_seconds": int(time.Since(started).Seconds()),
				})
			}},

		// Authentication.
		{Method: http.MethodPost, Path: "/api/auth/login", Category: "auth",
			Summary: "exchange credentials for tokens", Handler: s.Auth.Login},
		{Method: http.MethodPost, Path: "/api/auth/refresh", Category: "auth",
			Summary: "rotate a refresh token", Handler: s.Auth.Refresh},
		// Logout authenticates by possession of the refresh token itself,
		// which may arrive as the Authorization bearer value; the registry's
		// JWT check would reject that shape, so the handler does its own.
		{Method: http.MethodPost, Path: "/api/auth/logout", Category: "auth",
			Summary: "revoke a refresh token", Handler: s.Auth.Logout},
		{Method: http.MethodGet, Path: "/api/auth/me", Category: "auth",
			Summary: "caller profile", AuthRequired: true, Handler: s.Auth.Me},
		{Method: http.MethodPost, Path: "/api/auth/unlock", Category: "auth",
			Summary: "administrative account unlock", AuthRequired: true,
			AllowedRoles: admins, Handler: s.Auth.Unlock},

		// Decisions.
		{Method: http.MethodGet, Path: "/decisions", Category: "decisions",
			Summary: "list decisions", AuthRequired: true,
			AllowedRoles: anyUser, Handler: s.Decisions.List},
		{Method: http.MethodPost, Path: "/decisions", Category: "decisions",
			Summary: "create decision", AuthRequired: true,
			AllowedRoles: anyUser, Handler: s.Decisions.Create},
		{Method: http.MethodGet, Path: "/decisions/analytics", Category: "decisions",
			Summary: "decision counts by status", AuthRequired: true,
			AllowedRoles: anyUser, Handler: s.Decisions.Analytics},
		{Method: http.MethodGet, Path: "/decisions/{id}", Category: "decisions",
			Summary: "full decision", AuthRequired: true,
			AllowedRoles: anyUser, Handler: s.Decisions.Get},
		{Method: http.MethodPut, Path: "/decisions/{id}", Category: "decisions",
			Summary: "update decision fields", AuthRequired: true,
			AllowedRoles: anyUser, Handler: s.Decisions.Update},
		{Method: http.MethodDelete, Path: "/decisions/{id}", Category: "decisions",
			Summary: "soft-delete decision", AuthRequired: true,
			AllowedRoles: anyUser, Handler: s.Decisions.Delete},
		{Method: http.MethodPost, Path: "/decisions/{id}/submit", Category: "decisions",
			Summary: "submit draft for review", AuthRequired: true,
			AllowedRoles: anyUser, Handler: s.Decisions.SubmitForReview},
		{Method: http.MethodPost, Path: "/decisions/{id}/approve", Category: "decisions",
			Summary: "approve decision", AuthRequired: true,
			AllowedRoles: officers, Handler: s.Decisions.Approve},
		{Method: http.MethodPost, Path: "/decisions/{id}/reject", Category: "decisions",
			Summary: "reject decision", AuthRequired: true,
			AllowedRoles: officers, Handler: s.Decisions.Reject},
		{Method: http.MethodPost, Path: "/decisions/{id}/implement", Category: "decisions",
			Summary: "mark approved decision implemented", AuthRequired: true,
			AllowedRoles: officers, Handler: s.Decisions.Implement},

		// Knowledge base.
		{Method: http.MethodGet, Path: "/knowledge/search", Category: "knowledge",
			Summary: "keyword/semantic/hybrid search", AuthRequired: true,
			AllowedRoles: anyUser, Handler: s.Knowledge.Search},
		{Method: http.MethodPost, Path: "/knowledge/ask", Category: "knowledge",
			Summary: "answer from the knowledge base", AuthRequired: true,
			AllowedRoles: anyUser, Handler: s.Knowledge.Ask},
		{Method: http.MethodGet, Path: "/knowledge/entries", Category: "knowledge",
			Summary: "list entries", AuthRequired: true,
			AllowedRoles: anyUser, Handler: s.Knowledge.List},
		{Method: http.MethodPost, Path: "/knowledge/entries", Category: "knowledge",
			Summary: "create entry", AuthRequired: true,
			AllowedRoles: anyUser, Handler: s.Knowledge.Create},
		{Method: http.MethodGet, Path: "/knowledge/entries/{id}", Category: "knowledge",
			Summary: "fetch entry", AuthRequired: true,
			AllowedRoles: anyUser, Handler: s.Knowledge.Get},
		{Method: http.MethodPut, Path: "/knowledge/entries/{id}", Category: "knowledge",
			Summary: "update and reindex entry", AuthRequired: true,
			AllowedRoles: anyUser, Handler: s.Knowledge.Update},
		{Method: http.MethodDelete, Path: "/knowledge/entries/{id}", Category: "knowledge",
			Summary: "soft-delete entry", AuthRequired: true,
			AllowedRoles: anyUser, Handler: s.Knowledge.Delete},

		// Agent memory graph.
		{Method: http.MethodPost, Path: "/memory/nodes", Category: "memory",
			Summary: "create memory node", AuthRequired: true,
			AllowedRoles: anyUser, Handler: s.Memory.CreateNode},
		{Method: http.MethodGet, Path: "/memory/nodes/{id}", Category: "memory",
			Summary: "fetch memory node", AuthRequired: true,
			AllowedRoles: anyUser, Handler: s.Memory.GetNode},
		{Method: http.MethodDelete, Path: "/memory/nodes/{id}", Category: "memory",
			Summary: "delete node and touching edges", AuthRequired: true,
			AllowedRoles: anyUser, Handler: s.Memory.DeleteNode},
		{Method: http.MethodPost, Path: "/memory/edges", Category: "memory",
			Summary: "link two nodes", AuthRequired: true,
			AllowedRoles: anyUser, Handler: s.Memory.CreateEdge},
		{Method: http.MethodGet, Path: "/memory/graph", Category: "memory",
			Summary: "bounded per-agent graph view", AuthRequired: true,
			AllowedRoles: anyUser, Handler: s.Memory.Graph},
		{Method: http.MethodGet, Path: "/memory/path", Category: "memory",
			Summary: "shortest path between nodes", AuthRequired: true,
			AllowedRoles: anyUser, Handler: s.Memory.Path},
		{Method: http.MethodGet, Path: "/memory/similar", Category: "memory",
			Summary: "semantic similarity over an agent's nodes", AuthRequired: true,
			AllowedRoles: anyUser, Handler: s.Memory.Similar},
		{Method: http.MethodPost, Path: "/memory/importance", Category: "memory",
			Summary: "recompute node importance", AuthRequired: true,
			AllowedRoles: anyUser, Handler: s.Memory.RecomputeImportance},

		// Transactions and fraud rules.
		{Method: http.MethodPost, Path: "/transactions", Category: "transactions",
			Summary: "ingest and classify a transaction", AuthRequired: true,
			AllowedRoles: anyUser, Handler: s.Transactions.Ingest},
		{Method: http.MethodGet, Path: "/transactions", Category: "transactions",
			Summary: "list transactions", AuthRequired: true,
			AllowedRoles: anyUser, Handler: s.Transactions.List},
		{Method: http.MethodGet, Path: "/transactions/{id}", Category: "transactions",
			Summary: "fetch transaction", AuthRequired: true,
			AllowedRoles: anyUser, Handler: s.Transactions.Get},
		{Method: http.MethodPost, Path: "/transactions/{id}/approve", Category: "transactions",
			Summary: "approve pending transaction", AuthRequired: true,
			AllowedRoles: officers, Handler: s.Transactions.Approve},
		{Method: http.MethodPost, Path: "/transactions/{id}/reject", Category: "transactions",
			Summary: "reject pending transaction", AuthRequired: true,
			AllowedRoles: officers, Handler: s.Transactions.Reject},
		{Method: http.MethodGet, Path: "/fraud/rules", Category: "fraud",
			Summary: "list fraud rules", AuthRequired: true,
			AllowedRoles: anyUser, Handler: s.FraudRules.List},
		{Method: http.MethodPost, Path: "/fraud/rules", Category: "fraud",
			Summary: "create fraud rule", AuthRequired: true,
			AllowedRoles: officers, Handler: s.FraudRules.Create},
		{Method: http.MethodGet, Path: "/fraud/rules/{id}", Category: "fraud",
			Summary: "fetch fraud rule", AuthRequired: true,
			AllowedRoles: anyUser, Handler: s.FraudRules.Get},
		{Method: http.MethodPut, Path: "/fraud/rules/{id}", Category: "fraud",
			Summary: "update fraud rule", AuthRequired: true,
			AllowedRoles: officers, Handler: s.FraudRules.Update},
		{Method: http.MethodDelete, Path: "/fraud/rules/{id}", Category: "fraud",
			Summary: "delete fraud rule", AuthRequired: true,
			AllowedRoles: officers, Handler: s.FraudRules.Delete},

		// Pattern recognition.
		{Method: http.MethodGet, Path: "/patterns", Category: "patterns",
			Summary: "significant patterns, live and stored", AuthRequired: true,
			AllowedRoles: anyUser, Handler: s.Patterns.List},
		{Method: http.MethodGet, Path: "/patterns/stats", Category: "patterns",
			Summary: "engine counters", AuthRequired: true,
			AllowedRoles: anyUser, Handler: s.Patterns.Stats},
		{Method: http.MethodGet, Path: "/patterns/{id}", Category: "patterns",
			Summary: "fetch one pattern", AuthRequired: true,
			AllowedRoles: anyUser, Handler: s.Patterns.Get},
		{Method: http.MethodPost, Path: "/patterns/detect", Category: "patterns",
			Summary: "analyze one entity now", AuthRequired: true,
			AllowedRoles: anyUser, Handler: s.Patterns.Detect},

		// Regulatory monitoring.
		{Method: http.MethodGet, Path: "/sources", Category: "regulatory",
			Summary: "monitored sources with quarantine state", AuthRequired: true,
			AllowedRoles: anyUser, Handler: s.Regulatory.Sources},
		{Method: http.MethodGet, Path: "/changes", Category: "regulatory",
			Summary: "recent regulatory changes", AuthRequired: true,
			AllowedRoles: anyUser, Handler: s.Regulatory.Changes},
		{Method: http.MethodPost, Path: "/sources/{id}/check", Category: "regulatory",
			Summary: "force-check a source now", AuthRequired: true,
			AllowedRoles: officers, Handler: s.Regulatory.ForceCheck},
		{Method: http.MethodGet, Path: "/sources/stats", Category: "regulatory",
			Summary: "monitor counters", AuthRequired: true,
			AllowedRoles: anyUser, Handler: s.Regulatory.Stats},

		// Feedback and learning.
		{Method: http.MethodPost, Path: "/feedback", Category: "feedback",
			Summary: "submit feedback", AuthRequired: true,
			AllowedRoles: anyUser, Handler: s.Feedback.Submit},
		{Method: http.MethodPost, Path: "/feedback/learn", Category: "feedback",
			Summary: "run a learning pass", AuthRequired: true,
			AllowedRoles: officers, Handler: s.Feedback.Learn},
		{Method: http.MethodGet, Path: "/feedback/stats", Category: "feedback",
			Summary: "feedback system counters", AuthRequired: true,
			AllowedRoles: anyUser, Handler: s.Feedback.Stats},
		{Method: http.MethodGet, Path: "/feedback/{entityId}/model", Category: "feedback",
			Summary: "trained model for an entity", AuthRequired: true,
			AllowedRoles: anyUser, Handler: s.Feedback.Model},
		{Method: http.MethodGet, Path: "/feedback/{entityId}/analysis", Category: "feedback",
			Summary: "feedback pattern analysis", AuthRequired: true,
			AllowedRoles: anyUser, Handler: s.Feedback.Analysis},

		// Training and simulator.
		{Method: http.MethodGet, Path: "/training/courses", Category: "training",
			Summary: "list courses", AuthRequired: true,
			AllowedRoles: anyUser, Handler: s.Training.ListCourses},
		{Method: http.MethodPost, Path: "/training/courses", Category: "training",
			Summary: "create course", AuthRequired: true,
			AllowedRoles: officers, Handler: s.Training.CreateCourse},
		{Method: http.MethodGet, Path: "/training/courses/{id}", Category: "training",
			Summary: "fetch course", AuthRequired: true,
			AllowedRoles: anyUser, Handler: s.Training.GetCourse},
		{Method: http.MethodDelete, Path: "/training/courses/{id}", Category: "training",
			Summary: "delete course", AuthRequired: true,
			AllowedRoles: officers, Handler: s.Training.DeleteCourse},
		{Method: http.MethodGet, Path: "/simulator/scenarios", Category: "simulator",
			Summary: "list scenarios", AuthRequired: true,
			AllowedRoles: anyUser, Handler: s.Training.ListScenarios},
		{Method: http.MethodPost, Path: "/simulator/scenarios", Category: "simulator",
			Summary: "create scenario", AuthRequired: true,
			AllowedRoles: officers, Handler: s.Training.CreateScenario},
		{Method: http.MethodGet, Path: "/simulator/scenarios/{id}", Category: "simulator",
			Summary: "fetch scenario", AuthRequired: true,
			AllowedRoles: anyUser, Handler: s.Training.GetScenario},
		{Method: http.MethodDelete, Path: "/simulator/scenarios/{id}", Category: "simulator",
			Summary: "delete scenario", AuthRequired: true,
			AllowedRoles: officers, Handler: s.Training.DeleteScenario},
	}

	for _, e := range endpoints {
		if err := r.Register(e); err != nil {
			return err
		}
	}
	return nil
}
