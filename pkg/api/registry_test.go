package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/veridian-labs/veridian/core/pkg/auth"
)

func newAuthedRegistry(t *testing.T) (*Registry, *auth.TokenService) {
	t.Helper()
	tokens := auth.NewTokenService("test-secret", auth.NewMemoryRefreshStore())
	return NewRegistry(tokens), tokens
}

func bearer(t *testing.T, tokens *auth.TokenService, userID string, roles []string) string {
	t.Helper()
	tok, err := tokens.IssueAccess(userID, userID, roles, 0)
	require.NoError(t, err)
	return "Bearer " + tok
}

func doRequest(r *Registry, method, path, authHeader string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	r.Dispatch(w, req)
	return w
}

func okHandler(body interface{}) HandlerFunc {
	return func(ctx context.Context, req *Request) *Response { return OK(body) }
}

func TestDispatchPublicEndpoint(t *testing.T) {
	r, _ := newAuthedRegistry(t)
	require.NoError(t, r.Register(&Endpoint{
		Method: http.MethodGet, Path: "/api/health", Category: "system",
		Handler: okHandler(map[string]string{"status": "ok"}),
	}))

	w := doRequest(r, http.MethodGet, "/api/health", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
	require.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestDispatchBindsPathParams(t *testing.T) {
	r, _ := newAuthedRegistry(t)
	var got string
	require.NoError(t, r.Register(&Endpoint{
		Method: http.MethodGet, Path: "/decisions/{id}", Category: "decisions",
		Handler: func(ctx context.Context, req *Request) *Response {
			got = req.Params["id"]
			return OK(nil)
		},
	}))

	w := doRequest(r, http.MethodGet, "/decisions/d-42", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "d-42", got)
}

func TestLiteralRouteWinsOverParam(t *testing.T) {
	r, _ := newAuthedRegistry(t)
	var hit string
	require.NoError(t, r.Register(&Endpoint{
		Method: http.MethodGet, Path: "/decisions/{id}", Category: "decisions",
		Handler: func(ctx context.Context, req *Request) *Response { hit = "param"; return OK(nil) },
	}))
	require.NoError(t, r.Register(&Endpoint{
		Method: http.MethodGet, Path: "/decisions/stats", Category: "decisions",
		Handler: func(ctx context.Context, req *Request) *Response { hit = "literal"; return OK(nil) },
	}))

	doRequest(r, http.MethodGet, "/decisions/stats", "", "")
	require.Equal(t, "literal", hit)

	doRequest(r, http.MethodGet, "/decisions/d-1", "", "")
	require.Equal(t, "param", hit)
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r, _ := newAuthedRegistry(t)
	e := &Endpoint{Method: http.MethodPost, Path: "/decisions", Category: "decisions", Handler: okHandler(nil)}
	require.NoError(t, r.Register(e))

	dup := &Endpoint{Method: http.MethodPost, Path: "/decisions", Category: "other", Handler: okHandler(nil)}
	require.Error(t, r.Register(dup))

	// Same shape with a differently named parameter still collides.
	require.NoError(t, r.Register(&Endpoint{Method: http.MethodGet, Path: "/decisions/{id}", Category: "decisions", Handler: okHandler(nil)}))
	require.Error(t, r.Register(&Endpoint{Method: http.MethodGet, Path: "/decisions/{decisionId}", Category: "decisions", Handler: okHandler(nil)}))
}

func TestRegisterAfterSealFails(t *testing.T) {
	r, _ := newAuthedRegistry(t)
	r.Seal()
	err := r.Register(&Endpoint{Method: http.MethodGet, Path: "/late", Category: "x", Handler: okHandler(nil)})
	require.Error(t, err)
}

func TestAuthRequiredWithoutToken(t *testing.T) {
	r, _ := newAuthedRegistry(t)
	require.NoError(t, r.Register(&Endpoint{
		Method: http.MethodGet, Path: "/decisions", Category: "decisions",
		AuthRequired: true, Handler: okHandler(nil),
	}))

	w := doRequest(r, http.MethodGet, "/decisions", "", "")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	var envelope map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.NotEmpty(t, envelope["error"])
}

func TestRoleEnforcement(t *testing.T) {
	r, tokens := newAuthedRegistry(t)
	require.NoError(t, r.Register(&Endpoint{
		Method: http.MethodPost, Path: "/decisions/{id}/approve", Category: "decisions",
		AuthRequired: true, AllowedRoles: []string{"admin", "compliance_officer"},
		Handler: okHandler(nil),
	}))

	// Role outside the allowed set gets 403 regardless of body validity.
	w := doRequest(r, http.MethodPost, "/decisions/d-1/approve",
		bearer(t, tokens, "u1", []string{"user"}), `{"notes":"ok"}`)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = doRequest(r, http.MethodPost, "/decisions/d-1/approve",
		bearer(t, tokens, "u2", []string{"compliance_officer"}), `{"notes":"ok"}`)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestEmptyAllowedRolesMeansAnyAuthenticated(t *testing.T) {
	r, tokens := newAuthedRegistry(t)
	var caller string
	require.NoError(t, r.Register(&Endpoint{
		Method: http.MethodGet, Path: "/api/auth/me", Category: "auth",
		AuthRequired: true,
		Handler: func(ctx context.Context, req *Request) *Response {
			caller = req.CallerID
			return OK(nil)
		},
	}))

	w := doRequest(r, http.MethodGet, "/api/auth/me", bearer(t, tokens, "u9", []string{"whatever"}), "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "u9", caller)
}

func TestPanicBecomes500Envelope(t *testing.T) {
	r, _ := newAuthedRegistry(t)
	require.NoError(t, r.Register(&Endpoint{
		Method: http.MethodGet, Path: "/boom", Category: "system",
		Handler: func(ctx context.Context, req *Request) *Response {
			panic("handler exploded")
		},
	}))

	w := doRequest(r, http.MethodGet, "/boom", "", "")
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.NotContains(t, w.Body.String(), "handler exploded")
	require.Contains(t, w.Body.String(), "error")
}

func TestUnknownRouteIs404(t *testing.T) {
	r, _ := newAuthedRegistry(t)
	w := doRequest(r, http.MethodGet, "/nope", "", "")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestCategoriesGrouping(t *testing.T) {
	r, _ := newAuthedRegistry(t)
	require.NoError(t, r.Register(&Endpoint{Method: http.MethodGet, Path: "/a", Category: "one", Handler: okHandler(nil)}))
	require.NoError(t, r.Register(&Endpoint{Method: http.MethodGet, Path: "/b", Category: "one", Handler: okHandler(nil)}))
	require.NoError(t, r.Register(&Endpoint{Method: http.MethodGet, Path: "/c", Category: "two", Handler: okHandler(nil)}))

	cats := r.Categories()
	require.Len(t, cats["one"], 2)
	require.Len(t, cats["two"], 1)
}
