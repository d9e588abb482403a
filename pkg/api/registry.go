package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/veridian-labs/veridian/core/pkg/auth"
)

// Request carries everything a handler sees. Params holds bound path
// parameters; CallerID and Roles are populated after authentication.
type Request struct {
	Method   string
	Path     string
	Query    url.Values
	Params   map[string]string
	Headers  http.Header
	Body     []byte
	CallerID string
	Roles    []string
}

// HandlerFunc is the uniform handler shape for every endpoint.
type HandlerFunc func(ctx context.Context, req *Request) *Response

// Endpoint describes one registered route.
type Endpoint struct {
	Method       string
	Path         string // template with {name} segments
	Category     string
	Summary      string
	AuthRequired bool
	AllowedRoles []string // empty = any authenticated caller
	Handler      HandlerFunc
}

// Identifier extracts the caller identity from request headers.
type Identifier interface {
	Identify(headers http.Header) (*auth.Claims, error)
}

type route struct {
	endpoint *Endpoint
	segments []string // template segments; "{x}" marks a parameter
	literals int
}

// Registry is the catalogue of endpoints grouped by category. It is mutable
// only before Seal; dispatch afterwards is lock-free.
type Registry struct {
	mu         sync.Mutex
	sealed     bool
	routes     []*route
	byCategory map[string][]*Endpoint
	identify   Identifier
	maxBody    int64
}

// NewRegistry creates an empty registry using the given identifier for
// authenticated endpoints.
func NewRegistry(identify Identifier) *Registry {
	return &Registry{
		byCategory: map[string][]*Endpoint{},
		identify:   identify,
		maxBody:    1 << 20, // 1MB request cap
	}
}

// Register adds an endpoint. Method+path must be unique and templates whose
// shapes collide (same literal layout) are configuration errors.
func (r *Registry) Register(e *Endpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("registry sealed: cannot register %s %s", e.Method, e.Path)
	}
	switch e.Method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete:
	default:
		return fmt.Errorf("unsupported method %q for %s", e.Method, e.Path)
	}
	if e.Handler == nil {
		return fmt.Errorf("nil handler for %s %s", e.Method, e.Path)
	}

	segs := splitPath(e.Path)
	literals := 0
	for _, s := range segs {
		if !isParam(s) {
			literals++
		}
	}

	for _, existing := range r.routes {
		if existing.endpoint.Method != e.Method {
			continue
		}
		if sameShape(existing.segments, segs) {
			return fmt.Errorf("route conflict: %s %s collides with %s",
				e.Method, e.Path, existing.endpoint.Path)
		}
	}

	r.routes = append(r.routes, &route{endpoint: e, segments: segs, literals: literals})
	r.byCategory[e.Category] = append(r.byCategory[e.Category], e)

	// Most literal segments first; dispatch takes the first match.
	sort.SliceStable(r.routes, func(i, j int) bool {
		return r.routes[i].literals > r.routes[j].literals
	})
	return nil
}

// Seal freezes the registry. Registration happens before the server accepts.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// Categories returns the registered endpoints grouped by category tag.
func (r *Registry) Categories() map[string][]*Endpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string][]*Endpoint, len(r.byCategory))
	for k, v := range r.byCategory {
		out[k] = append([]*Endpoint(nil), v...)
	}
	return out
}

// ServeHTTP implements http.Handler by dispatching into the registry.
func (r *Registry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.Dispatch(w, req)
}

// Dispatch matches, authenticates, authorizes, and invokes the handler.
// Any panic is trapped and surfaced as a 500 envelope without a stack.
func (r *Registry) Dispatch(w http.ResponseWriter, req *http.Request) {
	matched, params := r.match(req.Method, req.URL.Path)
	if matched == nil {
		NotFound("").Write(w)
		return
	}
	e := matched.endpoint

	request := &Request{
		Method:  req.Method,
		Path:    req.URL.Path,
		Query:   req.URL.Query(),
		Params:  params,
		Headers: req.Header,
	}

	if e.AuthRequired {
		claims, err := r.identify.Identify(req.Header)
		if err != nil {
			Unauthorized("Invalid or missing token").Write(w)
			return
		}
		request.CallerID = claims.Subject
		request.Roles = claims.Roles

		if len(e.AllowedRoles) > 0 && !anyRole(claims.Roles, e.AllowedRoles) {
			Forbidden("").Write(w)
			return
		}
	}

	if req.Body != nil {
		body, err := io.ReadAll(io.LimitReader(req.Body, r.maxBody))
		if err != nil {
			BadRequest("Unreadable request body").Write(w)
			return
		}
		request.Body = body
	}

	resp := r.invoke(req.Context(), e, request)
	if resp == nil {
		resp = Internal(fmt.Errorf("handler for %s %s returned nil", e.Method, e.Path))
	}
	resp.Write(w)
}

// invoke runs the handler with panic trapping.
func (r *Registry) invoke(ctx context.Context, e *Endpoint, req *Request) (resp *Response) {
	defer func() {
		if rec := recover(); rec != nil {
			resp = Internal(fmt.Errorf("panic in %s %s: %v", e.Method, e.Path, rec))
		}
	}()
	return e.Handler(ctx, req)
}

// match finds the route for method+path. Routes are pre-sorted so the most
// literal template wins.
func (r *Registry) match(method, path string) (*route, map[string]string) {
	segs := splitPath(path)
	for _, rt := range r.routes {
		if rt.endpoint.Method != method {
			continue
		}
		params, ok := bind(rt.segments, segs)
		if ok {
			return rt, params
		}
	}
	return nil, nil
}

func bind(template, actual []string) (map[string]string, bool) {
	if len(template) != len(actual) {
		return nil, false
	}
	params := map[string]string{}
	for i, t := range template {
		if isParam(t) {
			params[t[1:len(t)-1]] = actual[i]
			continue
		}
		if t != actual[i] {
			return nil, false
		}
	}
	return params, true
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func isParam(seg string) bool {
	return len(seg) > 2 && seg[0] == '{' && seg[len(seg)-1] == '}'
}

// sameShape reports whether two templates would both match some path with
// the same literal precedence, which makes registration ambiguous.
func sameShape(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		pa, pb := isParam(a[i]), isParam(b[i])
		if pa != pb {
			return false
		}
		if !pa && a[i] != b[i] {
			return false
		}
	}
	return true
}

func anyRole(have, allowed []string) bool {
	for _, h := range have {
		for _, a := range allowed {
			if h == a {
				return true
			}
		}
	}
	return false
}
