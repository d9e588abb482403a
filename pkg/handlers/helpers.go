// Package handlers implements the domain HTTP handlers registered with the
// endpoint registry: decisions, knowledge, memory graph, transactions,
// fraud rules, patterns, regulatory sources, training, and the simulator.
// Cross-cutting concerns (auth, error enveloping, routing) live in the
// registry; handlers only translate requests into store operations.
package handlers

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	defaultLimit = 50
	maxLimit     = 1000
)

// Page is the parsed pagination window.
type Page struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// Pagination is the list-response metadata block.
type Pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Total  int `json:"total"`
}

// ListResponse is the uniform list envelope.
type ListResponse struct {
	Items      interface{} `json:"items"`
	Pagination Pagination  `json:"pagination"`
}

// parsePage reads limit/offset with the shared bounds: limit in [1, 1000]
// defaulting to 50, offset >= 0.
func parsePage(q url.Values) Page {
	p := Page{Limit: defaultLimit}
	if raw := q.Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			p.Limit = v
		}
	}
	if p.Limit > maxLimit {
		p.Limit = maxLimit
	}
	if raw := q.Get("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			p.Offset = v
		}
	}
	return p
}

// parseSort validates sortBy against the resource's whitelist and
// normalizes sortOrder to asc or desc.
func parseSort(q url.Values, whitelist []string, fallback string) (string, string, error) {
	sortBy := q.Get("sortBy")
	if sortBy == "" {
		sortBy = fallback
	}
	ok := false
	for _, w := range whitelist {
		if sortBy == w {
			ok = true
			break
		}
	}
	if !ok {
		return "", "", fmt.Errorf("sortBy must be one of: %s", strings.Join(whitelist, ", "))
	}

	order := strings.ToLower(q.Get("sortOrder"))
	switch order {
	case "", "desc":
		order = "desc"
	case "asc":
	default:
		return "", "", fmt.Errorf("sortOrder must be asc or desc")
	}
	return sortBy, order, nil
}

// decode unmarshals a JSON request body into dst.
func decode(body []byte, dst interface{}) error {
	if len(body) == 0 {
		return fmt.Errorf("request body required")
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}
