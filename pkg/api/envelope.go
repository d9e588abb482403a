// Package api implements the endpoint registry: uniform authentication,
// role enforcement, request parsing, and error envelope generation for every
// resource. Cross-cutting concerns live here and only here.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

const jsonContentType = "application/json; charset=utf-8"

// Response is what every handler returns. Body is JSON-serialized on write.
type Response struct {
	Status      int
	Body        interface{}
	ContentType string
	Headers     map[string]string
}

// errorBody is the wire shape of every error response.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// JSON builds a success response.
func JSON(status int, body interface{}) *Response {
	return &Response{Status: status, Body: body}
}

// OK is a 200 response.
func OK(body interface{}) *Response { return JSON(http.StatusOK, body) }

// Created is a 201 response.
func Created(body interface{}) *Response { return JSON(http.StatusCreated, body) }

// Accepted is a 202 response for kicked jobs.
func Accepted(body interface{}) *Response { return JSON(http.StatusAccepted, body) }

// NoContent is a 204 response.
func NoContent() *Response { return &Response{Status: http.StatusNoContent} }

// Error builds an error envelope response.
func Error(status int, message string) *Response {
	return &Response{Status: status, Body: errorBody{Error: message}}
}

// ErrorCode builds an error envelope with a short machine tag.
func ErrorCode(status int, message, code string) *Response {
	return &Response{Status: status, Body: errorBody{Error: message, Code: code}}
}

// BadRequest is a 400 validation failure.
func BadRequest(message string) *Response { return Error(http.StatusBadRequest, message) }

// Unauthorized is a 401 failure.
func Unauthorized(message string) *Response {
	if message == "" {
		message = "Authentication required"
	}
	return Error(http.StatusUnauthorized, message)
}

// Forbidden is a 403 failure.
func Forbidden(message string) *Response {
	if message == "" {
		message = "Insufficient permissions"
	}
	return Error(http.StatusForbidden, message)
}

// NotFound is a 404 failure.
func NotFound(message string) *Response {
	if message == "" {
		message = "Not found"
	}
	return Error(http.StatusNotFound, message)
}

// Conflict is a 409 failure.
func Conflict(message string) *Response { return Error(http.StatusConflict, message) }

// Internal is a 500 failure. The underlying error is logged, never exposed.
func Internal(err error) *Response {
	slog.Error("internal server error", "error", err)
	return Error(http.StatusInternalServerError, "An unexpected error occurred")
}

// Timeout is a 504 deadline failure.
func Timeout() *Response {
	return Error(http.StatusGatewayTimeout, "Request deadline exceeded")
}

// Write serializes the response onto the wire.
func (resp *Response) Write(w http.ResponseWriter) {
	ct := resp.ContentType
	if ct == "" {
		ct = jsonContentType
	}
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	w.Header().Set("Content-Type", ct)
	w.WriteHeader(resp.Status)
	if resp.Body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(resp.Body); err != nil {
		slog.Error("encode response", "error", err)
	}
}
