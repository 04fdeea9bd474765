// Package mcp exposes the search pipeline over the Model Context Protocol.
package mcp

import (
	"context"
	"errors"
	"fmt"

	pgerrors "github.com/pgweekly/pgwsearch/internal/errors"
)

// MCP error codes. The -3200x range is application specific.
const (
	ErrCodeIndexNotFound      = -32001
	ErrCodeBackendUnavailable = -32002
	ErrCodeTimeout            = -32003

	// Standard JSON-RPC error codes.
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

var (
	// ErrToolNotFound indicates the requested tool does not exist.
	ErrToolNotFound = errors.New("tool not found")

	// ErrInvalidParams indicates invalid tool arguments.
	ErrInvalidParams = errors.New("invalid parameters")
)

// MCPError is a protocol error with code and message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts an error from the pipeline into an MCPError. Coded
// errors keep their message and suggestion; anything else is reported as an
// internal error without leaking details.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var coded *pgerrors.Error
	if errors.As(err, &coded) {
		return mapCoded(coded)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	case errors.Is(err, ErrToolNotFound):
		return &MCPError{Code: ErrCodeMethodNotFound, Message: "Tool not found."}
	case errors.Is(err, ErrInvalidParams):
		return &MCPError{Code: ErrCodeInvalidParams, Message: "Invalid parameters."}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
	}
}

// NewInvalidParamsError creates an invalid-parameters error with msg.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

// NewMethodNotFoundError reports an unknown tool.
func NewMethodNotFoundError(name string) *MCPError {
	return &MCPError{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("Tool '%s' not found.", name)}
}

func mapCoded(e *pgerrors.Error) *MCPError {
	message := e.Message
	if e.Suggestion != "" {
		message = fmt.Sprintf("%s. %s", e.Message, e.Suggestion)
	}

	switch e.Code {
	case pgerrors.ErrCodeIndexUnavailable, pgerrors.ErrCodeCorruptIndex, pgerrors.ErrCodeModelNotFound:
		return &MCPError{Code: ErrCodeIndexNotFound, Message: message}
	case pgerrors.ErrCodeBackendTimeout:
		return &MCPError{Code: ErrCodeTimeout, Message: message}
	}

	switch e.Category {
	case pgerrors.CategoryBackend:
		return &MCPError{Code: ErrCodeBackendUnavailable, Message: message}
	case pgerrors.CategoryValidation:
		return &MCPError{Code: ErrCodeInvalidParams, Message: message}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: message}
	}
}
