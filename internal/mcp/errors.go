// Package mcp exposes search and research as Model Context Protocol tools,
// so editor/agent clients can query the index the same way the CLI does.
package mcp

import "fmt"

// Standard JSON-RPC error codes, reused by the go-sdk's error envelope.
const (
	ErrCodeInvalidParams = -32602
	ErrCodeInternalError = -32603
)

// ToolError is a JSON-RPC-shaped error returned from a tool handler.
type ToolError struct {
	Code    int
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("mcp error %d: %s", e.Code, e.Message)
}

// NewInvalidParamsError builds the error returned for malformed tool input.
func NewInvalidParamsError(message string) error {
	return &ToolError{Code: ErrCodeInvalidParams, Message: message}
}

// MapError wraps an arbitrary handler error as an internal MCP error.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*ToolError); ok {
		return err
	}
	return &ToolError{Code: ErrCodeInternalError, Message: err.Error()}
}
