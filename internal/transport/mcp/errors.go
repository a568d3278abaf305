package mcp

import "github.com/elf-memory/elf/internal/apperr"

// asToolError maps a core service error into a ToolError, mirroring
// httpapi.mapError's apperr.Kind switch but emitting an MCP error code
// instead of an HTTP status.
func asToolError(err error) *ToolError {
	if te, ok := err.(*ToolError); ok {
		return te
	}
	kind, ok := apperr.KindOf(err)
	if !ok {
		return NewToolError(ErrCodeInternal, "internal error")
	}
	switch kind {
	case apperr.KindNonEnglishInput:
		return NewToolError(ErrCodeNonEnglish, errMessage(err))
	case apperr.KindInvalidRequest:
		return NewToolError(ErrCodeInvalidParams, errMessage(err))
	case apperr.KindScopeDenied:
		return NewToolError(ErrCodeScopeDenied, errMessage(err))
	default:
		return NewToolError(ErrCodeInternal, "internal error")
	}
}

func errMessage(err error) string {
	if e, ok := err.(*apperr.Error); ok {
		return e.Message
	}
	return err.Error()
}
