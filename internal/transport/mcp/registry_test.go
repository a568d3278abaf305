package mcp

import (
	"context"
	"encoding/json"
	"testing"
)

func echoHandler(result any) Handler {
	return func(ctx context.Context, tc *ToolContext, args json.RawMessage) (any, error) {
		return result, nil
	}
}

func TestRegistryRegisterRejectsEmptyName(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(ToolDefinition{}, echoHandler(nil)); err == nil {
		t.Fatal("expected an error for an empty tool name")
	}
}

func TestRegistryRegisterRejectsDuplicateName(t *testing.T) {
	r := NewRegistry()
	def := ToolDefinition{Name: "dup"}
	if err := r.Register(def, echoHandler(nil)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Register(def, echoHandler(nil)); err == nil {
		t.Fatal("expected an error registering the same tool name twice")
	}
}

func TestRegistryListPreservesRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(ToolDefinition{Name: "b"}, echoHandler(nil))
	r.MustRegister(ToolDefinition{Name: "a"}, echoHandler(nil))

	list := r.List()
	if len(list) != 2 || list[0].Name != "b" || list[1].Name != "a" {
		t.Fatalf("expected registration order [b, a], got %+v", list)
	}
}

func TestRegistryCallUnknownToolReturnsMethodNotFound(t *testing.T) {
	r := NewRegistry()
	result := r.Call(context.Background(), &ToolContext{}, CallRequest{Name: "missing"})

	if !result.IsError {
		t.Fatal("expected IsError for an unknown tool")
	}
	var te ToolError
	if err := json.Unmarshal([]byte(result.Content[0].Text), &te); err != nil {
		t.Fatalf("failed to decode error payload: %v", err)
	}
	if te.Code != ErrCodeMethodNotFound {
		t.Fatalf("expected %q, got %q", ErrCodeMethodNotFound, te.Code)
	}
}

func TestRegistryCallSuccessWrapsResultAsTextContent(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(ToolDefinition{Name: "echo"}, echoHandler(map[string]any{"ok": true}))

	result := r.Call(context.Background(), &ToolContext{}, CallRequest{Name: "echo"})

	if result.IsError {
		t.Fatalf("expected success, got error content: %s", result.Content[0].Text)
	}
	if result.Content[0].Type != "text" {
		t.Fatalf("expected a text content block, got %q", result.Content[0].Type)
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(result.Content[0].Text), &decoded); err != nil {
		t.Fatalf("failed to decode result payload: %v", err)
	}
	if decoded["ok"] != true {
		t.Fatalf("unexpected decoded payload: %+v", decoded)
	}
}

func TestRegistryCallHandlerErrorMapsToErrorCode(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(ToolDefinition{Name: "fails"}, func(ctx context.Context, tc *ToolContext, args json.RawMessage) (any, error) {
		return nil, NewToolError(ErrCodeInvalidParams, "bad input")
	})

	result := r.Call(context.Background(), &ToolContext{}, CallRequest{Name: "fails"})

	if !result.IsError {
		t.Fatal("expected IsError for a handler error")
	}
	var te ToolError
	if err := json.Unmarshal([]byte(result.Content[0].Text), &te); err != nil {
		t.Fatalf("failed to decode error payload: %v", err)
	}
	if te.Code != ErrCodeInvalidParams || te.Message != "bad input" {
		t.Fatalf("unexpected tool error: %+v", te)
	}
}
