// Package tools holds the in-process tools the gateway can invoke.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/smallbiznis/creditmeter/pkg/jsonvalue"
)

var (
	ErrToolExists   = errors.New("tool_exists")
	ErrToolNotFound = errors.New("tool_not_found")
	ErrInvalidName  = errors.New("invalid_tool_name")
)

// ToolNotFoundError names the tool a caller asked for.
type ToolNotFoundError struct {
	Name string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("tool %q not found", e.Name)
}

func (e *ToolNotFoundError) Unwrap() error { return ErrToolNotFound }

// ToolContext identifies the caller of a tool. Tools that read tenant data
// must scope every read to TenantID.
type ToolContext struct {
	TenantID  string
	UserID    string
	RequestID string
}

type Tool interface {
	Invoke(ctx context.Context, payload jsonvalue.Value, tc ToolContext) (jsonvalue.Value, error)
}

// ToolFunc adapts a plain function to Tool.
type ToolFunc func(ctx context.Context, payload jsonvalue.Value, tc ToolContext) (jsonvalue.Value, error)

func (f ToolFunc) Invoke(ctx context.Context, payload jsonvalue.Value, tc ToolContext) (jsonvalue.Value, error) {
	return f(ctx, payload, tc)
}

type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: map[string]Tool{}}
}

func (r *Registry) Register(name string, tool Tool) error {
	name = strings.TrimSpace(name)
	if name == "" || tool == nil {
		return ErrInvalidName
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; ok {
		return fmt.Errorf("%w: %s", ErrToolExists, name)
	}
	r.tools[name] = tool
	return nil
}

func (r *Registry) Invoke(ctx context.Context, name string, payload jsonvalue.Value, tc ToolContext) (jsonvalue.Value, error) {
	name = strings.TrimSpace(name)

	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return jsonvalue.Value{}, &ToolNotFoundError{Name: name}
	}
	return tool.Invoke(ctx, payload, tc)
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
