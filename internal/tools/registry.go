// Package tools implements the registry of callable tools offered to models
// during generation.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/chatrelay/chatrelay/internal/config"
)

// Handler is the function signature for tool implementations.
type Handler func(ctx context.Context, input string) (string, error)

// Spec contains metadata and handler for declaration and execution.
type Spec struct {
	Name        string
	Description string
	Parameters  string // JSON schema
	Handler     Handler
}

// Registry holds the callable tools for a server instance.
type Registry struct {
	tools  map[string]Spec
	logger *slog.Logger
}

// displayNames maps tool names to the label shown while a call is running.
// A static table, so renaming a tool is an explicit two-line change.
var displayNames = map[string]string{
	"web_search": "Searching the web",
}

// NewRegistry creates a tool registry with the built-in tools.
func NewRegistry(cfg *config.Config, logger *slog.Logger) *Registry {
	reg := &Registry{
		tools:  make(map[string]Spec),
		logger: logger.With("component", "tools"),
	}

	reg.Register(
		"web_search",
		"Search the web for up-to-date information",
		`{"type":"object","properties":{"query":{"type":"string","description":"The search query"},"maxResults":{"type":"integer"}},"required":["query"]}`,
		webSearchTool(cfg),
	)

	return reg
}

// Register adds a tool to the registry.
func (r *Registry) Register(name, description, parameters string, handler Handler) {
	r.tools[name] = Spec{
		Name:        name,
		Description: description,
		Parameters:  parameters,
		Handler:     handler,
	}
}

// Specs returns all registered tool specs, sorted by name.
func (r *Registry) Specs() []Spec {
	specs := make([]Spec, 0, len(r.tools))
	for _, s := range r.tools {
		specs = append(specs, s)
	}
	sort.Slice(specs, func(i, j int) bool {
		return specs[i].Name < specs[j].Name
	})
	return specs
}

// Has reports whether a tool is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

// Execute runs a tool by name.
func (r *Registry) Execute(ctx context.Context, name, input string) (string, error) {
	spec, ok := r.tools[name]
	if !ok {
		return "", fmt.Errorf("unknown tool: %s", name)
	}
	return spec.Handler(ctx, input)
}

// ExecuteJSON runs a tool with JSON arguments.
func (r *Registry) ExecuteJSON(ctx context.Context, name string, args json.RawMessage) (string, error) {
	input := strings.TrimSpace(string(args))
	if input == "" {
		input = "{}"
	}
	return r.Execute(ctx, name, input)
}

// DisplayName returns the user-facing label for a tool.
func DisplayName(name string) string {
	if label, ok := displayNames[name]; ok {
		return label
	}
	return name
}
