// Package mcp exposes the backplane's operations as named tools over a
// single HTTP endpoint, for agent runtimes speaking the MCP convention.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/kwonlabs/kwon-backplane/pkg/api"
)

// Handler executes one tool call with already-validated params.
type Handler func(ctx context.Context, params map[string]any) (any, error)

// Tool is one registered operation.
type Tool struct {
	Name        string
	Description string
	schema      *jsonschema.Schema
	handle      Handler
}

// CallRequest is the wire format of a tool call.
type CallRequest struct {
	Tool   string         `json:"tool"`
	Params map[string]any `json:"params,omitempty"`
}

// CallResponse is the wire format of a tool result.
type CallResponse struct {
	Success   bool   `json:"success"`
	Result    any    `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
	Traceback string `json:"traceback,omitempty"`
}

// Gateway routes tool calls to registered handlers, validating params
// against each tool's JSON schema first.
type Gateway struct {
	mu     sync.RWMutex
	tools  map[string]*Tool
	logger *slog.Logger
}

func NewGateway(logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{tools: make(map[string]*Tool), logger: logger}
}

// Register adds a tool. schemaJSON constrains the params object; an empty
// string accepts any params. Registering a duplicate name is an error.
func (g *Gateway) Register(name, description, schemaJSON string, h Handler) error {
	var schema *jsonschema.Schema
	if schemaJSON != "" {
		compiled, err := jsonschema.CompileString(name+".schema.json", schemaJSON)
		if err != nil {
			return fmt.Errorf("compile schema for %s: %w", name, err)
		}
		schema = compiled
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	g.tools[name] = &Tool{Name: name, Description: description, schema: schema, handle: h}
	return nil
}

// MustRegister is Register for static tool sets assembled at startup.
func (g *Gateway) MustRegister(name, description, schemaJSON string, h Handler) {
	if err := g.Register(name, description, schemaJSON, h); err != nil {
		panic(err)
	}
}

// ToolNames returns the sorted names of all registered tools.
func (g *Gateway) ToolNames() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := make([]string, 0, len(g.tools))
	for name := range g.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterRoutes mounts the gateway on mux.
func (g *Gateway) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/mcp", g.handleCall)
	mux.HandleFunc("/health", g.handleHealth)
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"tools":  g.ToolNames(),
	})
}

func (g *Gateway) handleCall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		api.WriteMethodNotAllowed(w)
		return
	}

	var req CallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, CallResponse{Success: false, Error: "invalid request body"})
		return
	}
	if req.Tool == "" {
		writeJSON(w, http.StatusBadRequest, CallResponse{Success: false, Error: "missing tool name"})
		return
	}

	g.mu.RLock()
	tool, ok := g.tools[req.Tool]
	g.mu.RUnlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, CallResponse{Success: false, Error: fmt.Sprintf("unknown tool %q", req.Tool)})
		return
	}

	params := req.Params
	if params == nil {
		params = map[string]any{}
	}
	if tool.schema != nil {
		if err := tool.schema.Validate(normalizeForSchema(params)); err != nil {
			writeJSON(w, http.StatusBadRequest, CallResponse{Success: false, Error: fmt.Sprintf("invalid params: %v", err)})
			return
		}
	}

	resp, status := g.invoke(r.Context(), tool, params)
	writeJSON(w, status, resp)
}

// invoke runs the handler, converting panics into 500 responses with a
// traceback and handler errors into success:false results.
func (g *Gateway) invoke(ctx context.Context, tool *Tool, params map[string]any) (resp CallResponse, status int) {
	defer func() {
		if rec := recover(); rec != nil {
			g.logger.Error("tool panicked", "tool", tool.Name, "panic", rec)
			resp = CallResponse{
				Success:   false,
				Error:     fmt.Sprintf("internal error in %s: %v", tool.Name, rec),
				Traceback: string(debug.Stack()),
			}
			status = http.StatusInternalServerError
		}
	}()

	result, err := tool.handle(ctx, params)
	if err != nil {
		g.logger.Warn("tool call failed", "tool", tool.Name, "err", err)
		return CallResponse{Success: false, Error: err.Error()}, http.StatusOK
	}
	return CallResponse{Success: true, Result: result}, http.StatusOK
}

// normalizeForSchema round-trips params through JSON so the validator sees
// plain types regardless of how the map was built.
func normalizeForSchema(params map[string]any) any {
	raw, err := json.Marshal(params)
	if err != nil {
		return params
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return params
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
