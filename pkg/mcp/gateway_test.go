package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	g := NewGateway(nil)
	g.MustRegister("echo", "returns its params",
		`{"type":"object","properties":{"msg":{"type":"string"}},"required":["msg"]}`,
		func(ctx context.Context, params map[string]any) (any, error) {
			return params["msg"], nil
		})
	g.MustRegister("boom", "always fails", "",
		func(ctx context.Context, params map[string]any) (any, error) {
			return nil, errors.New("upstream unavailable")
		})
	g.MustRegister("panics", "always panics", "",
		func(ctx context.Context, params map[string]any) (any, error) {
			panic("unexpected state")
		})
	return g
}

func call(t *testing.T, g *Gateway, body string) (*httptest.ResponseRecorder, CallResponse) {
	t.Helper()
	mux := http.NewServeMux()
	g.RegisterRoutes(mux)
	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	var resp CallResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return w, resp
}

func TestGatewaySuccess(t *testing.T) {
	w, resp := call(t, newTestGateway(t), `{"tool":"echo","params":{"msg":"hi"}}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)
	assert.Equal(t, "hi", resp.Result)
}

func TestGatewayUnknownTool(t *testing.T) {
	w, resp := call(t, newTestGateway(t), `{"tool":"nope"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "unknown tool")
}

func TestGatewaySchemaRejectsBadParams(t *testing.T) {
	w, resp := call(t, newTestGateway(t), `{"tool":"echo","params":{"msg":7}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "invalid params")

	w, _ = call(t, newTestGateway(t), `{"tool":"echo","params":{}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGatewayHandlerError(t *testing.T) {
	w, resp := call(t, newTestGateway(t), `{"tool":"boom"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, resp.Success)
	assert.Equal(t, "upstream unavailable", resp.Error)
	assert.Empty(t, resp.Traceback)
}

func TestGatewayPanicBecomesInternalError(t *testing.T) {
	w, resp := call(t, newTestGateway(t), `{"tool":"panics"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Traceback)
}

func TestGatewayBadBody(t *testing.T) {
	w, resp := call(t, newTestGateway(t), `{nope`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, resp.Success)
}

func TestGatewayHealth(t *testing.T) {
	g := newTestGateway(t)
	mux := http.NewServeMux()
	g.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	var body struct {
		Status string   `json:"status"`
		Tools  []string `json:"tools"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, []string{"boom", "echo", "panics"}, body.Tools)
}

func TestGatewayDuplicateRegistration(t *testing.T) {
	g := NewGateway(nil)
	require.NoError(t, g.Register("x", "", "", func(ctx context.Context, p map[string]any) (any, error) { return nil, nil }))
	assert.Error(t, g.Register("x", "", "", func(ctx context.Context, p map[string]any) (any, error) { return nil, nil }))
}
