// Package cmd test utilities.
//
// Commands are tested against a mock proxy server. The proxy multiplexes all
// upstream calls through one URL with an ?endpoint= query parameter, so the
// route handler keys on HTTP method plus endpoint instead of path:
//
//	handler := newRouteHandler().
//	    On("GET", "conversations", jsonResponse(200, `{"success": true, "data": []}`))
//	setupTestEnvWithHandler(t, handler)
//
// setupTestEnvWithHandler points CHATHOOK_BASE_URL at the mock server and
// fills in the token and account id; captureStdout/captureStderr collect
// command output.
package cmd

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
)

// captureStdout executes a function and captures its stdout output.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	fn()

	_ = w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	return buf.String()
}

// captureStderr executes a function and captures its stderr output.
func captureStderr(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stderr
	r, w, _ := os.Pipe()
	os.Stderr = w

	fn()

	_ = w.Close()
	os.Stderr = old

	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	return buf.String()
}

// routeHandler routes mock proxy requests by method and endpoint parameter.
type routeHandler struct {
	routes map[string]http.HandlerFunc
}

func newRouteHandler() *routeHandler {
	return &routeHandler{routes: make(map[string]http.HandlerFunc)}
}

// On registers a handler for the given HTTP method and endpoint value.
func (h *routeHandler) On(method, endpoint string, handler http.HandlerFunc) *routeHandler {
	h.routes[method+" "+endpoint] = handler
	return h
}

func (h *routeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := r.Method + " " + r.URL.Query().Get("endpoint")
	if handler, ok := h.routes[key]; ok {
		handler(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte(`{"success": false, "error": "no route for ` + key + `"}`))
}

// setupTestEnv creates a mock server with a single handler for all requests.
func setupTestEnv(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	return setupTestEnvWithHandler(t, handler)
}

// setupTestEnvWithHandler creates a mock proxy and points the CLI at it via
// environment credentials. Cleanup restores everything.
func setupTestEnvWithHandler(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	t.Setenv("CHATHOOK_BASE_URL", server.URL)
	t.Setenv("CHATHOOK_PROXY_TOKEN", "test-token")
	t.Setenv("CHATHOOK_ACCOUNT_ID", "1")
	t.Setenv("CHATHOOK_OUTPUT", "text")
	t.Setenv("CHATHOOK_NO_CACHE", "1")
	t.Setenv("CHATHOOK_REDIS_ADDR", "127.0.0.1:1") // never reachable; cache degrades to miss

	return server
}

// jsonResponse creates an http.HandlerFunc returning the given status and body.
// Bodies should carry the proxy envelope, e.g. `{"success": true, "data": [...]}`.
func jsonResponse(statusCode int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		_, _ = w.Write([]byte(body))
	}
}
