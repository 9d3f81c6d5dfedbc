package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rosterhq/roster/pkg/activation"
	"github.com/rosterhq/roster/pkg/definition"
	"github.com/rosterhq/roster/pkg/recovery"
	"github.com/rosterhq/roster/pkg/registry"
	"github.com/rosterhq/roster/pkg/resolver"
	"github.com/rosterhq/roster/pkg/resources"
)

func writePersona(t *testing.T, dir, id, name string, extra ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))

	content := fmt.Sprintf("---\nid: %s\nname: %s\ndescription: Test persona.\n", id, name)
	for _, line := range extra {
		content += line + "\n"
	}
	content += "---\nBody.\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, id+".md"), []byte(content), 0o644))
}

func newTestServer(t *testing.T, root string, mgrOpts ...activation.Option) *Server {
	t.Helper()

	store, err := definition.NewStore(definition.WithRoots(root), definition.WithBuiltin(false))
	require.NoError(t, err)
	reg, err := registry.New(store)
	require.NoError(t, err)
	require.NoError(t, reg.Initialize(context.Background()))

	resStore, err := resources.NewStore(resources.WithRoots(root))
	require.NoError(t, err)

	mgrOpts = append([]activation.Option{
		activation.WithRecoveryHandler(recovery.NewHandler(recovery.WithDelay(time.Millisecond))),
	}, mgrOpts...)
	mgr, err := activation.NewManager(reg, resources.NewLoader(resStore), mgrOpts...)
	require.NoError(t, err)

	srv, err := New(&Config{Host: "localhost", Port: 8080}, reg, resolver.New(resStore), mgr)
	require.NoError(t, err)
	return srv
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name:   "valid config",
			config: Config{Host: "localhost", Port: 8080},
		},
		{
			name:    "empty host",
			config:  Config{Host: "", Port: 8080},
			wantErr: "host cannot be empty",
		},
		{
			name:    "port too low",
			config:  Config{Host: "localhost", Port: 0},
			wantErr: "port must be between 1 and 65535",
		},
		{
			name:    "port too high",
			config:  Config{Host: "localhost", Port: 70000},
			wantErr: "port must be between 1 and 65535",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	root := t.TempDir()
	writePersona(t, filepath.Join(root, "agents"), "pm", "John")
	srv := newTestServer(t, root)

	_, err := New(&Config{Host: "", Port: 8080}, srv.registry, srv.resolver, srv.manager)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid server configuration")

	_, err = New(&Config{Host: "localhost", Port: 8080}, nil, srv.resolver, srv.manager)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registry is required")

	_, err = New(&Config{Host: "localhost", Port: 8080}, srv.registry, nil, srv.manager)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resolver is required")

	_, err = New(&Config{Host: "localhost", Port: 8080}, srv.registry, srv.resolver, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "activation manager is required")
}

func TestHandleListAgents(t *testing.T) {
	root := t.TempDir()
	agents := filepath.Join(root, "agents")
	writePersona(t, agents, "dev", "James")
	writePersona(t, agents, "architect", "Winston", "role: architect")
	writePersona(t, filepath.Join(root, "packs", "lore", "agents"), "archivist", "The Archivist")
	srv := newTestServer(t, root)

	tests := []struct {
		name    string
		query   string
		wantIDs []string
	}{
		{name: "all agents", query: "", wantIDs: []string{"architect", "archivist", "dev"}},
		{name: "core only", query: "?source=core", wantIDs: []string{"architect", "dev"}},
		{name: "packs only", query: "?source=pack", wantIDs: []string{"archivist"}},
		{name: "by pack name", query: "?pack=lore", wantIDs: []string{"archivist"}},
		{name: "unknown pack", query: "?pack=nope", wantIDs: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/agents"+tt.query, nil)
			w := httptest.NewRecorder()

			srv.handleListAgents(w, req)

			require.Equal(t, http.StatusOK, w.Code)
			var response WebAgentListResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
			assert.Equal(t, len(tt.wantIDs), response.Total)

			ids := make([]string, 0, len(response.Agents))
			for _, a := range response.Agents {
				ids = append(ids, a.ID)
			}
			assert.ElementsMatch(t, tt.wantIDs, ids)
		})
	}
}

func TestHandleGetAgent(t *testing.T) {
	root := t.TempDir()
	writePersona(t, filepath.Join(root, "agents"), "dev", "James",
		"depends_on:", "  - architect",
		"dependencies:", "  steering:", "    - go-style")
	srv := newTestServer(t, root)

	req := httptest.NewRequest("GET", "/api/agents/dev", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "dev"})
	w := httptest.NewRecorder()

	srv.handleGetAgent(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var detail WebAgentDetail
	require.NoError(t, json.NewDecoder(w.Body).Decode(&detail))
	assert.Equal(t, "dev", detail.ID)
	assert.Equal(t, "James", detail.Name)
	assert.Equal(t, "core", detail.Source)
	assert.True(t, detail.Valid)
	assert.Equal(t, []string{"architect"}, detail.DependsOn)
	assert.Equal(t, map[string][]string{"steering": {"go-style"}}, detail.DeclaredResources)
	assert.False(t, detail.Active)
	assert.True(t, strings.HasSuffix(detail.Path, "dev.md"))
}

func TestHandleGetAgentActiveFlag(t *testing.T) {
	root := t.TempDir()
	writePersona(t, filepath.Join(root, "agents"), "dev", "James")
	srv := newTestServer(t, root)
	srv.manager.Activate(context.Background(), "dev", nil)

	req := httptest.NewRequest("GET", "/api/agents/dev", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "dev"})
	w := httptest.NewRecorder()

	srv.handleGetAgent(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var detail WebAgentDetail
	require.NoError(t, json.NewDecoder(w.Body).Decode(&detail))
	assert.True(t, detail.Active)
}

func TestHandleGetAgentNotFound(t *testing.T) {
	root := t.TempDir()
	writePersona(t, filepath.Join(root, "agents"), "pm", "John")
	srv := newTestServer(t, root)

	req := httptest.NewRequest("GET", "/api/agents/ghost", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "ghost"})
	w := httptest.NewRecorder()

	srv.handleGetAgent(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
	var response map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "agent not found", response["error"])
	assert.Equal(t, false, response["success"])
}

func TestHandleGetResolution(t *testing.T) {
	root := t.TempDir()
	writePersona(t, filepath.Join(root, "agents"), "dev", "James",
		"dependencies:", "  steering:", "    - go-style", "    - missing-doc")
	steering := filepath.Join(root, "steering")
	require.NoError(t, os.MkdirAll(steering, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(steering, "go-style.md"), []byte("Style.\n"), 0o644))
	srv := newTestServer(t, root)

	req := httptest.NewRequest("GET", "/api/agents/dev/resolution", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "dev"})
	w := httptest.NewRecorder()

	srv.handleGetResolution(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resolution resolver.Resolution
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resolution))
	assert.Equal(t, "dev", resolution.AgentID)
	assert.False(t, resolution.Complete)
	assert.Equal(t, []string{"go-style"}, resolution.Resolved["steering"])
	assert.Equal(t, []string{"missing-doc"}, resolution.Missing["steering"])
}

func TestHandleActivate(t *testing.T) {
	root := t.TempDir()
	writePersona(t, filepath.Join(root, "agents"), "dev", "James")
	srv := newTestServer(t, root)

	body := strings.NewReader(`{"context": {"task": "review"}}`)
	req := httptest.NewRequest("POST", "/api/agents/dev/activate", body)
	req = mux.SetURLVars(req, map[string]string{"id": "dev"})
	w := httptest.NewRecorder()

	srv.handleActivate(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var result activation.Result
	require.NoError(t, json.NewDecoder(w.Body).Decode(&result))
	require.NotNil(t, result.Instance)
	assert.True(t, result.Activated)
	assert.Equal(t, "dev", result.Instance.AgentID)
	assert.Equal(t, "review", result.Instance.Context["task"])

	_, active := srv.manager.Get("dev")
	assert.True(t, active)
}

func TestHandleActivateEmptyBody(t *testing.T) {
	root := t.TempDir()
	writePersona(t, filepath.Join(root, "agents"), "dev", "James")
	srv := newTestServer(t, root)

	req := httptest.NewRequest("POST", "/api/agents/dev/activate", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "dev"})
	w := httptest.NewRecorder()

	srv.handleActivate(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var result activation.Result
	require.NoError(t, json.NewDecoder(w.Body).Decode(&result))
	require.NotNil(t, result.Instance)
	assert.True(t, result.Activated)
}

func TestHandleActivateMalformedBody(t *testing.T) {
	root := t.TempDir()
	writePersona(t, filepath.Join(root, "agents"), "dev", "James")
	srv := newTestServer(t, root)

	req := httptest.NewRequest("POST", "/api/agents/dev/activate", strings.NewReader("{not json"))
	req = mux.SetURLVars(req, map[string]string{"id": "dev"})
	w := httptest.NewRecorder()

	srv.handleActivate(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	var response map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "invalid activation request body", response["error"])
}

func TestHandleActivateUnknownAgentDegrades(t *testing.T) {
	root := t.TempDir()
	writePersona(t, filepath.Join(root, "agents"), "pm", "John")
	srv := newTestServer(t, root)

	req := httptest.NewRequest("POST", "/api/agents/ghost/activate", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "ghost"})
	w := httptest.NewRecorder()

	srv.handleActivate(w, req)

	// Unknown agents activate as degraded fallbacks rather than failing.
	require.Equal(t, http.StatusOK, w.Code)
	var result activation.Result
	require.NoError(t, json.NewDecoder(w.Body).Decode(&result))
	require.NotNil(t, result.Instance)
	assert.True(t, result.Instance.Degraded)
	require.NotNil(t, result.Report)
	assert.Equal(t, recovery.CategoryAgentNotFound, result.Report.Category)
}

func TestHandleActivateCeilingRefused(t *testing.T) {
	root := t.TempDir()
	agents := filepath.Join(root, "agents")
	writePersona(t, agents, "dev", "James")
	writePersona(t, agents, "qa", "Quinn")
	srv := newTestServer(t, root, activation.WithMaxActive(1))
	srv.manager.Activate(context.Background(), "dev", nil)

	req := httptest.NewRequest("POST", "/api/agents/qa/activate", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "qa"})
	w := httptest.NewRecorder()

	srv.handleActivate(w, req)

	require.Equal(t, http.StatusTooManyRequests, w.Code)
	var result activation.Result
	require.NoError(t, json.NewDecoder(w.Body).Decode(&result))
	assert.Nil(t, result.Instance)
	require.NotNil(t, result.Report)
	assert.Equal(t, recovery.CategoryResourceExhausted, result.Report.Category)
	assert.False(t, result.Report.Recovered)
}

func TestHandleDeactivate(t *testing.T) {
	root := t.TempDir()
	writePersona(t, filepath.Join(root, "agents"), "dev", "James")
	srv := newTestServer(t, root)
	srv.manager.Activate(context.Background(), "dev", nil)

	req := httptest.NewRequest("POST", "/api/agents/dev/deactivate", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "dev"})
	w := httptest.NewRecorder()

	srv.handleDeactivate(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var response DeactivateResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "dev", response.AgentID)
	assert.True(t, response.Deactivated)

	// Second call finds nothing to deactivate.
	w = httptest.NewRecorder()
	srv.handleDeactivate(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.False(t, response.Deactivated)
}

func TestHandleTouch(t *testing.T) {
	root := t.TempDir()
	writePersona(t, filepath.Join(root, "agents"), "dev", "James")
	srv := newTestServer(t, root)
	srv.manager.Activate(context.Background(), "dev", nil)

	req := httptest.NewRequest("POST", "/api/agents/dev/touch", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "dev"})
	w := httptest.NewRecorder()

	srv.handleTouch(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var response TouchResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.True(t, response.Touched)

	req = httptest.NewRequest("POST", "/api/agents/ghost/touch", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "ghost"})
	w = httptest.NewRecorder()

	srv.handleTouch(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.False(t, response.Touched)
}

func TestHandleGetGraph(t *testing.T) {
	root := t.TempDir()
	agents := filepath.Join(root, "agents")
	writePersona(t, agents, "dev", "James",
		"dependencies:", "  steering:", "    - go-style")
	writePersona(t, agents, "qa", "Quinn",
		"depends_on:", "  - ghost",
		"dependencies:", "  steering:", "    - go-style")
	srv := newTestServer(t, root)

	req := httptest.NewRequest("GET", "/api/graph", nil)
	w := httptest.NewRecorder()

	srv.handleGetGraph(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var graph resolver.Graph
	require.NoError(t, json.NewDecoder(w.Body).Decode(&graph))
	assert.Equal(t, []string{"dev", "qa"}, graph.Dependencies["steering/go-style"])
	assert.Equal(t, []string{"steering/go-style"}, graph.Dependents["dev"])
	assert.Equal(t, []string{"dev", "qa"}, graph.Shared["steering/go-style"])
	assert.Equal(t, []string{"ghost"}, graph.MissingAgents["qa"])
	assert.Empty(t, graph.Cycles)
	assert.Equal(t, 2, graph.Stats.Agents)
	assert.Equal(t, 1, graph.Stats.SharedDependencies)
}

func TestHandleGetLoadOrder(t *testing.T) {
	root := t.TempDir()
	agents := filepath.Join(root, "agents")
	writePersona(t, agents, "architect", "Winston", "priority: high")
	writePersona(t, agents, "dev", "James",
		"dependencies:", "  steering:", "    - go-style")
	writePersona(t, agents, "qa", "Quinn",
		"dependencies:", "  steering:", "    - go-style")
	srv := newTestServer(t, root)

	req := httptest.NewRequest("GET", "/api/load-order", nil)
	w := httptest.NewRecorder()

	srv.handleGetLoadOrder(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var response WebLoadOrderResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	require.Len(t, response.Batches, 2)
	assert.Equal(t, []string{"architect"}, response.Batches[0].Agents)
	assert.True(t, response.Batches[0].HighPriority)
	assert.Equal(t, []string{"dev", "qa"}, response.Batches[1].Agents)
	assert.Equal(t, []string{"steering/go-style"}, response.Batches[1].Shared)
}

func TestHandleListSessions(t *testing.T) {
	root := t.TempDir()
	agents := filepath.Join(root, "agents")
	writePersona(t, agents, "dev", "James")
	writePersona(t, agents, "qa", "Quinn")
	srv := newTestServer(t, root)
	srv.manager.Activate(context.Background(), "dev", nil)
	srv.manager.Activate(context.Background(), "qa", nil)

	req := httptest.NewRequest("GET", "/api/sessions", nil)
	w := httptest.NewRecorder()

	srv.handleListSessions(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var response WebSessionsResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, 2, response.Total)
	require.Len(t, response.Sessions, 2)
	assert.Equal(t, "dev", response.Sessions[0].AgentID)
	assert.Equal(t, "qa", response.Sessions[1].AgentID)
}

func TestHandleGetStats(t *testing.T) {
	root := t.TempDir()
	agents := filepath.Join(root, "agents")
	writePersona(t, agents, "dev", "James")
	writePersona(t, agents, "qa", "Quinn")
	srv := newTestServer(t, root)
	srv.manager.Activate(context.Background(), "dev", nil)

	req := httptest.NewRequest("GET", "/api/stats", nil)
	w := httptest.NewRecorder()

	srv.handleGetStats(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var response WebStatsResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, 2, response.Registry.TotalRegistered)
	assert.Equal(t, 2, response.Registry.Valid)
	assert.Equal(t, 1, response.Sessions.Active)
	assert.Equal(t, []string{"dev"}, response.Sessions.ActiveIDs)
}

func TestRoutesAreRegistered(t *testing.T) {
	root := t.TempDir()
	writePersona(t, filepath.Join(root, "agents"), "dev", "James")
	srv := newTestServer(t, root)

	tests := []struct {
		method string
		path   string
	}{
		{"GET", "/api/agents"},
		{"GET", "/api/agents/dev"},
		{"GET", "/api/agents/dev/resolution"},
		{"POST", "/api/agents/dev/activate"},
		{"POST", "/api/agents/dev/deactivate"},
		{"POST", "/api/agents/dev/touch"},
		{"GET", "/api/graph"},
		{"GET", "/api/load-order"},
		{"GET", "/api/sessions"},
		{"DELETE", "/api/sessions/dev"},
		{"GET", "/api/stats"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			w := httptest.NewRecorder()

			srv.router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusOK, w.Code)
			assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
			assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	root := t.TempDir()
	writePersona(t, filepath.Join(root, "agents"), "pm", "John")
	srv := newTestServer(t, root)

	req := httptest.NewRequest("OPTIONS", "/api/agents", nil)
	w := httptest.NewRecorder()

	srv.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "GET, POST, DELETE, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
}

func TestRequestIDPropagation(t *testing.T) {
	root := t.TempDir()
	writePersona(t, filepath.Join(root, "agents"), "pm", "John")
	srv := newTestServer(t, root)

	req := httptest.NewRequest("GET", "/api/agents", nil)
	req.Header.Set("X-Request-ID", "req-123")
	w := httptest.NewRecorder()

	srv.router.ServeHTTP(w, req)

	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))
}
