package proxy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bunrunner/bunrunner/internal/permission"
)

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func getPath(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func grantHTTP(t *testing.T, store *permission.Store, host, pathPattern string, methods ...permission.Method) {
	t.Helper()
	err := store.Grant(permission.Capability{
		Type:        permission.KindHTTP,
		Host:        host,
		PathPattern: pathPattern,
		Methods:     methods,
		Description: "test grant",
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestProxyDeniesWithoutGrant(t *testing.T) {
	p := NewProxy(permission.NewStore())

	rec := postJSON(t, p, "/proxy", map[string]any{
		"url":    "https://httpbin.org/get",
		"method": "GET",
	})

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}

	var denial permission.Denial
	if err := json.Unmarshal(rec.Body.Bytes(), &denial); err != nil {
		t.Fatalf("parsing denial: %v", err)
	}
	if denial.Code != permission.DeniedCode {
		t.Errorf("code = %q, want %q", denial.Code, permission.DeniedCode)
	}
	req := denial.RequiredPermission
	if req.Type != permission.KindHTTP || req.Host != "httpbin.org" || req.PathPattern != "/get" {
		t.Errorf("requiredPermission = %+v", req)
	}
	if len(req.Methods) != 1 || req.Methods[0] != permission.MethodGet {
		t.Errorf("methods = %v, want [GET]", req.Methods)
	}
	if denial.RequestID == "" {
		t.Error("requestId is empty")
	}
	if denial.AttemptedAction.Type != "http_request" {
		t.Errorf("attemptedAction.type = %q", denial.AttemptedAction.Type)
	}
}

func TestProxyFreshRequestIDPerDenial(t *testing.T) {
	p := NewProxy(permission.NewStore())

	ids := map[string]bool{}
	for i := 0; i < 3; i++ {
		rec := postJSON(t, p, "/proxy", map[string]any{"url": "https://example.com/x", "method": "GET"})
		var denial permission.Denial
		if err := json.Unmarshal(rec.Body.Bytes(), &denial); err != nil {
			t.Fatal(err)
		}
		ids[denial.RequestID] = true
	}
	if len(ids) != 3 {
		t.Errorf("got %d distinct request ids across 3 denials, want 3", len(ids))
	}
}

func TestProxyForwardsWhenGranted(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("upstream method = %q, want POST", r.Method)
		}
		if got := r.Header.Get("X-Custom"); got != "yes" {
			t.Errorf("upstream X-Custom = %q", got)
		}
		body := new(bytes.Buffer)
		body.ReadFrom(r.Body)
		if body.String() != `{"k":1}` {
			t.Errorf("upstream body = %q", body.String())
		}
		w.Header().Set("X-Up", "1")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, "created")
	}))
	defer upstream.Close()

	store := permission.NewStore()
	host := strings.TrimPrefix(upstream.URL, "http://")
	hostname, _, _ := strings.Cut(host, ":")
	grantHTTP(t, store, hostname, "*", permission.MethodPost)

	p := NewProxy(store)
	rec := postJSON(t, p, "/proxy", map[string]any{
		"url":     upstream.URL + "/things",
		"method":  "post",
		"headers": map[string]string{"X-Custom": "yes"},
		"body":    `{"k":1}`,
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Status     int               `json:"status"`
		StatusText string            `json:"statusText"`
		Headers    map[string]string `json:"headers"`
		Body       string            `json:"body"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != http.StatusCreated || resp.StatusText != "Created" {
		t.Errorf("status = %d %q", resp.Status, resp.StatusText)
	}
	if resp.Body != "created" {
		t.Errorf("body = %q", resp.Body)
	}
	if resp.Headers["X-Up"] != "1" {
		t.Errorf("headers = %v", resp.Headers)
	}
}

func TestProxyUpstreamFailureIs502(t *testing.T) {
	store := permission.NewStore()
	grantHTTP(t, store, "127.0.0.1", "*")

	p := NewProxy(store)
	// Port 1 refuses connections.
	rec := postJSON(t, p, "/proxy", map[string]any{
		"url":    "http://127.0.0.1:1/unreachable",
		"method": "GET",
	})

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error == "" || resp.Message == "" {
		t.Errorf("502 payload missing error/message: %+v", resp)
	}
}

func TestProxyCoercesUnknownMethodToGet(t *testing.T) {
	p := NewProxy(permission.NewStore())

	rec := postJSON(t, p, "/proxy", map[string]any{"url": "https://example.com/", "method": "TRACE"})
	var denial permission.Denial
	if err := json.Unmarshal(rec.Body.Bytes(), &denial); err != nil {
		t.Fatal(err)
	}
	if len(denial.RequiredPermission.Methods) != 1 || denial.RequiredPermission.Methods[0] != permission.MethodGet {
		t.Errorf("methods = %v, want [GET]", denial.RequiredPermission.Methods)
	}
}

func TestProxyRejectsInvalidRequests(t *testing.T) {
	p := NewProxy(permission.NewStore())

	tests := []struct {
		name string
		body any
	}{
		{"no url", map[string]any{"method": "GET"}},
		{"unparseable url", map[string]any{"url": "http://"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(t, p, "/proxy", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestManagementRoutes(t *testing.T) {
	store := permission.NewStore()
	p := NewProxy(store)

	cap := map[string]any{
		"type":        "http",
		"host":        "api.example.com",
		"pathPattern": "/v1/*",
		"methods":     []string{"GET"},
		"description": "api reads",
	}

	if rec := postJSON(t, p, "/grant", cap); rec.Code != http.StatusOK {
		t.Fatalf("/grant status = %d: %s", rec.Code, rec.Body.String())
	}
	if got := len(store.List()); got != 1 {
		t.Fatalf("store has %d grants, want 1", got)
	}

	rec := getPath(t, p, "/permissions")
	if rec.Code != http.StatusOK {
		t.Fatalf("/permissions status = %d", rec.Code)
	}
	var listed struct {
		Permissions []permission.Capability `json:"permissions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatal(err)
	}
	if len(listed.Permissions) != 1 || listed.Permissions[0].Host != "api.example.com" {
		t.Errorf("permissions = %+v", listed.Permissions)
	}

	if rec := postJSON(t, p, "/revoke", cap); rec.Code != http.StatusOK {
		t.Fatalf("/revoke status = %d", rec.Code)
	}
	if got := len(store.List()); got != 0 {
		t.Errorf("store has %d grants after revoke, want 0", got)
	}

	postJSON(t, p, "/grant", cap)
	if rec := postJSON(t, p, "/clear", nil); rec.Code != http.StatusOK {
		t.Fatalf("/clear status = %d", rec.Code)
	}
	if got := len(store.List()); got != 0 {
		t.Errorf("store has %d grants after clear, want 0", got)
	}
}

func TestGrantRejectsInvalidCapability(t *testing.T) {
	store := permission.NewStore()
	p := NewProxy(store)

	rec := postJSON(t, p, "/grant", map[string]any{"type": "http"}) // no host, no description
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if len(store.List()) != 0 {
		t.Error("invalid grant mutated the store")
	}
}

func TestHealth(t *testing.T) {
	p := NewProxy(permission.NewStore())

	rec := getPath(t, p, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != `{"status":"ok"}` {
		t.Errorf("body = %q", got)
	}
}

func TestDecisionLogger(t *testing.T) {
	store := permission.NewStore()
	p := NewProxy(store)

	var decisions []DecisionData
	p.SetDecisionLogger(func(d DecisionData) { decisions = append(decisions, d) })

	postJSON(t, p, "/proxy", map[string]any{"url": "https://example.com/a", "method": "GET"})
	if len(decisions) != 1 || decisions[0].Allowed {
		t.Fatalf("decisions = %+v, want one denial", decisions)
	}
	if decisions[0].RequestID == "" {
		t.Error("denial decision has no request id")
	}
}
