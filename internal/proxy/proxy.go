// Package proxy implements the permission-gated egress broker. Sandboxed
// code describes the request it wants (url, method, headers, body) in a
// POST to /proxy; the broker checks the permission store and either
// performs the request on the caller's behalf or returns a structured
// denial. Management routes expose the store to local tooling.
package proxy

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bunrunner/bunrunner/internal/permission"
)

// DefaultUpstreamTimeout bounds a single forwarded request.
const DefaultUpstreamTimeout = 30 * time.Second

// DecisionData describes one /proxy request and its outcome.
type DecisionData struct {
	Method     string
	URL        string
	Allowed    bool
	StatusCode int    // upstream status when forwarded
	RequestID  string // denial record id when denied
	Duration   time.Duration
	Err        error
}

// DecisionLogger is called for each /proxy decision.
type DecisionLogger func(data DecisionData)

// proxyRequest is the body of POST /proxy: a described outbound request.
type proxyRequest struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// proxyResponse wraps the upstream response for the sandbox to rebuild.
type proxyResponse struct {
	Status     int               `json:"status"`
	StatusText string            `json:"statusText"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
}

// errorResponse reports a proxy-side failure. The sandbox surfaces it
// as a failed fetch, never as a crash.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// Proxy is the permission-checking request broker.
type Proxy struct {
	store  *permission.Store
	mux    *http.ServeMux
	client *http.Client

	mu     sync.RWMutex
	logger DecisionLogger
}

// NewProxy creates a proxy backed by the given permission store.
func NewProxy(store *permission.Store) *Proxy {
	p := &Proxy{
		store:  store,
		client: &http.Client{Timeout: DefaultUpstreamTimeout},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/proxy", p.handleProxy)
	mux.HandleFunc("/grant", p.handleGrant)
	mux.HandleFunc("/revoke", p.handleRevoke)
	mux.HandleFunc("/permissions", p.handlePermissions)
	mux.HandleFunc("/clear", p.handleClear)
	mux.HandleFunc("/health", p.handleHealth)
	p.mux = mux
	return p
}

// SetDecisionLogger sets the decision logger.
func (p *Proxy) SetDecisionLogger(logger DecisionLogger) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logger = logger
}

// SetClient replaces the upstream HTTP client.
func (p *Proxy) SetClient(client *http.Client) {
	p.client = client
}

// Store returns the underlying permission store.
func (p *Proxy) Store() *permission.Store {
	return p.store
}

// ServeHTTP dispatches to the route handlers.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mux.ServeHTTP(w, r)
}

func (p *Proxy) logDecision(data DecisionData) {
	p.mu.RLock()
	logger := p.logger
	p.mu.RUnlock()
	if logger != nil {
		logger(data)
	}
}

// handleProxy classifies the described request against the store and
// forwards it when allowed.
func (p *Proxy) handleProxy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}

	var req proxyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body", Message: err.Error()})
		return
	}

	target, err := url.Parse(req.URL)
	if err != nil || target.Hostname() == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid url", Message: req.URL})
		return
	}

	method := coerceMethod(req.Method)
	required := permission.Capability{
		Type:        permission.KindHTTP,
		Host:        target.Hostname(),
		PathPattern: target.Path,
		Methods:     []permission.Method{method},
	}

	if !p.store.Check(required) {
		denial := permission.NewDenial(required, "http_request", map[string]any{
			"url":    req.URL,
			"method": string(method),
		})
		p.logDecision(DecisionData{Method: string(method), URL: req.URL, Allowed: false, RequestID: denial.RequestID})
		writeJSON(w, http.StatusForbidden, denial)
		return
	}

	start := time.Now()
	resp, err := p.forward(r, string(method), req)
	duration := time.Since(start)
	if err != nil {
		p.logDecision(DecisionData{Method: string(method), URL: req.URL, Allowed: true, Duration: duration, Err: err})
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "upstream request failed", Message: err.Error()})
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		p.logDecision(DecisionData{Method: string(method), URL: req.URL, Allowed: true, Duration: duration, Err: err})
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "reading upstream response failed", Message: err.Error()})
		return
	}

	p.logDecision(DecisionData{Method: string(method), URL: req.URL, Allowed: true, StatusCode: resp.StatusCode, Duration: duration})
	writeJSON(w, http.StatusOK, proxyResponse{
		Status:     resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
		Headers:    flattenHeaders(resp.Header),
		Body:       string(body),
	})
}

// forward performs the described request upstream.
func (p *Proxy) forward(r *http.Request, method string, req proxyRequest) (*http.Response, error) {
	var body io.Reader
	if req.Body != "" {
		body = strings.NewReader(req.Body)
	}
	out, err := http.NewRequestWithContext(r.Context(), method, req.URL, body)
	if err != nil {
		return nil, err
	}
	for name, value := range req.Headers {
		out.Header.Set(name, value)
	}
	return p.client.Do(out)
}

func (p *Proxy) handleGrant(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "reading request body", Message: err.Error()})
		return
	}
	c, err := permission.ParseJSON(data)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := p.store.Grant(c); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (p *Proxy) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "reading request body", Message: err.Error()})
		return
	}
	c, err := permission.ParseJSON(data)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	removed := p.store.Revoke(c)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "removed": removed})
}

func (p *Proxy) handlePermissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": p.store.List()})
}

func (p *Proxy) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}
	removed := p.store.Clear()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "removed": removed})
}

func (p *Proxy) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// coerceMethod uppercases the method and folds anything unknown to GET.
func coerceMethod(m string) permission.Method {
	switch permission.Method(strings.ToUpper(m)) {
	case permission.MethodGet:
		return permission.MethodGet
	case permission.MethodPost:
		return permission.MethodPost
	case permission.MethodPut:
		return permission.MethodPut
	case permission.MethodDelete:
		return permission.MethodDelete
	case permission.MethodPatch:
		return permission.MethodPatch
	default:
		return permission.MethodGet
	}
}

// flattenHeaders joins multi-valued headers with commas for the
// sandbox's header map.
func flattenHeaders(headers http.Header) map[string]string {
	result := make(map[string]string, len(headers))
	for key, values := range headers {
		result[key] = strings.Join(values, ", ")
	}
	return result
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
