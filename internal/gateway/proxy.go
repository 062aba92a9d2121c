package gateway

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cartmesh/cartmesh/internal/breaker"
	"github.com/cartmesh/cartmesh/internal/httpx"
	"github.com/cartmesh/cartmesh/internal/registry"
)

// Proxy forwards gateway requests to backend services resolved through the
// registry, guarded by per-service circuit breakers. Each request gets
// exactly one upstream attempt; failures are isolated by the breaker rather
// than retried.
type Proxy struct {
	routes    *RouteTable
	registry  *registry.Registry
	breakers  *breaker.Group
	forward   ForwardConfig
	metrics   *Metrics
	logger    *slog.Logger
	transport http.RoundTripper
}

// NewProxy creates a reverse proxy over the given registry and breaker group.
// The breaker group's open hook is wired here so trips are logged and counted.
func NewProxy(routes *RouteTable, reg *registry.Registry, breakers *breaker.Group, forward ForwardConfig, metrics *Metrics, logger *slog.Logger) *Proxy {
	breakers.OnOpen = func(service string) {
		logger.Warn("circuit opened", "service", service, "cooldown", forward.Cooldown)
		metrics.BreakerOpened(service)
	}
	return &Proxy{
		routes:    routes,
		registry:  reg,
		breakers:  breakers,
		forward:   forward,
		metrics:   metrics,
		logger:    logger,
		transport: http.DefaultTransport,
	}
}

// Proxy outcomes reported to metrics.
const (
	outcomeSuccess       = "success"
	outcomeUpstreamError = "upstream_error"
	outcomeUnreachable   = "unreachable"
	outcomeCircuitOpen   = "circuit_open"
	outcomeUnresolved    = "unresolved"
)

// maxRequestBody caps incoming client request bodies (10MB).
const maxRequestBody = 10 << 20

// maxResponseBody caps buffered upstream response bodies (10MB).
const maxResponseBody = 10 << 20

// ServeHTTP resolves the route for the request path and forwards it.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	route, remainder, ok := p.routes.Match(r.URL.Path)
	if !ok {
		httpx.WriteError(w, http.StatusNotFound, "no route for path "+r.URL.Path)
		return
	}
	p.Forward(w, r, route.Service, route.Rewrite(remainder))
}

// Forward sends the request to the named service at the given backend path.
// Upstream responses, including 4xx and 5xx, are relayed verbatim; only
// connectivity failures, open circuits, and unknown services are translated
// into gateway 503s so callers can tell an unavailable dependency from a
// backend-reported error.
func (p *Proxy) Forward(w http.ResponseWriter, r *http.Request, service, targetPath string) {
	start := time.Now()

	if p.breakers.IsOpen(service) {
		p.logger.Warn("request rejected, circuit open", "service", service, "path", r.URL.Path)
		p.metrics.ObserveProxy(service, outcomeCircuitOpen, time.Since(start))
		httpx.WriteError(w, http.StatusServiceUnavailable,
			fmt.Sprintf("service %q is temporarily unavailable: circuit open", service))
		return
	}

	desc, err := p.registry.Discover(service)
	if err != nil {
		p.logger.Warn("request rejected, service not registered", "service", service, "path", r.URL.Path)
		p.metrics.ObserveProxy(service, outcomeUnresolved, time.Since(start))
		httpx.WriteError(w, http.StatusServiceUnavailable,
			fmt.Sprintf("service %q is not registered", service))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	br, err := p.exchange(r, desc.Address, targetPath)
	if err != nil {
		p.breakers.RecordFailure(service)
		p.logger.Warn("upstream request failed", "service", service, "address", desc.Address, "error", err)
		p.metrics.ObserveProxy(service, outcomeUnreachable, time.Since(start))
		httpx.WriteError(w, http.StatusServiceUnavailable,
			fmt.Sprintf("service %q is unreachable", service))
		return
	}

	outcome := outcomeSuccess
	if br.statusCode >= 500 {
		p.breakers.RecordFailure(service)
		p.logger.Warn("upstream reported server error", "service", service, "status", br.statusCode)
		outcome = outcomeUpstreamError
	} else {
		p.breakers.ResetOnSuccess(service)
	}
	p.metrics.ObserveProxy(service, outcome, time.Since(start))

	br.writeTo(w)
}

// bufferedResponse holds a captured upstream response so the proxy can
// inspect the status code before committing bytes to the client.
type bufferedResponse struct {
	statusCode int
	header     http.Header
	body       []byte
}

// writeTo flushes the buffered response to the client, dropping hop-by-hop
// headers that only applied to the gateway's own upstream connection.
func (br *bufferedResponse) writeTo(w http.ResponseWriter) {
	for k, vv := range br.header {
		if isHopHeader(k) {
			continue
		}
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(br.statusCode)
	w.Write(br.body)
}

// exchange performs the single upstream round trip within the forward
// timeout and buffers the response.
func (p *Proxy) exchange(r *http.Request, backendAddr, targetPath string) (*bufferedResponse, error) {
	ctx, cancel := context.WithTimeout(r.Context(), p.forward.Timeout)
	defer cancel()

	var body io.Reader
	if methodHasBody(r.Method) {
		body = r.Body
	}

	backendURL := BuildBackendURL(backendAddr, targetPath, r.URL.RawQuery)
	outReq, err := http.NewRequestWithContext(ctx, r.Method, backendURL, body)
	if err != nil {
		return nil, err
	}
	copyForwardHeaders(outReq.Header, r.Header)

	resp, err := p.transport.RoundTrip(outReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, err
	}

	return &bufferedResponse{
		statusCode: resp.StatusCode,
		header:     resp.Header.Clone(),
		body:       respBody,
	}, nil
}

// methodHasBody reports whether the request body is forwarded upstream.
func methodHasBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// hopHeaders are connection-scoped and never forwarded. Host and
// Content-Length are handled by the outbound request itself.
var hopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

func isHopHeader(name string) bool {
	return hopHeaders[http.CanonicalHeaderKey(name)]
}

func copyForwardHeaders(dst, src http.Header) {
	for k, vv := range src {
		if isHopHeader(k) || http.CanonicalHeaderKey(k) == "Content-Length" {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
