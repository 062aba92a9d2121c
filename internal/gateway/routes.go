package gateway

import (
	"net/url"
	"sort"
	"strings"
)

// Route maps a gateway-facing path prefix onto a backend service and the
// prefix that service expects.
type Route struct {
	Prefix  string // gateway-facing, e.g. "/api/lists"
	Service string // registry name, e.g. "lists"
	Target  string // service-facing, e.g. "/lists"
}

// Rewrite translates the remainder after the gateway prefix into the backend
// path. An empty remainder resolves to the target prefix itself, so
// "/api/lists" forwards to "/lists".
func (r Route) Rewrite(remainder string) string {
	if remainder == "" {
		return r.Target
	}
	return r.Target + remainder
}

// RouteTable matches request paths against a static, ordered set of routes.
type RouteTable struct {
	routes []Route
}

// NewRouteTable builds a table from the given routes. Longer prefixes are
// matched first so overlapping entries resolve to the most specific route.
func NewRouteTable(routes []Route) *RouteTable {
	ordered := make([]Route, len(routes))
	copy(ordered, routes)
	sort.SliceStable(ordered, func(i, j int) bool {
		return len(ordered[i].Prefix) > len(ordered[j].Prefix)
	})
	return &RouteTable{routes: ordered}
}

// Match finds the route for a request path and returns the remainder after
// the matched prefix. A prefix matches only on a segment boundary: "/api/list"
// does not match the "/api/lists" route.
func (rt *RouteTable) Match(path string) (Route, string, bool) {
	for _, route := range rt.routes {
		if path == route.Prefix {
			return route, "", true
		}
		if strings.HasPrefix(path, route.Prefix+"/") {
			return route, path[len(route.Prefix):], true
		}
	}
	return Route{}, "", false
}

// Services returns the distinct backend service names in the table.
func (rt *RouteTable) Services() []string {
	seen := make(map[string]bool, len(rt.routes))
	var names []string
	for _, route := range rt.routes {
		if !seen[route.Service] {
			seen[route.Service] = true
			names = append(names, route.Service)
		}
	}
	sort.Strings(names)
	return names
}

// BuildBackendURL constructs the full backend URL for a forwarded request.
func BuildBackendURL(backendAddr, path, rawQuery string) string {
	u, err := url.Parse(backendAddr)
	if err != nil {
		return backendAddr + path
	}
	u.Path = path
	u.RawQuery = rawQuery
	return u.String()
}
