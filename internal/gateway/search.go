package gateway

import (
	"net/http"

	"github.com/cartmesh/cartmesh/internal/httpx"
)

// Search validates the cross-service search query and forwards it to the
// items service over the breaker-protected proxy path.
type Search struct {
	proxy *Proxy
}

// NewSearch creates the search handler.
func NewSearch(proxy *Proxy) *Search {
	return &Search{proxy: proxy}
}

func (s *Search) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("q") == "" {
		httpx.WriteError(w, http.StatusBadRequest, "missing query parameter q")
		return
	}
	s.proxy.Forward(w, r, "items", "/items/search")
}
