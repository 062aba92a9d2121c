package items

import (
	"errors"
	"net/http"

	"github.com/cartmesh/cartmesh/internal/auth"
	"github.com/cartmesh/cartmesh/internal/httpx"
	"github.com/cartmesh/cartmesh/internal/messaging"
	"github.com/cartmesh/cartmesh/internal/store"
)

// Handler assembles the service's HTTP surface.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /items", s.handleList)
	mux.HandleFunc("POST /items", s.handleCreate)
	mux.HandleFunc("GET /items/search", s.handleSearch)
	mux.HandleFunc("GET /items/stats", s.handleStats)
	mux.HandleFunc("GET /items/{id}", s.handleGet)
	mux.HandleFunc("PUT /items/{id}", s.handleUpdate)
	mux.HandleFunc("DELETE /items/{id}", s.handleDelete)
	return mux
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Service) handleList(w http.ResponseWriter, r *http.Request) {
	items, err := s.List()
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, items)
}

func (s *Service) handleCreate(w http.ResponseWriter, r *http.Request) {
	if !s.authenticate(w, r) {
		return
	}

	var in ItemInput
	if err := httpx.Decode(r, &in); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	it, err := s.Create(in)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, it)
	s.announce(messaging.KeyItemCreated, it)
}

func (s *Service) handleGet(w http.ResponseWriter, r *http.Request) {
	it, err := s.Get(r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, it)
}

func (s *Service) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if !s.authenticate(w, r) {
		return
	}

	var in ItemInput
	if err := httpx.Decode(r, &in); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	it, err := s.Update(r.PathValue("id"), in)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, it)
	s.announce(messaging.KeyItemUpdated, it)
}

func (s *Service) handleDelete(w http.ResponseWriter, r *http.Request) {
	if !s.authenticate(w, r) {
		return
	}

	if err := s.Delete(r.PathValue("id")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		httpx.WriteError(w, http.StatusBadRequest, "missing query parameter q")
		return
	}

	items, err := s.Search(query)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, items)
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Stats()
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, stats)
}

// authenticate requires a valid bearer token for catalog mutations. The
// catalog is shared, so any authenticated account may edit it.
func (s *Service) authenticate(w http.ResponseWriter, r *http.Request) bool {
	tok, ok := auth.BearerToken(r)
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "missing bearer token")
		return false
	}
	if _, err := s.tokens.Verify(tok); err != nil {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid token")
		return false
	}
	return true
}

func (s *Service) writeServiceError(w http.ResponseWriter, err error) {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		httpx.WriteError(w, http.StatusBadRequest, ve.Error())
	case errors.Is(err, store.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "item not found")
	default:
		s.logger.Error("request failed", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
