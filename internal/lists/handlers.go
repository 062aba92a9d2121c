package lists

import (
	"errors"
	"net/http"

	"github.com/cartmesh/cartmesh/internal/auth"
	"github.com/cartmesh/cartmesh/internal/httpx"
	"github.com/cartmesh/cartmesh/internal/store"
)

// Handler assembles the service's HTTP surface. Everything except /health
// and /lists/stats is owner-scoped through the bearer token subject.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /lists", s.handleList)
	mux.HandleFunc("POST /lists", s.handleCreate)
	mux.HandleFunc("GET /lists/stats", s.handleStats)
	mux.HandleFunc("GET /lists/{id}", s.handleGet)
	mux.HandleFunc("PUT /lists/{id}", s.handleRename)
	mux.HandleFunc("DELETE /lists/{id}", s.handleDelete)
	mux.HandleFunc("POST /lists/{id}/entries", s.handleAddEntry)
	mux.HandleFunc("PUT /lists/{id}/entries/{itemId}", s.handleUpdateEntry)
	mux.HandleFunc("DELETE /lists/{id}/entries/{itemId}", s.handleRemoveEntry)
	mux.HandleFunc("POST /lists/{id}/checkout", s.handleCheckout)
	return mux
}

type nameRequest struct {
	Name string `json:"name"`
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Service) handleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.subject(w, r)
	if !ok {
		return
	}

	out, err := s.ListForUser(userID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (s *Service) handleCreate(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.subject(w, r)
	if !ok {
		return
	}

	var in nameRequest
	if err := httpx.Decode(r, &in); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	l, err := s.Create(userID, in.Name)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, l)
}

func (s *Service) handleGet(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.subject(w, r)
	if !ok {
		return
	}

	l, err := s.Get(userID, r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, l)
}

func (s *Service) handleRename(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.subject(w, r)
	if !ok {
		return
	}

	var in nameRequest
	if err := httpx.Decode(r, &in); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	l, err := s.Rename(userID, r.PathValue("id"), in.Name)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, l)
}

func (s *Service) handleDelete(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.subject(w, r)
	if !ok {
		return
	}

	if err := s.Delete(userID, r.PathValue("id")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleAddEntry(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.subject(w, r)
	if !ok {
		return
	}

	var in EntryInput
	if err := httpx.Decode(r, &in); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	l, err := s.AddEntry(userID, r.PathValue("id"), in)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, l)
}

func (s *Service) handleUpdateEntry(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.subject(w, r)
	if !ok {
		return
	}

	var in EntryUpdate
	if err := httpx.Decode(r, &in); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	l, err := s.UpdateEntry(userID, r.PathValue("id"), r.PathValue("itemId"), in)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, l)
}

func (s *Service) handleRemoveEntry(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.subject(w, r)
	if !ok {
		return
	}

	l, err := s.RemoveEntry(userID, r.PathValue("id"), r.PathValue("itemId"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, l)
}

// handleCheckout persists the completed transition, acknowledges with 202,
// and only then hands the event to the publisher. Broker trouble can no
// longer affect this response.
func (s *Service) handleCheckout(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.subject(w, r)
	if !ok {
		return
	}

	l, err := s.Checkout(userID, r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusAccepted, l)
	s.announceCheckout(l)
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Stats()
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, stats)
}

// subject verifies the bearer token and returns its subject, the owning
// user ID for every list operation.
func (s *Service) subject(w http.ResponseWriter, r *http.Request) (string, bool) {
	tok, ok := auth.BearerToken(r)
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "missing bearer token")
		return "", false
	}
	claims, err := s.tokens.Verify(tok)
	if err != nil {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid token")
		return "", false
	}
	return claims.Subject, true
}

func (s *Service) writeServiceError(w http.ResponseWriter, err error) {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		httpx.WriteError(w, http.StatusBadRequest, ve.Error())
	case errors.Is(err, store.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "list not found")
	case errors.Is(err, ErrEntryNotFound):
		httpx.WriteError(w, http.StatusNotFound, "entry not found")
	case errors.Is(err, ErrNotOwner):
		httpx.WriteError(w, http.StatusForbidden, "list belongs to another user")
	case errors.Is(err, ErrListCompleted):
		httpx.WriteError(w, http.StatusConflict, "list is already completed")
	case errors.Is(err, ErrDuplicateEntry):
		httpx.WriteError(w, http.StatusConflict, "item is already on the list")
	default:
		s.logger.Error("request failed", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
