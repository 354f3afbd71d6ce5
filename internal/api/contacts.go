package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) listContacts(w http.ResponseWriter, r *http.Request) {
	contacts, err := h.db.AllContacts()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, contacts)
}

// requestContact handles POST /api/contacts: queue a handshake request.
func (h *Handler) requestContact(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identity string `json:"identity"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.contacts.Request(req.Identity); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) getContact(w http.ResponseWriter, r *http.Request) {
	c, err := h.db.GetContact(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if c == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "contact not found"})
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) deleteContact(w http.ResponseWriter, r *http.Request) {
	if err := h.db.DeleteContact(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) blockContact(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Blocked bool `json:"blocked"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.db.SetContactBlocked(chi.URLParam(r, "id"), req.Blocked); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) favoriteContact(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Favorite bool `json:"favorite"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.db.SetContactFavorite(chi.URLParam(r, "id"), req.Favorite); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
