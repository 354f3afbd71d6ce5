package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

type sendRequest struct {
	Recipient string `json:"recipient"`
	Body      string `json:"body"`
}

// sendMessage handles POST /api/messages: store the message and queue it.
func (h *Handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !decodeBody(w, r, &req) {
		return
	}
	msg, evicted, err := h.enqueueText(req.Recipient, req.Body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"message_id": msg.ID,
		"status":     msg.Status,
		"evicted":    evicted,
	})
}

func (h *Handler) listChats(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	previews, err := h.db.ChatPreviews(limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, previews)
}

func (h *Handler) chatMessages(w http.ResponseWriter, r *http.Request) {
	peer := chi.URLParam(r, "peer")
	before, _ := strconv.ParseInt(r.URL.Query().Get("before"), 10, 64)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	msgs, err := h.db.MessagesForChat(peer, before, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *Handler) markChatRead(w http.ResponseWriter, r *http.Request) {
	if err := h.db.MarkChatRead(chi.URLParam(r, "peer")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) pinChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Pinned bool `json:"pinned"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.db.SetChatPinned(chi.URLParam(r, "peer"), req.Pinned); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deleteChat(w http.ResponseWriter, r *http.Request) {
	if err := h.db.DeleteChat(chi.URLParam(r, "peer")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) searchMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing q"})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.db.SearchMessages(q, r.URL.Query().Get("chat"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}
