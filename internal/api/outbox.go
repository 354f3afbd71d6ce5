package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/drift-im/drift/internal/status"
)

func (h *Handler) listOutbox(w http.ResponseWriter, r *http.Request) {
	if recipient := r.URL.Query().Get("recipient"); recipient != "" {
		entries, err := h.db.OutboxForRecipient(recipient)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, entries)
		return
	}
	entries, err := h.db.AllOutbox()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// flushOutbox handles POST /api/outbox/flush: attempt every queued entry
// now, ignoring the retry schedule.
func (h *Handler) flushOutbox(w http.ResponseWriter, r *http.Request) {
	h.sender.FlushNow()
	w.WriteHeader(http.StatusAccepted)
}

// purgeOutbox handles POST /api/outbox/purge: drop permanently failed
// entries.
func (h *Handler) purgeOutbox(w http.ResponseWriter, r *http.Request) {
	n, err := h.sched.PurgeFailed()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"purged": n})
}

func (h *Handler) startVibe(w http.ResponseWriter, r *http.Request) {
	ticket, err := h.matcher.Start(chi.URLParam(r, "peer"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"exchange_id": ticket.ID,
		"status":      ticket.Status,
	})
}

func (h *Handler) skipVibe(w http.ResponseWriter, r *http.Request) {
	if err := h.matcher.Skip(chi.URLParam(r, "peer")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listTickets(w http.ResponseWriter, r *http.Request) {
	tickets, err := h.db.ListTickets(0)
	if err != nil {
		writeError(w, err)
		return
	}
	// Secrets never leave the daemon.
	for i := range tickets {
		tickets[i].OurSecret = nil
	}
	writeJSON(w, http.StatusOK, tickets)
}

func (h *Handler) nodeStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"identity": h.selfID,
		"state":    h.machine.Current(),
		"degraded": h.machine.Current() == status.Degraded,
	})
}
