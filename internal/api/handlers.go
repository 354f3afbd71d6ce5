// Package api exposes the daemon's local control surface over HTTP on the
// profile's unix socket.
package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/drift-im/drift/internal/fault"
	"github.com/drift-im/drift/internal/handshake"
	"github.com/drift-im/drift/internal/outbox"
	"github.com/drift-im/drift/internal/status"
	"github.com/drift-im/drift/internal/store"
	"github.com/drift-im/drift/internal/vibe"
)

// Handler holds the daemon collaborators the API surfaces.
type Handler struct {
	db       *store.DB
	sched    *outbox.Scheduler
	sender   *outbox.Sender
	contacts *handshake.Contacts
	matcher  *vibe.Matcher
	machine  *status.Machine
	logger   *zap.Logger
	selfID   string
}

// NewHandler creates the API handler.
func NewHandler(db *store.DB, sched *outbox.Scheduler, sender *outbox.Sender, contacts *handshake.Contacts, matcher *vibe.Matcher, machine *status.Machine, logger *zap.Logger, selfID string) *Handler {
	return &Handler{
		db:       db,
		sched:    sched,
		sender:   sender,
		contacts: contacts,
		matcher:  matcher,
		machine:  machine,
		logger:   logger,
		selfID:   selfID,
	}
}

// enqueueText validates and queues an outgoing text message. The sender
// picks it up on its next tick.
func (h *Handler) enqueueText(recipient, body string) (*store.Message, string, error) {
	if body == "" {
		return nil, "", fault.Validation("empty message body")
	}
	msg := &store.Message{
		RecipientID: recipient,
		Body:        body,
		Type:        store.TypeText,
	}
	evicted, err := h.sched.Enqueue(msg)
	if err != nil {
		return nil, "", err
	}
	return msg, evicted, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the fault taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case fault.IsValidation(err):
		code = http.StatusBadRequest
	case fault.IsDuplicate(err):
		code = http.StatusConflict
	case fault.IsSend(err):
		code = http.StatusBadGateway
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return false
	}
	return true
}
