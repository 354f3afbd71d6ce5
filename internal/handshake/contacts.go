package handshake

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/drift-im/drift/internal/bus"
	"github.com/drift-im/drift/internal/fault"
	"github.com/drift-im/drift/internal/identity"
	"github.com/drift-im/drift/internal/outbox"
	"github.com/drift-im/drift/internal/store"
)

// ContactPayload is the wire body of a contact request or accept.
type ContactPayload struct {
	Identity    string `json:"identity"`
	DisplayName string `json:"display_name"`
}

// Contacts processes the contact handshake. Inbound requests are debounced
// per peer; responses ride the outbox so they retry like any other send.
type Contacts struct {
	db       *store.DB
	sched    *outbox.Scheduler
	debounce *Debouncer
	bus      *bus.Bus
	logger   *zap.Logger

	selfID      string
	displayName string
	now         func() time.Time
}

// NewContacts creates the handshake processor. selfID is this node's
// identity, used to build outgoing payloads.
func NewContacts(db *store.DB, sched *outbox.Scheduler, debounce *Debouncer, b *bus.Bus, logger *zap.Logger, selfID, displayName string) *Contacts {
	return &Contacts{
		db:          db,
		sched:       sched,
		debounce:    debounce,
		bus:         b,
		logger:      logger,
		selfID:      selfID,
		displayName: displayName,
		now:         time.Now,
	}
}

// Request queues an outgoing contact request to peerID.
func (c *Contacts) Request(peerID string) error {
	id, err := identity.Canonical(peerID)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(ContactPayload{Identity: c.selfID, DisplayName: c.displayName})
	if err != nil {
		return err
	}
	if _, err := c.sched.EnqueueControl(store.KindContactRequest, id, payload); err != nil {
		return err
	}
	c.logger.Info("contact request queued", zap.String("peer", id))
	return nil
}

// HandleRequest processes an inbound contact request. A repeat inside the
// debounce window is suppressed with ErrDuplicateSuppressed and triggers
// no writes and no response. Otherwise the peer is recorded and an accept
// is queued back.
func (c *Contacts) HandleRequest(p ContactPayload) error {
	id, err := identity.Canonical(p.Identity)
	if err != nil {
		return err
	}
	// Requests and accepts debounce on separate keys so answering a
	// request never swallows the peer's accept of our own request.
	if !c.debounce.ShouldRespond("request/" + id) {
		c.logger.Debug("duplicate contact request suppressed", zap.String("peer", id))
		return fault.ErrDuplicateSuppressed
	}

	known, err := c.db.GetContact(id)
	if err != nil {
		return err
	}
	// A known contact gets only the response. Re-storing it here would let
	// the peer reset flags the user set, like is_blocked.
	if known == nil {
		if err := c.db.PutContact(&store.Contact{
			Identity:    id,
			DisplayName: p.DisplayName,
			AddedAt:     c.now().UnixMilli(),
		}); err != nil {
			return err
		}
	}

	accept, err := json.Marshal(ContactPayload{Identity: c.selfID, DisplayName: c.displayName})
	if err != nil {
		return err
	}
	if _, err := c.sched.EnqueueControl(store.KindContactAccept, id, accept); err != nil {
		return err
	}

	if known == nil {
		c.bus.Emit("notify.contact_request", map[string]string{"peer": id, "display_name": p.DisplayName})
	}
	c.logger.Info("contact request accepted", zap.String("peer", id), zap.Bool("known", known != nil))
	return nil
}

// HandleAccept processes an inbound accept of our earlier request. Accepts
// are debounced through the same per-peer window as requests.
func (c *Contacts) HandleAccept(p ContactPayload) error {
	id, err := identity.Canonical(p.Identity)
	if err != nil {
		return err
	}
	if !c.debounce.ShouldRespond("accept/" + id) {
		return fault.ErrDuplicateSuppressed
	}

	known, err := c.db.GetContact(id)
	if err != nil {
		return err
	}
	if known == nil {
		if err := c.db.PutContact(&store.Contact{
			Identity:    id,
			DisplayName: p.DisplayName,
			AddedAt:     c.now().UnixMilli(),
		}); err != nil {
			return err
		}
	}
	c.bus.Emit("notify.contact_added", map[string]string{"peer": id, "display_name": p.DisplayName})
	c.logger.Info("contact accepted us", zap.String("peer", id))
	return nil
}
