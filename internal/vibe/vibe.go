// Package vibe implements the commit-reveal compatibility match between
// two contacts. Each side commits to a random secret before either reveals,
// so neither can pick its answer after seeing the other's. A completed
// exchange yields the same match token on both sides.
package vibe

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/drift-im/drift/internal/bus"
	"github.com/drift-im/drift/internal/fault"
	"github.com/drift-im/drift/internal/identity"
	"github.com/drift-im/drift/internal/outbox"
	"github.com/drift-im/drift/internal/store"
)

// SecretSize is the length of the committed secret in bytes.
const SecretSize = 32

// CommitPayload is the wire body of a vibe commitment.
type CommitPayload struct {
	Identity   string `json:"identity"`
	Commitment []byte `json:"commitment"`
}

// RevealPayload is the wire body of a vibe reveal.
type RevealPayload struct {
	Identity string `json:"identity"`
	Secret   []byte `json:"secret"`
}

// Matcher drives vibe exchanges against the ticket ledger. Outgoing
// commitments and reveals ride the outbox so they retry like any send.
type Matcher struct {
	db     *store.DB
	sched  *outbox.Scheduler
	bus    *bus.Bus
	logger *zap.Logger

	selfID string
	now    func() time.Time
}

// NewMatcher creates a matcher for the node identified by selfID.
func NewMatcher(db *store.DB, sched *outbox.Scheduler, b *bus.Bus, logger *zap.Logger, selfID string) *Matcher {
	return &Matcher{
		db:     db,
		sched:  sched,
		bus:    b,
		logger: logger,
		selfID: selfID,
		now:    time.Now,
	}
}

// ExchangeID derives the ticket id shared by both sides: a hash over the
// sorted identity pair, so either side computes the same id.
func ExchangeID(a, b string) string {
	a, b = identity.Normalize(a), identity.Normalize(b)
	if b < a {
		a, b = b, a
	}
	sum := sha256.Sum256([]byte(a + ":" + b))
	return hex.EncodeToString(sum[:])
}

// Commitment returns SHA-256 of a secret.
func Commitment(secret []byte) []byte {
	sum := sha256.Sum256(secret)
	return sum[:]
}

// VerifyReveal reports whether secret opens commitment. Constant-time so a
// mismatch reveals nothing about how close the guess was.
func VerifyReveal(commitment, secret []byte) bool {
	sum := sha256.Sum256(secret)
	return subtle.ConstantTimeCompare(commitment, sum[:]) == 1
}

// MatchToken derives the shared token from both secrets. The secrets are
// ordered bytewise before hashing, so both sides derive the same token
// regardless of who revealed first.
func MatchToken(a, b []byte) []byte {
	if bytes.Compare(b, a) < 0 {
		a, b = b, a
	}
	h := sha256.New()
	h.Write(a)
	h.Write(b)
	return h.Sum(nil)
}

// Start begins (or restarts) an exchange with a contact: draw a fresh
// secret, persist the ticket and queue our commitment.
func (m *Matcher) Start(contactID string) (*store.MatchTicket, error) {
	id, err := identity.Canonical(contactID)
	if err != nil {
		return nil, err
	}
	if c, err := m.db.GetContact(id); err != nil {
		return nil, err
	} else if c == nil {
		return nil, fault.Validation("vibe exchange requires a known contact")
	}

	secret := make([]byte, SecretSize)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	ticket := &store.MatchTicket{
		ID:            ExchangeID(m.selfID, id),
		ContactID:     id,
		Status:        store.TicketPending,
		OurSecret:     secret,
		OurCommitment: Commitment(secret),
		CreatedAt:     m.now().UnixMilli(),
	}

	// A commitment the peer already sent survives the restart.
	if prev, err := m.db.TicketForContact(id); err != nil {
		return nil, err
	} else if prev != nil {
		ticket.TheirCommitment = prev.TheirCommitment
	}

	if err := m.db.PutTicket(ticket); err != nil {
		return nil, err
	}
	if err := m.sendCommit(id, ticket.OurCommitment); err != nil {
		return nil, err
	}
	if len(ticket.TheirCommitment) > 0 {
		if err := m.sendReveal(id, ticket.OurSecret); err != nil {
			return nil, err
		}
	}
	return ticket, nil
}

// Skip marks the exchange with a contact as skipped and discards our
// secret. A skipped ticket ignores later commits and reveals.
func (m *Matcher) Skip(contactID string) error {
	id, err := identity.Canonical(contactID)
	if err != nil {
		return err
	}
	ticket, err := m.db.TicketForContact(id)
	if err != nil {
		return err
	}
	if ticket == nil {
		ticket = &store.MatchTicket{
			ID:        ExchangeID(m.selfID, id),
			ContactID: id,
			CreatedAt: m.now().UnixMilli(),
		}
	}
	ticket.Status = store.TicketSkipped
	ticket.OurSecret = nil
	ticket.OurCommitment = nil
	return m.db.PutTicket(ticket)
}

// HandleCommit processes a peer's commitment. An unknown peer's commitment
// starts our side of the exchange automatically; once both commitments are
// recorded our reveal goes out.
func (m *Matcher) HandleCommit(p CommitPayload) error {
	id, err := identity.Canonical(p.Identity)
	if err != nil {
		return err
	}
	if len(p.Commitment) != sha256.Size {
		return fault.Validation("commitment must be a sha-256 digest")
	}

	ticket, err := m.db.TicketForContact(id)
	if err != nil {
		return err
	}
	if ticket != nil && ticket.Status == store.TicketSkipped {
		return nil
	}
	if ticket != nil && ticket.Status == store.TicketMatched {
		return nil
	}

	if ticket == nil {
		secret := make([]byte, SecretSize)
		if _, err := rand.Read(secret); err != nil {
			return err
		}
		ticket = &store.MatchTicket{
			ID:            ExchangeID(m.selfID, id),
			ContactID:     id,
			Status:        store.TicketReceived,
			OurSecret:     secret,
			OurCommitment: Commitment(secret),
			CreatedAt:     m.now().UnixMilli(),
		}
		if err := m.sendCommit(id, ticket.OurCommitment); err != nil {
			return err
		}
	} else {
		ticket.Status = store.TicketReceived
	}
	ticket.TheirCommitment = p.Commitment
	if err := m.db.PutTicket(ticket); err != nil {
		return err
	}

	// Both commitments are in; safe to open ours.
	return m.sendReveal(id, ticket.OurSecret)
}

// HandleReveal processes a peer's opened secret. A reveal with no prior
// commitment on file, or one that does not open the commitment, is
// discarded without mutating the ticket.
func (m *Matcher) HandleReveal(p RevealPayload) error {
	id, err := identity.Canonical(p.Identity)
	if err != nil {
		return err
	}
	ticket, err := m.db.TicketForContact(id)
	if err != nil {
		return err
	}
	if ticket == nil || len(ticket.TheirCommitment) == 0 {
		m.logger.Warn("reveal before commitment discarded", zap.String("peer", id))
		return fault.Validation("reveal received before commitment")
	}
	if ticket.Status == store.TicketSkipped || ticket.Status == store.TicketMatched {
		return nil
	}
	if !VerifyReveal(ticket.TheirCommitment, p.Secret) {
		m.logger.Warn("reveal does not open commitment", zap.String("peer", id))
		return fault.Validation("reveal does not open commitment")
	}

	ticket.MatchToken = MatchToken(ticket.OurSecret, p.Secret)
	ticket.Status = store.TicketMatched
	ticket.MatchedAt = m.now().UnixMilli()
	if err := m.db.PutTicket(ticket); err != nil {
		return err
	}

	m.logger.Info("vibe match completed", zap.String("peer", id))
	m.bus.Emit("notify.match", map[string]string{
		"peer":        id,
		"match_token": hex.EncodeToString(ticket.MatchToken),
	})
	return nil
}

func (m *Matcher) sendCommit(peerID string, commitment []byte) error {
	payload, err := json.Marshal(CommitPayload{Identity: m.selfID, Commitment: commitment})
	if err != nil {
		return err
	}
	_, err = m.sched.EnqueueControl(store.KindVibeCommit, peerID, payload)
	return err
}

func (m *Matcher) sendReveal(peerID string, secret []byte) error {
	payload, err := json.Marshal(RevealPayload{Identity: m.selfID, Secret: secret})
	if err != nil {
		return err
	}
	_, err = m.sched.EnqueueControl(store.KindVibeReveal, peerID, payload)
	return err
}
