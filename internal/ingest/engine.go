// Package ingest routes decoded peer envelopes into the store and the
// handshake and vibe pipelines.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/drift-im/drift/internal/bus"
	"github.com/drift-im/drift/internal/fault"
	"github.com/drift-im/drift/internal/handshake"
	"github.com/drift-im/drift/internal/store"
	"github.com/drift-im/drift/internal/transport"
	"github.com/drift-im/drift/internal/vibe"
)

// Engine handles idempotent ingestion of peer events. It subscribes to
// "peer.*" events on the bus and processes them.
type Engine struct {
	db       *store.DB
	bus      *bus.Bus
	contacts *handshake.Contacts
	matcher  *vibe.Matcher
	logger   *zap.Logger
	selfID   string
	cancel   context.CancelFunc
}

// NewEngine creates the ingest engine.
func NewEngine(db *store.DB, b *bus.Bus, contacts *handshake.Contacts, matcher *vibe.Matcher, logger *zap.Logger, selfID string) *Engine {
	return &Engine{
		db:       db,
		bus:      b,
		contacts: contacts,
		matcher:  matcher,
		logger:   logger,
		selfID:   selfID,
	}
}

// Start subscribes to inbound peer events on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe("peer.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) handleEvent(evt bus.Event) {
	env, ok := evt.Payload.(*transport.Envelope)
	if !ok {
		return
	}
	if err := e.handleEnvelope(evt.Kind, env); err != nil {
		if fault.IsDuplicate(err) {
			return
		}
		e.logger.Error("failed to ingest peer event",
			zap.Error(err),
			zap.String("kind", evt.Kind),
			zap.String("from", env.From))
	}
}

func (e *Engine) handleEnvelope(kind string, env *transport.Envelope) error {
	switch kind {
	case "peer.message":
		var body transport.ChatBody
		if err := json.Unmarshal(env.Body, &body); err != nil {
			return fmt.Errorf("decode chat body: %w", err)
		}
		return e.IngestMessage(&store.Message{
			ID:        env.ID,
			SenderID:  env.From,
			Body:      body.Text,
			Type:      store.TypeText,
			Status:    store.StatusDelivered,
			Timestamp: env.SentAt,
		})

	case "peer.contact_request":
		var p handshake.ContactPayload
		if err := json.Unmarshal(env.Body, &p); err != nil {
			return fmt.Errorf("decode contact request: %w", err)
		}
		p.Identity = env.From
		return e.contacts.HandleRequest(p)

	case "peer.contact_accepted":
		var p handshake.ContactPayload
		if err := json.Unmarshal(env.Body, &p); err != nil {
			return fmt.Errorf("decode contact accept: %w", err)
		}
		p.Identity = env.From
		return e.contacts.HandleAccept(p)

	case "peer.vibe_commit":
		var p vibe.CommitPayload
		if err := json.Unmarshal(env.Body, &p); err != nil {
			return fmt.Errorf("decode vibe commit: %w", err)
		}
		p.Identity = env.From
		return e.matcher.HandleCommit(p)

	case "peer.vibe_reveal":
		var p vibe.RevealPayload
		if err := json.Unmarshal(env.Body, &p); err != nil {
			return fmt.Errorf("decode vibe reveal: %w", err)
		}
		p.Identity = env.From
		return e.matcher.HandleReveal(p)

	case "peer.profile":
		var p handshake.ContactPayload
		if err := json.Unmarshal(env.Body, &p); err != nil {
			return fmt.Errorf("decode profile update: %w", err)
		}
		return e.ingestProfile(env.From, p)
	}
	return nil
}

// IngestMessage stores one inbound message (idempotent) and bumps the
// conversation preview.
func (e *Engine) IngestMessage(msg *store.Message) error {
	if msg.ID == "" {
		return fault.Validation("inbound message missing id")
	}
	// Direct messages arrive addressed to this node.
	if msg.RecipientID == "" && msg.GroupID == "" {
		msg.RecipientID = e.selfID
	}
	existing, err := e.db.GetMessage(msg.ID)
	if err != nil {
		return err
	}
	if err := e.db.PutMessage(msg); err != nil {
		return err
	}
	// Mesh peers redeliver; a message already on file must not bump the
	// unread count again.
	if existing != nil {
		return nil
	}
	if err := e.db.BumpPreview(msg); err != nil {
		return err
	}
	e.bus.Emit("message.upserted", map[string]string{
		"chat_id": store.ChatKey(msg),
		"msg_id":  msg.ID,
	})
	e.bus.Emit("notify.message", map[string]string{
		"chat_id": store.ChatKey(msg),
		"msg_id":  msg.ID,
	})
	return nil
}

// ingestProfile refreshes a known contact's display fields. Updates from
// strangers are dropped.
func (e *Engine) ingestProfile(from string, p handshake.ContactPayload) error {
	known, err := e.db.GetContact(from)
	if err != nil {
		return err
	}
	if known == nil {
		return nil
	}
	known.DisplayName = p.DisplayName
	if err := e.db.PutContact(known); err != nil {
		return err
	}
	e.bus.Emit("message.contact_updated", map[string]string{"peer": from})
	return nil
}
