package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	quic "github.com/quic-go/quic-go"
	"go.uber.org/zap"

	"github.com/drift-im/drift/internal/bus"
	"github.com/drift-im/drift/internal/fault"
	"github.com/drift-im/drift/internal/identity"
	"github.com/drift-im/drift/internal/store"
)

const connIdleAfter = 30 * time.Second

// Adapter is the QUIC transport: it listens for inbound envelopes and
// publishes them on the bus, and delivers queued outbox entries to peers.
// Peer addresses come from a static map; an unknown peer is a send failure
// the retry schedule will absorb until the peer is routable.
type Adapter struct {
	selfID     string
	listenAddr string
	bus        *bus.Bus
	logger     *zap.Logger

	peersMu sync.RWMutex
	peers   map[string]string

	connsMu sync.Mutex
	conns   map[string]*pooledConn

	listener *quic.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

type pooledConn struct {
	conn     *quic.Conn
	lastUsed time.Time
}

// NewAdapter creates the transport. peers maps identity to dial address.
func NewAdapter(selfID, listenAddr string, peers map[string]string, b *bus.Bus, logger *zap.Logger) *Adapter {
	normalized := make(map[string]string, len(peers))
	for id, addr := range peers {
		normalized[identity.Normalize(id)] = addr
	}
	return &Adapter{
		selfID:     selfID,
		listenAddr: listenAddr,
		bus:        b,
		logger:     logger,
		peers:      normalized,
		conns:      make(map[string]*pooledConn),
	}
}

// SetPeer records or updates a peer's dial address.
func (a *Adapter) SetPeer(peerID, addr string) {
	a.peersMu.Lock()
	a.peers[identity.Normalize(peerID)] = addr
	a.peersMu.Unlock()
}

// Start begins listening. Inbound envelopes surface as peer.* bus events.
func (a *Adapter) Start(ctx context.Context) error {
	tlsConf, err := serverTLSConfig()
	if err != nil {
		return err
	}
	listener, err := quic.ListenAddr(a.listenAddr, tlsConf, nil)
	if err != nil {
		return fault.Send("quic listen", err)
	}
	a.listener = listener
	ctx, a.cancel = context.WithCancel(ctx)
	a.logger.Info("transport listening", zap.String("addr", a.listenAddr))

	a.wg.Add(1)
	go a.acceptLoop(ctx)
	return nil
}

// Stop closes the listener and all pooled connections.
func (a *Adapter) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.listener != nil {
		_ = a.listener.Close()
	}
	a.connsMu.Lock()
	for addr, ent := range a.conns {
		_ = ent.conn.CloseWithError(0, "shutdown")
		delete(a.conns, addr)
	}
	a.connsMu.Unlock()
	a.wg.Wait()
}

func (a *Adapter) acceptLoop(ctx context.Context) {
	defer a.wg.Done()
	for {
		conn, err := a.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.logger.Warn("quic accept failed", zap.Error(err))
			return
		}
		a.wg.Add(1)
		go a.serveConn(ctx, conn)
	}
}

func (a *Adapter) serveConn(ctx context.Context, conn *quic.Conn) {
	defer a.wg.Done()
	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			return
		}
		a.wg.Add(1)
		go func(s *quic.Stream) {
			defer a.wg.Done()
			defer func() { _ = s.Close() }()
			a.serveStream(s)
		}(stream)
	}
}

func (a *Adapter) serveStream(s *quic.Stream) {
	for {
		env, err := ReadFrame(s)
		if err != nil {
			return
		}
		a.dispatch(env)
	}
}

func (a *Adapter) dispatch(env *Envelope) {
	from := identity.Normalize(env.From)
	if !identity.Valid(from) {
		a.logger.Warn("envelope from malformed identity dropped", zap.String("from", env.From))
		return
	}
	env.From = from

	kind, ok := map[string]string{
		TypeChatMessage:     "peer.message",
		TypeContactRequest:  "peer.contact_request",
		TypeContactAccepted: "peer.contact_accepted",
		TypeVibeCommitment:  "peer.vibe_commit",
		TypeVibeReveal:      "peer.vibe_reveal",
		TypeProfileUpdate:   "peer.profile",
	}[env.Type]
	if !ok {
		a.logger.Warn("unknown envelope type dropped", zap.String("type", env.Type))
		return
	}
	a.bus.Emit(kind, env)
}

// Deliver sends one queued outbox entry to its recipient. Any transport
// problem comes back as a send fault for the scheduler to retry.
func (a *Adapter) Deliver(ctx context.Context, e store.OutboxEntry) error {
	env, err := a.envelopeFor(e)
	if err != nil {
		return err
	}
	return a.Send(ctx, e.RecipientID, env)
}

func (a *Adapter) envelopeFor(e store.OutboxEntry) (*Envelope, error) {
	env := &Envelope{
		From:   a.selfID,
		To:     e.RecipientID,
		ID:     e.MessageID,
		SentAt: time.Now().UnixMilli(),
	}
	switch e.Kind {
	case store.KindChat:
		body, err := json.Marshal(ChatBody{Text: e.Body})
		if err != nil {
			return nil, err
		}
		env.Type = TypeChatMessage
		env.Body = body
	case store.KindContactRequest:
		env.Type = TypeContactRequest
		env.Body = e.Payload
	case store.KindContactAccept:
		env.Type = TypeContactAccepted
		env.Body = e.Payload
	case store.KindVibeCommit:
		env.Type = TypeVibeCommitment
		env.Body = e.Payload
	case store.KindVibeReveal:
		env.Type = TypeVibeReveal
		env.Body = e.Payload
	default:
		return nil, fault.Validation("unknown outbox kind " + e.Kind)
	}
	return env, nil
}

// Send transmits one envelope to a peer on a fresh stream.
func (a *Adapter) Send(ctx context.Context, peerID string, env *Envelope) error {
	a.peersMu.RLock()
	addr, ok := a.peers[identity.Normalize(peerID)]
	a.peersMu.RUnlock()
	if !ok {
		return fault.Send("no route to peer "+identity.Normalize(peerID), nil)
	}

	conn, err := a.getConn(ctx, addr)
	if err != nil {
		return fault.Send("dial "+addr, err)
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		a.dropConn(addr, conn)
		return fault.Send("open stream", err)
	}
	defer func() { _ = stream.Close() }()

	if err := WriteFrame(stream, env); err != nil {
		a.dropConn(addr, conn)
		return fault.Send("write frame", err)
	}
	return nil
}

func (a *Adapter) getConn(ctx context.Context, addr string) (*quic.Conn, error) {
	now := time.Now()
	a.connsMu.Lock()
	if ent, ok := a.conns[addr]; ok {
		if ent.conn.Context().Err() == nil && now.Sub(ent.lastUsed) <= connIdleAfter {
			ent.lastUsed = now
			conn := ent.conn
			a.connsMu.Unlock()
			return conn, nil
		}
		delete(a.conns, addr)
		stale := ent.conn
		a.connsMu.Unlock()
		_ = stale.CloseWithError(0, "stale")
	} else {
		a.connsMu.Unlock()
	}

	tlsConf, err := clientTLSConfig()
	if err != nil {
		return nil, err
	}
	conn, err := quic.DialAddr(ctx, addr, tlsConf, nil)
	if err != nil {
		return nil, err
	}
	a.connsMu.Lock()
	a.conns[addr] = &pooledConn{conn: conn, lastUsed: now}
	a.connsMu.Unlock()
	return conn, nil
}

func (a *Adapter) dropConn(addr string, conn *quic.Conn) {
	a.connsMu.Lock()
	if ent, ok := a.conns[addr]; ok && ent.conn == conn {
		delete(a.conns, addr)
	}
	a.connsMu.Unlock()
	_ = conn.CloseWithError(0, "send failed")
}
