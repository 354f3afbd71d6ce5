package vibe

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/drift-im/drift/internal/bus"
	"github.com/drift-im/drift/internal/fault"
	"github.com/drift-im/drift/internal/outbox"
	"github.com/drift-im/drift/internal/store"
)

func testID(n int) string {
	return fmt.Sprintf("%064x", n)
}

type node struct {
	db      *store.DB
	matcher *Matcher
	id      string
}

func newNode(t *testing.T, selfID string) *node {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"), store.Caps{})
	require.NoError(t, err)
	_, err = db.Migrate()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	b := bus.New()
	sched := outbox.NewScheduler(db, b, zap.NewNop(), outbox.NewBackoff(0, 0), 0)
	return &node{
		db:      db,
		matcher: NewMatcher(db, sched, b, zap.NewNop(), selfID),
		id:      selfID,
	}
}

func (n *node) addContact(t *testing.T, peerID string) {
	t.Helper()
	require.NoError(t, n.db.PutContact(&store.Contact{Identity: peerID, DisplayName: "peer", AddedAt: 1}))
}

// drainControl pops queued control payloads of one kind for a recipient.
func (n *node) drainControl(t *testing.T, recipient, kind string) [][]byte {
	t.Helper()
	queued, err := n.db.OutboxForRecipient(recipient)
	require.NoError(t, err)
	var payloads [][]byte
	for _, e := range queued {
		if e.Kind != kind {
			continue
		}
		payloads = append(payloads, e.Payload)
		require.NoError(t, n.db.DeleteOutbox(e.MessageID))
	}
	return payloads
}

func TestVerifyReveal(t *testing.T) {
	secret := make([]byte, SecretSize)
	_, err := rand.Read(secret)
	require.NoError(t, err)

	assert.True(t, VerifyReveal(Commitment(secret), secret))

	tampered := append([]byte(nil), secret...)
	tampered[0] ^= 0x01
	assert.False(t, VerifyReveal(Commitment(secret), tampered))
	assert.False(t, VerifyReveal(Commitment(secret), nil))
}

func TestMatchTokenSymmetric(t *testing.T) {
	a := make([]byte, SecretSize)
	b := make([]byte, SecretSize)
	_, _ = rand.Read(a)
	_, _ = rand.Read(b)

	assert.Equal(t, MatchToken(a, b), MatchToken(b, a))
	assert.NotEqual(t, MatchToken(a, b), MatchToken(a, a))
}

func TestExchangeIDOrderIndependent(t *testing.T) {
	a, b := testID(1), testID(2)
	assert.Equal(t, ExchangeID(a, b), ExchangeID(b, a))
	assert.NotEqual(t, ExchangeID(a, b), ExchangeID(a, testID(3)))
	assert.Len(t, ExchangeID(a, b), 64)
}

func TestStartRequiresKnownContact(t *testing.T) {
	n := newNode(t, testID(1))
	_, err := n.matcher.Start(testID(2))
	assert.True(t, fault.IsValidation(err))
}

func TestFullExchangeBothSidesMatch(t *testing.T) {
	alice := newNode(t, testID(1))
	bob := newNode(t, testID(2))
	alice.addContact(t, bob.id)
	bob.addContact(t, alice.id)

	// Alice starts; her commitment is queued for Bob.
	_, err := alice.matcher.Start(bob.id)
	require.NoError(t, err)
	commits := alice.drainControl(t, bob.id, store.KindVibeCommit)
	require.Len(t, commits, 1)

	// Bob receives it, auto-commits back and reveals.
	require.NoError(t, bob.matcher.HandleCommit(decodeCommit(t, commits[0])))
	bobCommits := bob.drainControl(t, alice.id, store.KindVibeCommit)
	require.Len(t, bobCommits, 1)
	bobReveals := bob.drainControl(t, alice.id, store.KindVibeReveal)
	require.Len(t, bobReveals, 1)

	// Alice processes Bob's commitment and reveals in turn.
	require.NoError(t, alice.matcher.HandleCommit(decodeCommit(t, bobCommits[0])))
	aliceReveals := alice.drainControl(t, bob.id, store.KindVibeReveal)
	require.Len(t, aliceReveals, 1)

	// Both reveals land.
	require.NoError(t, alice.matcher.HandleReveal(decodeReveal(t, bobReveals[0])))
	require.NoError(t, bob.matcher.HandleReveal(decodeReveal(t, aliceReveals[0])))

	ta, err := alice.db.TicketForContact(bob.id)
	require.NoError(t, err)
	tb, err := bob.db.TicketForContact(alice.id)
	require.NoError(t, err)
	require.NotNil(t, ta)
	require.NotNil(t, tb)
	assert.Equal(t, store.TicketMatched, ta.Status)
	assert.Equal(t, store.TicketMatched, tb.Status)
	assert.NotEmpty(t, ta.MatchToken)
	assert.Equal(t, ta.MatchToken, tb.MatchToken, "both sides derive the same token")
	assert.Equal(t, ta.ID, tb.ID, "both sides use the same exchange id")
}

func TestRevealBeforeCommitDiscarded(t *testing.T) {
	n := newNode(t, testID(1))
	peer := testID(2)
	n.addContact(t, peer)

	secret := make([]byte, SecretSize)
	_, _ = rand.Read(secret)
	err := n.matcher.HandleReveal(RevealPayload{Identity: peer, Secret: secret})
	assert.True(t, fault.IsValidation(err))

	ticket, _ := n.db.TicketForContact(peer)
	assert.Nil(t, ticket, "early reveal must not create a ticket")
}

func TestInvalidRevealDiscarded(t *testing.T) {
	n := newNode(t, testID(1))
	peer := testID(2)
	n.addContact(t, peer)

	otherSecret := make([]byte, SecretSize)
	_, _ = rand.Read(otherSecret)
	require.NoError(t, n.matcher.HandleCommit(CommitPayload{Identity: peer, Commitment: Commitment(otherSecret)}))

	wrong := make([]byte, SecretSize)
	_, _ = rand.Read(wrong)
	err := n.matcher.HandleReveal(RevealPayload{Identity: peer, Secret: wrong})
	assert.True(t, fault.IsValidation(err))

	ticket, _ := n.db.TicketForContact(peer)
	require.NotNil(t, ticket)
	assert.NotEqual(t, store.TicketMatched, ticket.Status)
	assert.Empty(t, ticket.MatchToken)

	// The correct secret still completes the exchange afterward.
	require.NoError(t, n.matcher.HandleReveal(RevealPayload{Identity: peer, Secret: otherSecret}))
	ticket, _ = n.db.TicketForContact(peer)
	assert.Equal(t, store.TicketMatched, ticket.Status)
}

func TestSkippedTicketIgnoresExchange(t *testing.T) {
	n := newNode(t, testID(1))
	peer := testID(2)
	n.addContact(t, peer)

	require.NoError(t, n.matcher.Skip(peer))

	secret := make([]byte, SecretSize)
	_, _ = rand.Read(secret)
	require.NoError(t, n.matcher.HandleCommit(CommitPayload{Identity: peer, Commitment: Commitment(secret)}))

	ticket, _ := n.db.TicketForContact(peer)
	require.NotNil(t, ticket)
	assert.Equal(t, store.TicketSkipped, ticket.Status)

	// No reciprocal commit or reveal goes out for a skipped peer.
	queued, _ := n.db.OutboxForRecipient(peer)
	assert.Empty(t, queued)
}

func decodeCommit(t *testing.T, payload []byte) CommitPayload {
	t.Helper()
	var p CommitPayload
	require.NoError(t, json.Unmarshal(payload, &p))
	return p
}

func decodeReveal(t *testing.T, payload []byte) RevealPayload {
	t.Helper()
	var p RevealPayload
	require.NoError(t, json.Unmarshal(payload, &p))
	return p
}
