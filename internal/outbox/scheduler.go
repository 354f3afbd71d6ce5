package outbox

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/drift-im/drift/internal/bus"
	"github.com/drift-im/drift/internal/fault"
	"github.com/drift-im/drift/internal/identity"
	"github.com/drift-im/drift/internal/store"
)

// Scheduler owns the retry bookkeeping for queued sends: enqueueing,
// picking due batches, and recording attempt outcomes. The actual network
// sending lives in Sender.
type Scheduler struct {
	db          *store.DB
	bus         *bus.Bus
	logger      *zap.Logger
	backoff     *Backoff
	maxAttempts int
	now         func() time.Time
}

// NewScheduler creates a scheduler. maxAttempts <= 0 falls back to the
// package default.
func NewScheduler(db *store.DB, b *bus.Bus, logger *zap.Logger, backoff *Backoff, maxAttempts int) *Scheduler {
	if maxAttempts <= 0 {
		maxAttempts = MaxAttempts
	}
	return &Scheduler{
		db:          db,
		bus:         b,
		logger:      logger,
		backoff:     backoff,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

// MaxAttempts returns the permanent-failure ceiling.
func (s *Scheduler) MaxAttempts() int { return s.maxAttempts }

// Enqueue stores an outgoing chat message and queues it for delivery, due
// immediately. Returns the message id of an entry evicted to make room, if
// any.
func (s *Scheduler) Enqueue(m *store.Message) (evicted string, err error) {
	if identity.Normalize(m.RecipientID) == "" && identity.Normalize(m.GroupID) == "" {
		return "", fault.ErrEmptyRecipient
	}
	now := s.now().UnixMilli()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp == 0 {
		m.Timestamp = now
	}
	m.FromMe = true
	m.Status = store.StatusPending

	if err := s.db.PutMessage(m); err != nil {
		return "", err
	}
	if err := s.db.BumpPreview(m); err != nil {
		return "", err
	}

	evicted, err = s.db.InsertOutbox(&store.OutboxEntry{
		MessageID:   m.ID,
		RecipientID: store.ChatKey(m),
		Kind:        store.KindChat,
		Body:        m.Body,
		CreatedAt:   now,
		NextRetryAt: now,
	})
	if err != nil {
		return "", err
	}
	s.bus.Emit("outbox.enqueued", map[string]string{"message_id": m.ID})
	if evicted != "" {
		s.logger.Warn("outbox full, oldest entry evicted",
			zap.String("recipient", store.ChatKey(m)),
			zap.String("evicted_message_id", evicted))
		s.bus.Emit("outbox.evicted", map[string]string{"message_id": evicted})
	}
	return evicted, nil
}

// EnqueueControl queues a handshake payload for a recipient. Control
// entries ride the same retry schedule as chat messages but have no
// Message row.
func (s *Scheduler) EnqueueControl(kind, recipientID string, payload []byte) (string, error) {
	if _, err := identity.Canonical(recipientID); err != nil {
		return "", err
	}
	now := s.now().UnixMilli()
	id := uuid.NewString()
	evicted, err := s.db.InsertOutbox(&store.OutboxEntry{
		MessageID:   id,
		RecipientID: recipientID,
		Kind:        kind,
		Payload:     payload,
		CreatedAt:   now,
		NextRetryAt: now,
	})
	if err != nil {
		return "", err
	}
	s.bus.Emit("outbox.enqueued", map[string]string{"message_id": id, "kind": kind})
	if evicted != "" {
		s.bus.Emit("outbox.evicted", map[string]string{"message_id": evicted})
	}
	return id, nil
}

// DueBatch returns entries ready for a send attempt, earliest-due first.
// When ignoreSchedule is set every non-spent entry is returned.
func (s *Scheduler) DueBatch(ignoreSchedule bool) ([]store.OutboxEntry, error) {
	return s.db.DueOutbox(s.now().UnixMilli(), s.maxAttempts, ignoreSchedule)
}

// RecordSuccess finalizes a delivered entry: it leaves the queue and, for
// chat entries, the message moves to sent status.
func (s *Scheduler) RecordSuccess(e *store.OutboxEntry) error {
	if err := s.db.DeleteOutbox(e.MessageID); err != nil {
		return err
	}
	if e.Kind == store.KindChat {
		if err := s.db.UpdateMessageStatus(e.MessageID, store.StatusSent); err != nil {
			return err
		}
	}
	s.bus.Emit("outbox.sent", map[string]string{"message_id": e.MessageID, "kind": e.Kind})
	return nil
}

// RecordFailure bumps the attempt count and reschedules. The new retry
// time never moves earlier than the previous one, so a jittered reschedule
// cannot jump the queue. At the attempt ceiling the entry is permanently
// failed and its message marked failed.
func (s *Scheduler) RecordFailure(e *store.OutboxEntry, sendErr error) error {
	attempts := e.AttemptCount + 1
	lastError := ""
	if sendErr != nil {
		lastError = sendErr.Error()
	}

	if attempts >= s.maxAttempts {
		if err := s.db.RecordOutboxFailure(e.MessageID, attempts, e.NextRetryAt, lastError); err != nil {
			return err
		}
		if e.Kind == store.KindChat {
			if err := s.db.UpdateMessageStatus(e.MessageID, store.StatusFailed); err != nil {
				return err
			}
		}
		s.logger.Warn("outbox entry permanently failed",
			zap.String("message_id", e.MessageID),
			zap.Int("attempts", attempts),
			zap.String("last_error", lastError))
		s.bus.Emit("outbox.failed", map[string]string{"message_id": e.MessageID, "error": lastError})
		return nil
	}

	next := s.now().Add(s.backoff.Jittered(attempts)).UnixMilli()
	if next < e.NextRetryAt {
		next = e.NextRetryAt
	}
	if err := s.db.RecordOutboxFailure(e.MessageID, attempts, next, lastError); err != nil {
		return err
	}
	s.bus.Emit("outbox.retry_scheduled", map[string]any{
		"message_id":    e.MessageID,
		"attempt_count": attempts,
		"next_retry_at": next,
	})
	return nil
}

// PurgeFailed removes permanently failed entries and returns the count.
func (s *Scheduler) PurgeFailed() (int64, error) {
	n, err := s.db.PurgeFailedOutbox(s.maxAttempts)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("purged failed outbox entries", zap.Int64("count", n))
		s.bus.Emit("outbox.purged", map[string]int64{"count": n})
	}
	return n, nil
}
