package outbox

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/drift-im/drift/internal/bus"
	"github.com/drift-im/drift/internal/fault"
	"github.com/drift-im/drift/internal/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"), store.Caps{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testScheduler(t *testing.T, db *store.DB) *Scheduler {
	t.Helper()
	return NewScheduler(db, bus.New(), zap.NewNop(), NewBackoff(0, 0), 0)
}

func testID(n int) string {
	return fmt.Sprintf("%064x", n)
}

func TestEnqueueStoresPendingAndDue(t *testing.T) {
	db := testDB(t)
	s := testScheduler(t, db)
	peer := testID(1)

	msg := &store.Message{RecipientID: peer, Body: "hello"}
	if _, err := s.Enqueue(msg); err != nil {
		t.Fatal(err)
	}
	if msg.ID == "" {
		t.Fatal("Enqueue should assign a message id")
	}

	stored, err := db.GetMessage(msg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored == nil || stored.Status != store.StatusPending || !stored.FromMe {
		t.Fatalf("stored message = %+v, want pending from-me", stored)
	}

	due, err := s.DueBatch(false)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 || due[0].MessageID != msg.ID {
		t.Fatalf("due = %v, want just the enqueued entry", due)
	}
}

func TestEnqueueRejectsMissingRecipient(t *testing.T) {
	db := testDB(t)
	s := testScheduler(t, db)

	_, err := s.Enqueue(&store.Message{Body: "nowhere"})
	if !errors.Is(err, fault.ErrEmptyRecipient) {
		t.Fatalf("err = %v, want ErrEmptyRecipient", err)
	}
	if n, _ := db.TotalMessageCount(); n != 0 {
		t.Errorf("messages stored = %d, want 0", n)
	}
}

func TestEnqueueControlValidatesRecipient(t *testing.T) {
	db := testDB(t)
	s := testScheduler(t, db)

	if _, err := s.EnqueueControl(store.KindVibeCommit, "bogus", []byte("p")); !fault.IsValidation(err) {
		t.Fatalf("err = %v, want validation error", err)
	}

	id, err := s.EnqueueControl(store.KindVibeCommit, testID(1), []byte("p"))
	if err != nil {
		t.Fatal(err)
	}
	e, err := db.GetOutbox(id)
	if err != nil {
		t.Fatal(err)
	}
	if e == nil || e.Kind != store.KindVibeCommit {
		t.Fatalf("entry = %+v, want vibe_commit kind", e)
	}
	// Control entries never get a Message row.
	if m, _ := db.GetMessage(id); m != nil {
		t.Error("control entry should not create a message")
	}
}

func TestRecordFailureSchedulesLater(t *testing.T) {
	db := testDB(t)
	s := testScheduler(t, db)
	peer := testID(1)

	msg := &store.Message{RecipientID: peer, Body: "retry me"}
	if _, err := s.Enqueue(msg); err != nil {
		t.Fatal(err)
	}
	e, _ := db.GetOutbox(msg.ID)

	before := time.Now().UnixMilli()
	if err := s.RecordFailure(e, errors.New("peer offline")); err != nil {
		t.Fatal(err)
	}

	e, _ = db.GetOutbox(msg.ID)
	if e.AttemptCount != 1 {
		t.Errorf("attempt_count = %d, want 1", e.AttemptCount)
	}
	if e.LastError != "peer offline" {
		t.Errorf("last_error = %q", e.LastError)
	}
	// attempt 1 backs off at least 8s even at maximum negative jitter.
	if e.NextRetryAt < before+8000 {
		t.Errorf("next_retry_at = %d, want >= %d", e.NextRetryAt, before+8000)
	}

	due, _ := s.DueBatch(false)
	if len(due) != 0 {
		t.Error("freshly failed entry must not be due immediately")
	}
}

func TestRetryTimeNeverMovesEarlier(t *testing.T) {
	db := testDB(t)
	s := testScheduler(t, db)
	peer := testID(1)

	msg := &store.Message{RecipientID: peer, Body: "late"}
	if _, err := s.Enqueue(msg); err != nil {
		t.Fatal(err)
	}

	// Pretend the entry was already scheduled far in the future.
	far := time.Now().Add(2 * time.Hour).UnixMilli()
	if err := db.RecordOutboxFailure(msg.ID, 1, far, "x"); err != nil {
		t.Fatal(err)
	}
	e, _ := db.GetOutbox(msg.ID)
	if err := s.RecordFailure(e, errors.New("again")); err != nil {
		t.Fatal(err)
	}
	e, _ = db.GetOutbox(msg.ID)
	if e.NextRetryAt < far {
		t.Errorf("next_retry_at moved earlier: %d < %d", e.NextRetryAt, far)
	}
}

func TestRecordFailureAtCeilingFailsPermanently(t *testing.T) {
	db := testDB(t)
	s := testScheduler(t, db)
	peer := testID(1)

	msg := &store.Message{RecipientID: peer, Body: "doomed"}
	if _, err := s.Enqueue(msg); err != nil {
		t.Fatal(err)
	}
	e, _ := db.GetOutbox(msg.ID)
	e.AttemptCount = s.MaxAttempts() - 1

	if err := s.RecordFailure(e, errors.New("still offline")); err != nil {
		t.Fatal(err)
	}

	m, _ := db.GetMessage(msg.ID)
	if m.Status != store.StatusFailed {
		t.Errorf("message status = %q, want failed", m.Status)
	}
	due, _ := s.DueBatch(true)
	if len(due) != 0 {
		t.Error("permanently failed entry must never be due, even flushed")
	}

	n, err := s.PurgeFailed()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("purged %d, want 1", n)
	}
	if e, _ := db.GetOutbox(msg.ID); e != nil {
		t.Error("purge should remove the entry")
	}
}

func TestRecordSuccessClearsEntry(t *testing.T) {
	db := testDB(t)
	s := testScheduler(t, db)
	peer := testID(1)

	msg := &store.Message{RecipientID: peer, Body: "delivered"}
	if _, err := s.Enqueue(msg); err != nil {
		t.Fatal(err)
	}
	e, _ := db.GetOutbox(msg.ID)
	if err := s.RecordSuccess(e); err != nil {
		t.Fatal(err)
	}

	if e, _ := db.GetOutbox(msg.ID); e != nil {
		t.Error("entry should leave the queue on success")
	}
	m, _ := db.GetMessage(msg.ID)
	if m.Status != store.StatusSent {
		t.Errorf("message status = %q, want sent", m.Status)
	}
}

func TestEnqueuePublishesEvents(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	s := NewScheduler(db, b, zap.NewNop(), NewBackoff(0, 0), 0)
	ch, unsub := b.Subscribe("outbox.", 8)
	defer unsub()

	msg := &store.Message{RecipientID: testID(1), Body: "hi"}
	if _, err := s.Enqueue(msg); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-ch:
		if evt.Kind != "outbox.enqueued" {
			t.Errorf("kind = %q, want outbox.enqueued", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}
}
