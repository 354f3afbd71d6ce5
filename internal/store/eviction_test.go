package store

import (
	"fmt"
	"testing"
)

func TestMessageEvictionKeepsNewest(t *testing.T) {
	caps := DefaultCaps()
	db := testDBWithCaps(t, caps)
	peer := testID(1)
	other := testID(2)

	// One more than capacity for peer, plus a message in another chat that
	// must be untouched.
	if err := db.PutMessage(&Message{ID: "other-1", SenderID: other, Body: "elsewhere", Timestamp: 1}); err != nil {
		t.Fatal(err)
	}
	total := caps.MessagesPerChat + 1
	for i := 0; i < total; i++ {
		msg := &Message{
			ID:        fmt.Sprintf("m-%04d", i),
			SenderID:  peer,
			Body:      fmt.Sprintf("body %d", i),
			Timestamp: int64(1000 + i),
		}
		if err := db.PutMessage(msg); err != nil {
			t.Fatal(err)
		}
	}

	count, err := db.MessageCount(peer)
	if err != nil {
		t.Fatal(err)
	}
	if count != caps.MessagesPerChat {
		t.Fatalf("count = %d, want exactly %d", count, caps.MessagesPerChat)
	}

	msgs, err := db.MessagesForChat(peer, 0, total)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != caps.MessagesPerChat {
		t.Fatalf("fetched %d, want %d", len(msgs), caps.MessagesPerChat)
	}
	// Newest first, and the oldest insert is the one that was evicted.
	if msgs[0].ID != fmt.Sprintf("m-%04d", total-1) {
		t.Errorf("newest = %s, want m-%04d", msgs[0].ID, total-1)
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].Timestamp > msgs[i-1].Timestamp {
			t.Fatalf("not sorted newest-first at index %d", i)
		}
	}
	if old, _ := db.GetMessage("m-0000"); old != nil {
		t.Error("oldest message should have been evicted")
	}

	// The other conversation is unaffected.
	if n, _ := db.MessageCount(other); n != 1 {
		t.Errorf("other chat count = %d, want 1", n)
	}
}

func TestContactEvictionDropsOldest(t *testing.T) {
	db := testDBWithCaps(t, Caps{Contacts: 3})

	for i := 0; i < 4; i++ {
		c := &Contact{
			Identity:    testID(i + 1),
			DisplayName: fmt.Sprintf("contact %d", i),
			AddedAt:     int64(100 + i),
		}
		if err := db.PutContact(c); err != nil {
			t.Fatal(err)
		}
	}

	count, err := db.ContactCount()
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Fatalf("count = %d, want 3", count)
	}
	if c, _ := db.GetContact(testID(1)); c != nil {
		t.Error("oldest contact (added_at=100) should have been evicted")
	}
	if c, _ := db.GetContact(testID(4)); c == nil {
		t.Error("newest contact should survive")
	}
}

func TestContactUpdateDoesNotEvict(t *testing.T) {
	db := testDBWithCaps(t, Caps{Contacts: 2})

	if err := db.PutContact(&Contact{Identity: testID(1), DisplayName: "a", AddedAt: 1}); err != nil {
		t.Fatal(err)
	}
	if err := db.PutContact(&Contact{Identity: testID(2), DisplayName: "b", AddedAt: 2}); err != nil {
		t.Fatal(err)
	}
	// Re-writing an existing contact at capacity is an update, not an insert.
	if err := db.PutContact(&Contact{Identity: testID(1), DisplayName: "a2", AddedAt: 1}); err != nil {
		t.Fatal(err)
	}

	count, _ := db.ContactCount()
	if count != 2 {
		t.Fatalf("count = %d, want 2 (update must not trigger eviction)", count)
	}
	c, _ := db.GetContact(testID(1))
	if c == nil || c.DisplayName != "a2" {
		t.Errorf("contact = %+v, want updated display name a2", c)
	}
}

func TestOutboxEvictionFailsEvictedMessage(t *testing.T) {
	caps := DefaultCaps()
	db := testDBWithCaps(t, caps)
	recipient := testID(1)

	// Every outbox entry is backed by a pending Message row.
	total := caps.OutboxPerRecipient + 1
	for i := 0; i < total; i++ {
		id := fmt.Sprintf("out-%04d", i)
		msg := &Message{
			ID: id, RecipientID: recipient, FromMe: true,
			Body: fmt.Sprintf("queued %d", i), Status: StatusPending,
			Timestamp: int64(1000 + i),
		}
		if err := db.PutMessage(msg); err != nil {
			t.Fatal(err)
		}
		evicted, err := db.InsertOutbox(&OutboxEntry{
			MessageID:   id,
			RecipientID: recipient,
			Body:        msg.Body,
			CreatedAt:   int64(1000 + i),
			NextRetryAt: int64(1000 + i),
		})
		if err != nil {
			t.Fatal(err)
		}
		if i < total-1 && evicted != "" {
			t.Fatalf("unexpected eviction of %s at insert %d", evicted, i)
		}
		if i == total-1 && evicted != "out-0000" {
			t.Fatalf("evicted = %q, want out-0000", evicted)
		}
	}

	count, err := db.OutboxCountForRecipient(recipient)
	if err != nil {
		t.Fatal(err)
	}
	if count != caps.OutboxPerRecipient {
		t.Fatalf("count = %d, want exactly %d", count, caps.OutboxPerRecipient)
	}
	if e, _ := db.GetOutbox("out-0000"); e != nil {
		t.Error("earliest-created entry should be gone")
	}
	// The evicted entry's message is marked failed, not silently dropped.
	m, err := db.GetMessage("out-0000")
	if err != nil {
		t.Fatal(err)
	}
	if m == nil {
		t.Fatal("evicted entry's message row must survive")
	}
	if m.Status != StatusFailed {
		t.Errorf("evicted message status = %q, want failed", m.Status)
	}
	// Other messages stay pending.
	if m, _ := db.GetMessage("out-0001"); m.Status != StatusPending {
		t.Errorf("surviving message status = %q, want pending", m.Status)
	}
}

func TestOutboxEvictionScopedPerRecipient(t *testing.T) {
	db := testDBWithCaps(t, Caps{OutboxPerRecipient: 2})
	a, b := testID(1), testID(2)

	for i := 0; i < 2; i++ {
		if _, err := db.InsertOutbox(&OutboxEntry{
			MessageID: fmt.Sprintf("a-%d", i), RecipientID: a, CreatedAt: int64(i),
		}); err != nil {
			t.Fatal(err)
		}
	}
	// Recipient b is empty; filling a to capacity must not touch b and
	// vice versa.
	evicted, err := db.InsertOutbox(&OutboxEntry{MessageID: "b-0", RecipientID: b, CreatedAt: 10})
	if err != nil {
		t.Fatal(err)
	}
	if evicted != "" {
		t.Fatalf("evicted %q from a different recipient's queue", evicted)
	}
	evicted, err = db.InsertOutbox(&OutboxEntry{MessageID: "a-2", RecipientID: a, CreatedAt: 11})
	if err != nil {
		t.Fatal(err)
	}
	if evicted != "a-0" {
		t.Fatalf("evicted = %q, want a-0", evicted)
	}
	if n, _ := db.OutboxCountForRecipient(b); n != 1 {
		t.Errorf("recipient b count = %d, want 1", n)
	}
}

func TestDueOutboxOrderingAndExclusion(t *testing.T) {
	db := testDB(t)
	peer := testID(1)

	entries := []OutboxEntry{
		{MessageID: "late", RecipientID: peer, CreatedAt: 1, NextRetryAt: 5000},
		{MessageID: "early", RecipientID: peer, CreatedAt: 2, NextRetryAt: 1000},
		{MessageID: "future", RecipientID: peer, CreatedAt: 3, NextRetryAt: 99000},
		{MessageID: "spent", RecipientID: peer, CreatedAt: 4, NextRetryAt: 0, AttemptCount: 10},
	}
	for i := range entries {
		if _, err := db.InsertOutbox(&entries[i]); err != nil {
			t.Fatal(err)
		}
	}

	due, err := db.DueOutbox(6000, 10, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 2 {
		t.Fatalf("due = %d entries, want 2", len(due))
	}
	if due[0].MessageID != "early" || due[1].MessageID != "late" {
		t.Errorf("order = [%s %s], want [early late]", due[0].MessageID, due[1].MessageID)
	}

	// Flush-now ignores the schedule but still skips spent entries.
	all, err := db.DueOutbox(6000, 10, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("flush batch = %d entries, want 3", len(all))
	}
	for _, e := range all {
		if e.MessageID == "spent" {
			t.Error("flush must not resurrect permanently failed entries")
		}
	}
}

func TestPurgeFailedOutbox(t *testing.T) {
	db := testDB(t)
	peer := testID(1)

	if _, err := db.InsertOutbox(&OutboxEntry{MessageID: "live", RecipientID: peer, CreatedAt: 1, AttemptCount: 3}); err != nil {
		t.Fatal(err)
	}
	if _, err := db.InsertOutbox(&OutboxEntry{MessageID: "dead", RecipientID: peer, CreatedAt: 2, AttemptCount: 10}); err != nil {
		t.Fatal(err)
	}

	n, err := db.PurgeFailedOutbox(10)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("purged %d, want 1", n)
	}
	if e, _ := db.GetOutbox("live"); e == nil {
		t.Error("entry below the attempt ceiling must survive purge")
	}
	if e, _ := db.GetOutbox("dead"); e != nil {
		t.Error("permanently failed entry should be purged")
	}
}

func TestTicketCapAndOnePerContact(t *testing.T) {
	db := testDBWithCaps(t, Caps{Tickets: 3})

	for i := 0; i < 4; i++ {
		ticket := &MatchTicket{
			ID:        fmt.Sprintf("t-%d", i),
			ContactID: testID(i + 1),
			Status:    TicketPending,
			CreatedAt: int64(100 + i),
		}
		if err := db.PutTicket(ticket); err != nil {
			t.Fatal(err)
		}
	}

	count, err := db.TicketCount()
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Fatalf("count = %d, want 3", count)
	}
	if tk, _ := db.TicketForContact(testID(1)); tk != nil {
		t.Error("oldest ticket should have been evicted")
	}

	// A second ticket for an existing contact replaces, never duplicates.
	if err := db.PutTicket(&MatchTicket{
		ID: "t-replay", ContactID: testID(4), Status: TicketMatched, CreatedAt: 500,
	}); err != nil {
		t.Fatal(err)
	}
	count, _ = db.TicketCount()
	if count != 3 {
		t.Fatalf("count after replace = %d, want 3", count)
	}
	tk, _ := db.TicketForContact(testID(4))
	if tk == nil || tk.Status != TicketMatched {
		t.Errorf("ticket = %+v, want matched status", tk)
	}
}
