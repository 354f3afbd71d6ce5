package bus

import "time"

// Event represents a domain event published on the bus.
//
// Kind namespaces used by the daemon:
//
//	peer.*    decoded inbound envelopes from the transport
//	message.* store-level message changes
//	outbox.*  retry scheduler activity
//	notify.*  notification-worthy events (new message, contact added,
//	          match found) consumed by the notification layer
//	node.*    node status transitions
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
