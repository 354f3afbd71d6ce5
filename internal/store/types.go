package store

// Message status lifecycle values.
const (
	StatusPending   = "pending"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusFailed    = "failed"
)

// Message content types.
const (
	TypeText        = "text"
	TypeImage       = "image"
	TypeVideo       = "video"
	TypeAudio       = "audio"
	TypeDocument    = "document"
	TypeLocation    = "location"
	TypeContactCard = "contact"
	TypeGroupInvite = "groupInvite"
)

// Outbox entry kinds. Chat entries reference a stored Message; control
// entries carry a handshake payload and have no Message row.
const (
	KindChat           = "chat"
	KindContactRequest = "contact_request"
	KindContactAccept  = "contact_accept"
	KindVibeCommit     = "vibe_commit"
	KindVibeReveal     = "vibe_reveal"
)

// Match ticket lifecycle values.
const (
	TicketPending  = "pending"
	TicketReceived = "received"
	TicketMatched  = "matched"
	TicketSkipped  = "skipped"
)

// Message is a stored chat message. ChatID scopes per-conversation
// eviction: the group id when set, otherwise the peer the conversation is
// with. The frank fields are opaque abuse-report blobs, never transmitted.
type Message struct {
	ID          string
	ChatID      string
	SenderID    string
	RecipientID string
	GroupID     string
	Body        string
	Type        string
	Status      string
	FromMe      bool
	ReplyToID   string

	MediaURL  string
	MediaMIME string
	MediaSize int64

	FrankTag           []byte
	FrankKeyCommitment []byte
	FrankKey           []byte

	Timestamp int64
}

// Contact is a known peer, keyed by canonical lowercase identity.
type Contact struct {
	Identity    string
	DisplayName string
	AvatarURL   string
	Status      string
	AddedAt     int64
	IsBlocked   bool
	IsFavorite  bool
}

// ChatPreview is the one-row-per-peer conversation summary.
type ChatPreview struct {
	PeerID          string
	LastMessage     string
	LastMessageTime int64
	UnreadCount     int
	IsPinned        bool
	IsFromMe        bool
	IsDelivered     bool
	IsRead          bool
}

// OutboxEntry is a queued send awaiting delivery or retry.
type OutboxEntry struct {
	MessageID    string
	RecipientID  string
	Kind         string
	Body         string
	Payload      []byte
	CreatedAt    int64
	NextRetryAt  int64
	AttemptCount int
	LastError    string
}

// MatchTicket is one side of a commit-reveal vibe exchange.
type MatchTicket struct {
	ID              string
	ContactID       string
	Status          string
	OurCommitment   []byte
	OurSecret       []byte
	TheirCommitment []byte
	MatchToken      []byte
	CreatedAt       int64
	MatchedAt       int64
}

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	Message Message
	Snippet string
}
