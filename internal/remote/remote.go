// Package remote declares the contracts of the external collaborators the
// engine consumes: the real-time transport, the bulk-fetch REST client, the
// connectivity monitor, and the credential source. The engine owns none of
// these; the application shell supplies implementations.
package remote

import "context"

// OutgoingMessage is the payload handed to the transport for delivery.
type OutgoingMessage struct {
	Kind      string
	Content   string
	MediaURL  string
	ReplyToID string
}

// MessageRecord is a server-confirmed message in wire representation.
type MessageRecord struct {
	ServerID       string
	ConversationID string
	SenderID       string
	Kind           string
	Content        string
	MediaURL       string
	ReplyToID      string
	IsEdited       bool
	IsDeleted      bool
	ExpiresAt      int64
	CreatedAt      int64
}

// ParticipantRecord is a conversation member in wire representation.
type ParticipantRecord struct {
	UserID   string
	Role     string
	JoinedAt int64
}

// ConversationRecord is a conversation in wire representation.
type ConversationRecord struct {
	ServerID           string
	Kind               string
	Title              string
	AvatarURL          string
	LastMessagePreview string
	LastMessageAt      int64
	Participants       []ParticipantRecord
}

// UserRecord is a remote profile in wire representation.
type UserRecord struct {
	ServerID    string
	DisplayName string
	AvatarURL   string
	Phone       string
	Presence    string
	LastSeenAt  int64
}

// ReceiptRecord is a pushed read receipt.
type ReceiptRecord struct {
	MessageServerID string
	UserID          string
	ReadAt          int64
}

// PresenceRecord is a pushed presence change.
type PresenceRecord struct {
	UserID     string
	Presence   string
	LastSeenAt int64
}

// Transport delivers outbound messages over the real-time connection.
// Pushed server events (new/edited/deleted messages, receipts, presence)
// arrive on the event bus under the "push." namespace; implementations are
// responsible for publishing them there.
type Transport interface {
	// SendMessage delivers a message and returns the server-confirmed
	// record. Transient network failures return an error; the caller
	// leaves the queued mutation in place for the next run.
	SendMessage(ctx context.Context, conversationID string, msg OutgoingMessage) (*MessageRecord, error)
}

// BulkFetcher is the request/response collaborator used for bulk pulls.
type BulkFetcher interface {
	GetConversations(ctx context.Context) ([]ConversationRecord, error)
	GetMessages(ctx context.Context, conversationID string) ([]MessageRecord, error)
}

// Connectivity reports network reachability changes. Subscribe returns a
// channel delivering true for online and false for offline, plus an
// unsubscribe function.
type Connectivity interface {
	Online() bool
	Subscribe(bufSize int) (<-chan bool, func())
}

// Credentials supplies the access credential consumed by transport and
// bulk-fetch calls. The engine does not manage refresh.
type Credentials interface {
	AccessToken(ctx context.Context) (string, error)
}
