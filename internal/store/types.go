package store

// Message status values. A row moves sending -> sent -> delivered -> read,
// or sending -> failed when the transport gives up for the current run.
const (
	StatusSending   = "sending"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusFailed    = "failed"
)

// Conversation kinds.
const (
	KindDirect = "direct"
	KindGroup  = "group"
)

// User mirrors a remote profile. Presence is updated independently of full
// sync.
type User struct {
	ID          int64
	ServerID    string
	DisplayName string
	AvatarURL   string
	Phone       string
	Presence    string
	LastSeenAt  int64
}

// Conversation mirrors a remote conversation. UnreadCount, IsMuted and
// IsPinned are client-maintained and never overwritten by a server upsert.
type Conversation struct {
	ID                 int64
	ServerID           string
	Kind               string
	Title              string
	AvatarURL          string
	LastMessagePreview string
	LastMessageAt      int64
	UnreadCount        int
	IsMuted            bool
	IsPinned           bool
	IsDeleted          bool
	DeletedAt          int64
}

// Participant is a conversation member. Participant rows are fully replaced
// on each conversation sync.
type Participant struct {
	ID             int64
	ConversationID int64
	UserID         string
	Role           string
	JoinedAt       int64
}

// Message mirrors a remote message, or holds a provisional optimistic row
// whose ServerID is still in the temp-id namespace.
type Message struct {
	ID             int64
	ServerID       string
	ConversationID string
	SenderID       string
	Kind           string
	Content        string
	MediaURL       string
	MediaLocalPath string
	ReplyToID      string
	Status         string
	IsEdited       bool
	IsDeleted      bool
	ExpiresAt      int64
	CreatedAt      int64
}

// Receipt records that a user has read a message. One row per
// (message, user).
type Receipt struct {
	ID        int64
	MessageID int64
	UserID    string
	ReadAt    int64
}

// Contact mirrors a remote contact-list entry.
type Contact struct {
	ID            int64
	ServerID      string
	UserID        string
	ContactUserID string
	Nickname      string
	IsBlocked     bool
	IsFavorite    bool
}

// CachedMedia indexes one downloaded file on disk, keyed by source URL so
// identical media shared across messages is fetched once.
type CachedMedia struct {
	URL            string
	LocalPath      string
	MimeType       string
	SizeBytes      int64
	CachedAt       int64
	LastAccessedAt int64
}

// Mutation is one pending outbound operation in the durable queue.
// EntityID references the local row being mutated (a temp id for creates).
type Mutation struct {
	ID          int64
	EntityType  string
	EntityID    string
	Action      string
	Payload     []byte
	RetryCount  int
	LastRetryAt int64
	CreatedAt   int64
}
