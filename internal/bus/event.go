package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published by the engine. Subscribers filter by namespace
// prefix, e.g. "message." receives every message event.
const (
	KindMessageUpserted   = "message.upserted"
	KindMessageReconciled = "message.reconciled"
	KindMessageSendAck    = "message.send_ack"
	KindMessageSendFailed = "message.send_failed"

	KindConversationUpserted = "conversation.upserted"

	KindSyncStatusChanged = "sync.status_changed"
	KindSyncCompleted     = "sync.completed"
	KindSyncFailed        = "sync.failed"

	KindPresenceChanged = "presence.changed"
)

// Event kinds published by the transport collaborator for pushed server
// events. The sync orchestrator subscribes to "push." and routes these
// through reconciliation.
const (
	KindPushMessage        = "push.message"
	KindPushMessageEdited  = "push.message_edited"
	KindPushMessageDeleted = "push.message_deleted"
	KindPushReceipt        = "push.receipt"
	KindPushPresence       = "push.presence"
)
