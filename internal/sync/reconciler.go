package sync

import (
	"fmt"
	"time"

	"github.com/matheus3301/syncbox/internal/bus"
	"github.com/matheus3301/syncbox/internal/remote"
	"github.com/matheus3301/syncbox/internal/store"
	"go.uber.org/zap"
)

// Reconciler merges server-confirmed messages into the local store so that
// exactly one row survives per logical message: a confirmation either
// updates the row with the same server id, replaces a matching optimistic
// row, or inserts a new row.
type Reconciler struct {
	db     *store.DB
	bus    *bus.Bus
	selfID string
	logger *zap.Logger
}

// NewReconciler creates a reconciler. selfID is the local user's server id,
// used to tell own confirmations from other participants' messages.
func NewReconciler(db *store.DB, b *bus.Bus, selfID string, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{db: db, bus: b, selfID: selfID, logger: logger}
}

// ApplyConfirmed processes a server-confirmed message from a pushed event or
// a bulk pull.
func (r *Reconciler) ApplyConfirmed(rec *remote.MessageRecord) error {
	m := r.toStoreMessage(rec)

	existing, err := r.db.GetMessage(rec.ServerID)
	if err != nil {
		return fmt.Errorf("lookup message: %w", err)
	}
	if existing != nil {
		// Common case for pushed events about already-mirrored messages.
		if err := r.db.UpsertMessage(m); err != nil {
			return fmt.Errorf("upsert message: %w", err)
		}
		r.publish(bus.KindMessageUpserted, map[string]string{
			"conversation_id": rec.ConversationID,
			"server_id":       rec.ServerID,
		})
		return nil
	}

	cand, err := r.db.FindOptimisticCandidate(rec.ConversationID, rec.SenderID, rec.Kind, rec.Content)
	if err != nil {
		return fmt.Errorf("find optimistic candidate: %w", err)
	}
	if cand != nil {
		if err := r.db.PromoteOptimistic(cand.ServerID, m); err != nil {
			return fmt.Errorf("promote optimistic row: %w", err)
		}
		r.touchConversation(rec)
		r.publish(bus.KindMessageReconciled, map[string]string{
			"conversation_id": rec.ConversationID,
			"temp_id":         cand.ServerID,
			"server_id":       rec.ServerID,
		})
		return nil
	}

	if err := r.db.UpsertMessage(m); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if rec.SenderID != r.selfID {
		if err := r.db.IncrementUnread(rec.ConversationID); err != nil {
			r.logger.Error("failed to bump unread count", zap.Error(err), zap.String("conversation_id", rec.ConversationID))
		}
	}
	r.touchConversation(rec)
	r.publish(bus.KindMessageUpserted, map[string]string{
		"conversation_id": rec.ConversationID,
		"server_id":       rec.ServerID,
	})
	return nil
}

// ConfirmSend attaches a transport send-ack to its optimistic row. Unlike
// ApplyConfirmed, the temp id is known from the queued mutation, so no
// heuristic matching is involved.
func (r *Reconciler) ConfirmSend(tempID string, rec *remote.MessageRecord) error {
	m := r.toStoreMessage(rec)
	m.Status = store.StatusSent
	if err := r.db.PromoteOptimistic(tempID, m); err != nil {
		return fmt.Errorf("promote optimistic row: %w", err)
	}
	r.touchConversation(rec)
	r.publish(bus.KindMessageSendAck, map[string]string{
		"conversation_id": rec.ConversationID,
		"temp_id":         tempID,
		"server_id":       rec.ServerID,
	})
	r.publish(bus.KindMessageReconciled, map[string]string{
		"conversation_id": rec.ConversationID,
		"temp_id":         tempID,
		"server_id":       rec.ServerID,
	})
	return nil
}

// ApplyEdit applies a pushed message edit.
func (r *Reconciler) ApplyEdit(rec *remote.MessageRecord) error {
	if err := r.db.MarkMessageEdited(rec.ServerID, rec.Content); err != nil {
		return fmt.Errorf("mark edited: %w", err)
	}
	r.publish(bus.KindMessageUpserted, map[string]string{
		"conversation_id": rec.ConversationID,
		"server_id":       rec.ServerID,
	})
	return nil
}

// ApplyDelete applies a pushed message deletion.
func (r *Reconciler) ApplyDelete(rec *remote.MessageRecord) error {
	if err := r.db.MarkMessageDeleted(rec.ServerID); err != nil {
		return fmt.Errorf("mark deleted: %w", err)
	}
	r.publish(bus.KindMessageUpserted, map[string]string{
		"conversation_id": rec.ConversationID,
		"server_id":       rec.ServerID,
	})
	return nil
}

// ApplyReceipt records a pushed read receipt. Receipts for own messages also
// advance the message status to read.
func (r *Reconciler) ApplyReceipt(rec *remote.ReceiptRecord) error {
	applied, err := r.db.ApplyReceipt(rec.MessageServerID, rec.UserID, rec.ReadAt)
	if err != nil {
		return fmt.Errorf("apply receipt: %w", err)
	}
	if !applied {
		r.logger.Debug("receipt for unmirrored message dropped", zap.String("message_id", rec.MessageServerID))
		return nil
	}
	msg, err := r.db.GetMessage(rec.MessageServerID)
	if err != nil {
		return err
	}
	if msg != nil && msg.SenderID == r.selfID && rec.UserID != r.selfID {
		if err := r.db.UpdateMessageStatus(rec.MessageServerID, store.StatusRead); err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		r.publish(bus.KindMessageUpserted, map[string]string{
			"conversation_id": msg.ConversationID,
			"server_id":       msg.ServerID,
		})
	}
	return nil
}

// ApplyPresence applies a pushed presence change, independent of full sync.
func (r *Reconciler) ApplyPresence(rec *remote.PresenceRecord) error {
	if err := r.db.UpdatePresence(rec.UserID, rec.Presence, rec.LastSeenAt); err != nil {
		return fmt.Errorf("update presence: %w", err)
	}
	r.publish(bus.KindPresenceChanged, map[string]string{
		"user_id":  rec.UserID,
		"presence": rec.Presence,
	})
	return nil
}

func (r *Reconciler) toStoreMessage(rec *remote.MessageRecord) *store.Message {
	msgStatus := store.StatusDelivered
	if rec.SenderID == r.selfID {
		msgStatus = store.StatusSent
	}
	return &store.Message{
		ServerID:       rec.ServerID,
		ConversationID: rec.ConversationID,
		SenderID:       rec.SenderID,
		Kind:           rec.Kind,
		Content:        rec.Content,
		MediaURL:       rec.MediaURL,
		ReplyToID:      rec.ReplyToID,
		Status:         msgStatus,
		IsEdited:       rec.IsEdited,
		IsDeleted:      rec.IsDeleted,
		ExpiresAt:      rec.ExpiresAt,
		CreatedAt:      rec.CreatedAt,
	}
}

func (r *Reconciler) touchConversation(rec *remote.MessageRecord) {
	if err := r.db.TouchConversation(rec.ConversationID, truncate(rec.Content, 100), rec.CreatedAt); err != nil {
		r.logger.Error("failed to touch conversation", zap.Error(err), zap.String("conversation_id", rec.ConversationID))
	}
}

func (r *Reconciler) publish(kind string, payload any) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
