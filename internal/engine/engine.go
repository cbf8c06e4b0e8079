// Package engine is the embedding surface: it composes the store, mutation
// queue, sync orchestrator, media cache, and projector behind one facade a
// host application drives.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/matheus3301/syncbox/internal/bus"
	"github.com/matheus3301/syncbox/internal/media"
	"github.com/matheus3301/syncbox/internal/mutation"
	"github.com/matheus3301/syncbox/internal/projector"
	"github.com/matheus3301/syncbox/internal/status"
	"github.com/matheus3301/syncbox/internal/store"
	intsync "github.com/matheus3301/syncbox/internal/sync"
	"github.com/matheus3301/syncbox/internal/tempid"
	"go.uber.org/zap"
)

// OutgoingMessage describes a message the local user is sending.
type OutgoingMessage struct {
	ConversationID string
	Kind           string
	Content        string
	MediaURL       string
	ReplyToID      string
}

// Engine ties the subsystems together. All writes go through the store so
// the optimistic rows, queue entries, and projections stay consistent.
type Engine struct {
	db      *store.DB
	orch    *intsync.Orchestrator
	cache   *media.Cache
	proj    *projector.Projector
	machine *status.Machine
	bus     *bus.Bus
	selfID  string
	logger  *zap.Logger
}

// New creates an engine facade over already-constructed subsystems.
func New(db *store.DB, orch *intsync.Orchestrator, cache *media.Cache, proj *projector.Projector, machine *status.Machine, b *bus.Bus, selfID string, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:      db,
		orch:    orch,
		cache:   cache,
		proj:    proj,
		machine: machine,
		bus:     b,
		selfID:  selfID,
		logger:  logger,
	}
}

// SendMessage stores the message optimistically and queues it for delivery.
// It returns the temporary id immediately; delivery happens on the next sync
// run. Works identically online and offline.
func (e *Engine) SendMessage(msg OutgoingMessage) (string, error) {
	tid := tempid.New()
	create := &mutation.CreateMessage{
		TempID:         tid,
		ConversationID: msg.ConversationID,
		SenderID:       e.selfID,
		Kind:           msg.Kind,
		Content:        msg.Content,
		MediaURL:       msg.MediaURL,
		ReplyToID:      msg.ReplyToID,
	}
	if err := create.Validate(); err != nil {
		return "", err
	}
	payload, err := mutation.Encode(create)
	if err != nil {
		return "", err
	}

	now := time.Now().UnixMilli()
	row := &store.Message{
		ServerID:       tid,
		ConversationID: msg.ConversationID,
		SenderID:       e.selfID,
		Kind:           msg.Kind,
		Content:        msg.Content,
		MediaURL:       msg.MediaURL,
		ReplyToID:      msg.ReplyToID,
		Status:         store.StatusSending,
		CreatedAt:      now,
	}
	if err := e.db.SaveOptimistic(row, mutation.EntityMessage, mutation.ActionCreate, payload); err != nil {
		return "", fmt.Errorf("save optimistic message: %w", err)
	}
	if err := e.db.TouchConversation(msg.ConversationID, preview(msg.Content), now); err != nil {
		e.logger.Error("failed to touch conversation", zap.Error(err), zap.String("conversation_id", msg.ConversationID))
	}
	e.publish(bus.KindMessageUpserted, map[string]string{
		"conversation_id": msg.ConversationID,
		"server_id":       tid,
	})

	e.orch.RequestSync()
	return tid, nil
}

// RetryMessage re-queues a failed optimistic message for the next sync run.
func (e *Engine) RetryMessage(tempID string) error {
	if !tempid.Is(tempID) {
		return fmt.Errorf("retry: %q is not a pending message", tempID)
	}
	msg, err := e.db.GetMessage(tempID)
	if err != nil {
		return err
	}
	if msg == nil {
		return fmt.Errorf("retry: message %q not found", tempID)
	}
	if err := e.db.UpdateMessageStatus(tempID, store.StatusSending); err != nil {
		return err
	}
	e.publish(bus.KindMessageUpserted, map[string]string{
		"conversation_id": msg.ConversationID,
		"server_id":       tempID,
	})
	e.orch.RequestSync()
	return nil
}

// DiscardMessage drops a failed optimistic message and its queue entry so
// it will never be delivered.
func (e *Engine) DiscardMessage(tempID string) error {
	if !tempid.Is(tempID) {
		return fmt.Errorf("discard: %q is not a pending message", tempID)
	}
	msg, err := e.db.GetMessage(tempID)
	if err != nil {
		return err
	}
	if msg == nil {
		return nil
	}
	if err := e.db.DeleteMessage(tempID); err != nil {
		return err
	}
	e.publish(bus.KindMessageUpserted, map[string]string{
		"conversation_id": msg.ConversationID,
		"server_id":       tempID,
	})
	return nil
}

// OpenConversation loads the conversation timeline into the projection,
// clears its unread count, and pulls fresh history in the background when
// the network allows.
func (e *Engine) OpenConversation(ctx context.Context, conversationID string) error {
	if err := e.proj.Open(conversationID); err != nil {
		return err
	}
	if err := e.db.ResetUnread(conversationID); err != nil {
		e.logger.Error("failed to reset unread count", zap.Error(err), zap.String("conversation_id", conversationID))
	}
	if e.machine.Current() != status.Offline {
		go func() {
			if err := e.orch.PullMessages(ctx, conversationID); err != nil {
				e.logger.Warn("history pull failed", zap.Error(err), zap.String("conversation_id", conversationID))
			}
		}()
	}
	return nil
}

// CloseConversation drops the conversation timeline from the projection.
func (e *Engine) CloseConversation(conversationID string) {
	e.proj.Close(conversationID)
}

// CacheMedia ensures a message's media is on disk and records the local
// path on the message row. Returns the local path.
func (e *Engine) CacheMedia(ctx context.Context, messageServerID string, progress media.ProgressFunc) (string, error) {
	msg, err := e.db.GetMessage(messageServerID)
	if err != nil {
		return "", err
	}
	if msg == nil {
		return "", fmt.Errorf("cache media: message %q not found", messageServerID)
	}
	if msg.MediaURL == "" {
		return "", fmt.Errorf("cache media: message %q has no media", messageServerID)
	}
	path, err := e.cache.CacheFile(ctx, msg.MediaURL, progress)
	if err != nil {
		return "", err
	}
	if err := e.db.UpdateLocalMediaPath(messageServerID, path); err != nil {
		return "", err
	}
	e.publish(bus.KindMessageUpserted, map[string]string{
		"conversation_id": msg.ConversationID,
		"server_id":       messageServerID,
	})
	return path, nil
}

// RequestSync asks the orchestrator for an immediate sync run.
func (e *Engine) RequestSync() {
	e.orch.RequestSync()
}

// Status returns the current sync state.
func (e *Engine) Status() status.State {
	return e.machine.Current()
}

// Projector exposes the read-side snapshots.
func (e *Engine) Projector() *projector.Projector {
	return e.proj
}

// Events subscribes to engine events under the given namespace prefix.
func (e *Engine) Events(namespace string, bufSize int) (<-chan bus.Event, func()) {
	return e.bus.Subscribe(namespace, bufSize)
}

// Logout wipes the local store and media cache. Each step runs even if an
// earlier one fails; the first error is returned.
func (e *Engine) Logout() error {
	e.orch.Stop()
	_ = e.machine.Transition(status.Offline)

	wipeErr := e.db.Wipe()
	if wipeErr != nil {
		e.logger.Error("store wipe failed", zap.Error(wipeErr))
	}
	clearErr := e.cache.Clear()
	if clearErr != nil {
		e.logger.Error("media cache clear failed", zap.Error(clearErr))
	}
	e.logger.Info("logout completed")
	if wipeErr != nil {
		return wipeErr
	}
	return clearErr
}

func (e *Engine) publish(kind string, payload any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

func preview(s string) string {
	if len(s) <= 100 {
		return s
	}
	return s[:100]
}
