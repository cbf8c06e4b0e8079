// Package projector maintains an in-memory view of the local store for UI
// consumption: the conversation list ordered by most recent activity and a
// lazily loaded message timeline per opened conversation. The view merges
// optimistic and confirmed rows because the store itself does; the projector
// only mirrors and notifies.
package projector

import (
	"context"
	"sync"

	"github.com/matheus3301/syncbox/internal/bus"
	"github.com/matheus3301/syncbox/internal/store"
	"go.uber.org/zap"
)

const defaultPageSize = 50

// Projector mirrors the store into snapshots that are cheap to read from a
// UI thread. Snapshots are copies; callers may retain them freely.
type Projector struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger

	mu            sync.RWMutex
	conversations []store.Conversation
	messages      map[string][]store.Message
	subscribers   map[int]chan struct{}
	nextSub       int

	cancel context.CancelFunc
}

// New creates a projector over the given store.
func New(db *store.DB, b *bus.Bus, logger *zap.Logger) *Projector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Projector{
		db:          db,
		bus:         b,
		logger:      logger,
		messages:    map[string][]store.Message{},
		subscribers: map[int]chan struct{}{},
	}
}

// Start loads the initial conversation list and begins applying store
// changes announced on the bus.
func (p *Projector) Start(ctx context.Context) error {
	ctx, p.cancel = context.WithCancel(ctx)
	if err := p.refreshConversations(); err != nil {
		return err
	}

	msgCh, unsubMsg := p.bus.Subscribe("message.", 256)
	convCh, unsubConv := p.bus.Subscribe("conversation.", 64)

	go func() {
		defer unsubMsg()
		defer unsubConv()
		for {
			select {
			case evt := <-msgCh:
				p.apply(evt)
			case evt := <-convCh:
				p.apply(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

// Stop halts event processing. Snapshots remain readable.
func (p *Projector) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
}

// Conversations returns the current conversation list, pinned first, then
// most recent activity first.
func (p *Projector) Conversations() []store.Conversation {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]store.Conversation, len(p.conversations))
	copy(out, p.conversations)
	return out
}

// Messages returns the loaded timeline for a conversation, newest first.
// Returns nil for a conversation that has not been opened.
func (p *Projector) Messages(conversationID string) []store.Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	msgs, ok := p.messages[conversationID]
	if !ok {
		return nil
	}
	out := make([]store.Message, len(msgs))
	copy(out, msgs)
	return out
}

// Open loads a conversation's timeline into the projection. Subsequent store
// changes for that conversation keep the timeline current until Close.
func (p *Projector) Open(conversationID string) error {
	msgs, err := p.db.ListMessages(conversationID, 0, defaultPageSize)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.messages[conversationID] = msgs
	p.mu.Unlock()
	p.notifyAll()
	return nil
}

// Close drops a conversation's timeline from the projection.
func (p *Projector) Close(conversationID string) {
	p.mu.Lock()
	delete(p.messages, conversationID)
	p.mu.Unlock()
}

// Subscribe returns a channel that receives a signal whenever a snapshot
// changed. Signals are coalesced; read the snapshots for the actual state.
func (p *Projector) Subscribe() (<-chan struct{}, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSub
	p.nextSub++
	ch := make(chan struct{}, 1)
	p.subscribers[id] = ch
	return ch, func() {
		p.mu.Lock()
		delete(p.subscribers, id)
		p.mu.Unlock()
	}
}

func (p *Projector) apply(evt bus.Event) {
	changed := false
	if err := p.refreshConversations(); err != nil {
		p.logger.Error("failed to refresh conversation view", zap.Error(err))
	} else {
		changed = true
	}

	if payload, ok := evt.Payload.(map[string]string); ok {
		if convID := payload["conversation_id"]; convID != "" && p.isOpen(convID) {
			msgs, err := p.db.ListMessages(convID, 0, defaultPageSize)
			if err != nil {
				p.logger.Error("failed to refresh timeline", zap.Error(err), zap.String("conversation_id", convID))
			} else {
				p.mu.Lock()
				p.messages[convID] = msgs
				p.mu.Unlock()
				changed = true
			}
		}
	}
	if changed {
		p.notifyAll()
	}
}

func (p *Projector) isOpen(conversationID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.messages[conversationID]
	return ok
}

func (p *Projector) refreshConversations() error {
	convs, err := p.db.ListConversations(200, 0)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.conversations = convs
	p.mu.Unlock()
	return nil
}

func (p *Projector) notifyAll() {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, ch := range p.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
