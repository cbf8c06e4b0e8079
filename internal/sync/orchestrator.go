// Package sync contains the background coordinator that keeps the local
// store consistent with the server: it observes connectivity, drains the
// durable mutation queue through the transport, bulk-pulls conversations,
// and routes pushed events through reconciliation.
package sync

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/matheus3301/syncbox/internal/bus"
	"github.com/matheus3301/syncbox/internal/mutation"
	"github.com/matheus3301/syncbox/internal/remote"
	"github.com/matheus3301/syncbox/internal/status"
	"github.com/matheus3301/syncbox/internal/store"
	"go.uber.org/zap"
)

// DefaultDebounce is the quiet period between a connectivity restore and the
// sync it schedules, coalescing bursts on flapping networks.
const DefaultDebounce = 5 * time.Second

// Deps collects the orchestrator's collaborators.
type Deps struct {
	DB           *store.DB
	Transport    remote.Transport
	Fetcher      remote.BulkFetcher
	Connectivity remote.Connectivity
	Credentials  remote.Credentials
	Machine      *status.Machine
	Reconciler   *Reconciler
	Bus          *bus.Bus
	Logger       *zap.Logger
	Debounce     time.Duration
}

// Orchestrator coordinates sync runs. At most one run is in flight at any
// time; a concurrent trigger is a no-op, not a parallel run.
type Orchestrator struct {
	db        *store.DB
	transport remote.Transport
	fetcher   remote.BulkFetcher
	conn      remote.Connectivity
	creds     remote.Credentials
	machine   *status.Machine
	rec       *Reconciler
	bus       *bus.Bus
	logger    *zap.Logger
	debounce  time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	syncing atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewOrchestrator creates a sync orchestrator from its dependencies.
func NewOrchestrator(d Deps) *Orchestrator {
	if d.Debounce <= 0 {
		d.Debounce = DefaultDebounce
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Orchestrator{
		db:        d.DB,
		transport: d.Transport,
		fetcher:   d.Fetcher,
		conn:      d.Connectivity,
		creds:     d.Credentials,
		machine:   d.Machine,
		rec:       d.Reconciler,
		bus:       d.Bus,
		logger:    d.Logger,
		debounce:  d.Debounce,
	}
}

// Start subscribes to connectivity changes and pushed server events. If the
// network is already up, the state machine leaves Offline and an initial
// sync is scheduled.
func (o *Orchestrator) Start(ctx context.Context) {
	ctx, o.cancel = context.WithCancel(ctx)
	o.ctx = ctx

	connCh, unsubConn := o.conn.Subscribe(16)
	pushCh, unsubPush := o.bus.Subscribe("push.", 256)

	if o.conn.Online() {
		_ = o.machine.Transition(status.Idle)
		o.scheduleDebounced()
	}

	go func() {
		defer unsubConn()
		defer unsubPush()
		for {
			select {
			case online := <-connCh:
				o.handleConnectivity(online)
			case evt := <-pushCh:
				o.handlePush(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the background loop and any pending debounce timer.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	o.mu.Lock()
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
	o.mu.Unlock()
}

func (o *Orchestrator) handleConnectivity(online bool) {
	if online {
		if o.machine.Current() == status.Offline {
			_ = o.machine.Transition(status.Idle)
		}
		// Debounced rather than immediate: repeated reconnects reset the
		// timer so a flapping network coalesces into one run.
		o.scheduleDebounced()
		return
	}
	o.mu.Lock()
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
	o.mu.Unlock()
	_ = o.machine.Transition(status.Offline)
}

func (o *Orchestrator) scheduleDebounced() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.timer != nil {
		o.timer.Stop()
	}
	o.timer = time.AfterFunc(o.debounce, o.RequestSync)
}

// RequestSync triggers a sync run now (explicit request, app foreground, or
// a debounce firing). It is a no-op while offline or while a run is already
// in flight.
func (o *Orchestrator) RequestSync() {
	if o.machine.Current() == status.Offline {
		return
	}
	if !o.syncing.CompareAndSwap(false, true) {
		return
	}
	ctx := o.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	go o.run(ctx)
}

func (o *Orchestrator) run(ctx context.Context) {
	defer o.syncing.Store(false)

	if err := o.machine.Transition(status.Syncing); err != nil {
		// Connectivity dropped between the trigger and the run.
		return
	}

	err := o.runOnce(ctx)
	if err != nil {
		o.logger.Warn("sync run failed", zap.Error(err))
		_ = o.machine.Transition(status.Error)
		o.publish(bus.KindSyncFailed, map[string]string{"error": err.Error()})
		return
	}
	_ = o.machine.Transition(status.Idle)
	o.publish(bus.KindSyncCompleted, nil)
}

func (o *Orchestrator) runOnce(ctx context.Context) error {
	if o.creds != nil {
		if _, err := o.creds.AccessToken(ctx); err != nil {
			return fmt.Errorf("no valid credential: %w", err)
		}
	}
	drainErr := o.drainQueue(ctx)
	pullErr := o.pullConversations(ctx)
	if drainErr != nil {
		return drainErr
	}
	return pullErr
}

// drainQueue delivers pending mutations oldest-first per entity type. A
// transport failure stops the drain for that entity type so later entries
// never overtake an earlier one; the failed entry stays queued for the next
// run. Backoff between runs comes from the debounce interval, not from
// retries inside a run.
func (o *Orchestrator) drainQueue(ctx context.Context) error {
	types, err := o.db.MutationEntityTypes()
	if err != nil {
		return fmt.Errorf("list mutation types: %w", err)
	}

	var firstErr error
	for _, entityType := range types {
		if err := o.drainType(ctx, entityType); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// drainType delivers one entity type's queue oldest-first and stops at the
// first transport failure so later entries never overtake an earlier one.
func (o *Orchestrator) drainType(ctx context.Context, entityType string) error {
	pending, err := o.db.PendingMutations(entityType)
	if err != nil {
		return fmt.Errorf("read mutation queue: %w", err)
	}
	for _, m := range pending {
		decoded, err := mutation.Decode(m.EntityType, m.Action, m.Payload)
		if err != nil {
			// Malformed payloads are rejected at dequeue time, not
			// retried forever.
			o.logger.Error("dropping malformed mutation", zap.Error(err), zap.Int64("id", m.ID))
			_ = o.db.DeleteMutation(m.ID)
			continue
		}
		switch p := decoded.(type) {
		case *mutation.CreateMessage:
			if err := o.deliverCreate(ctx, m, p); err != nil {
				return err
			}
		}
	}
	return nil
}

func (o *Orchestrator) deliverCreate(ctx context.Context, m store.Mutation, p *mutation.CreateMessage) error {
	confirmed, err := o.transport.SendMessage(ctx, p.ConversationID, remote.OutgoingMessage{
		Kind:      p.Kind,
		Content:   p.Content,
		MediaURL:  p.MediaURL,
		ReplyToID: p.ReplyToID,
	})
	if err != nil {
		_ = o.db.BumpMutationRetry(m.ID)
		if serr := o.db.UpdateMessageStatus(p.TempID, store.StatusFailed); serr != nil {
			o.logger.Error("failed to mark message failed", zap.Error(serr), zap.String("temp_id", p.TempID))
		}
		o.publish(bus.KindMessageSendFailed, map[string]string{
			"conversation_id": p.ConversationID,
			"temp_id":         p.TempID,
			"error":           err.Error(),
		})
		return fmt.Errorf("send message %s: %w", p.TempID, err)
	}

	if err := o.rec.ConfirmSend(p.TempID, confirmed); err != nil {
		return fmt.Errorf("reconcile send ack: %w", err)
	}
	// ConfirmSend already dropped queue entries for the temp id; this is a
	// no-op unless the entry was re-queued concurrently.
	_ = o.db.DeleteMutation(m.ID)
	o.logger.Info("queued message delivered",
		zap.String("temp_id", p.TempID),
		zap.String("server_id", confirmed.ServerID))
	return nil
}

// pullConversations bulk-fetches the conversation list and upserts it.
// Per-conversation history is pulled lazily via PullMessages when a
// conversation is opened, not here.
func (o *Orchestrator) pullConversations(ctx context.Context) error {
	records, err := o.fetcher.GetConversations(ctx)
	if err != nil {
		return fmt.Errorf("fetch conversations: %w", err)
	}
	for i := range records {
		rec := &records[i]
		if err := o.db.UpsertConversation(&store.Conversation{
			ServerID:           rec.ServerID,
			Kind:               rec.Kind,
			Title:              rec.Title,
			AvatarURL:          rec.AvatarURL,
			LastMessagePreview: rec.LastMessagePreview,
			LastMessageAt:      rec.LastMessageAt,
		}); err != nil {
			return fmt.Errorf("upsert conversation %q: %w", rec.ServerID, err)
		}
		if len(rec.Participants) > 0 {
			parts := make([]store.Participant, 0, len(rec.Participants))
			for _, p := range rec.Participants {
				parts = append(parts, store.Participant{UserID: p.UserID, Role: p.Role, JoinedAt: p.JoinedAt})
			}
			if err := o.db.ReplaceParticipants(rec.ServerID, parts); err != nil {
				return fmt.Errorf("replace participants for %q: %w", rec.ServerID, err)
			}
		}
		o.publish(bus.KindConversationUpserted, map[string]string{"conversation_id": rec.ServerID})
	}
	o.logger.Info("conversations pulled", zap.Int("count", len(records)))
	return nil
}

// PullMessages lazily fetches and reconciles the message history for one
// conversation. Called when a conversation is opened to bound sync cost.
func (o *Orchestrator) PullMessages(ctx context.Context, conversationID string) error {
	records, err := o.fetcher.GetMessages(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("fetch messages for %q: %w", conversationID, err)
	}
	for i := range records {
		if err := o.rec.ApplyConfirmed(&records[i]); err != nil {
			return fmt.Errorf("reconcile message %q: %w", records[i].ServerID, err)
		}
	}
	o.logger.Info("conversation history pulled",
		zap.String("conversation_id", conversationID),
		zap.Int("count", len(records)))
	return nil
}

func (o *Orchestrator) handlePush(evt bus.Event) {
	var err error
	switch evt.Kind {
	case bus.KindPushMessage:
		if rec, ok := evt.Payload.(*remote.MessageRecord); ok {
			err = o.rec.ApplyConfirmed(rec)
		}
	case bus.KindPushMessageEdited:
		if rec, ok := evt.Payload.(*remote.MessageRecord); ok {
			err = o.rec.ApplyEdit(rec)
		}
	case bus.KindPushMessageDeleted:
		if rec, ok := evt.Payload.(*remote.MessageRecord); ok {
			err = o.rec.ApplyDelete(rec)
		}
	case bus.KindPushReceipt:
		if rec, ok := evt.Payload.(*remote.ReceiptRecord); ok {
			err = o.rec.ApplyReceipt(rec)
		}
	case bus.KindPushPresence:
		if rec, ok := evt.Payload.(*remote.PresenceRecord); ok {
			err = o.rec.ApplyPresence(rec)
		}
	}
	if err != nil {
		o.logger.Error("failed to process pushed event", zap.Error(err), zap.String("kind", evt.Kind))
	}
}

func (o *Orchestrator) publish(kind string, payload any) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
