// Package mutation defines the closed set of payload variants carried by
// queued mutations. Each entity-type/action pair maps to exactly one typed
// payload; malformed or unknown payloads are rejected when the queue is
// drained, not at some arbitrary downstream use.
package mutation

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/matheus3301/syncbox/internal/tempid"
)

// Entity types referenced by queued mutations.
const (
	EntityMessage = "message"
)

// Actions a queued mutation can carry.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// ErrUnknownMutation is returned when the entity-type/action pair has no
// registered payload variant.
var ErrUnknownMutation = errors.New("unknown mutation variant")

// CreateMessage is the payload for a queued message send. It captures
// everything needed to resend after a process restart.
type CreateMessage struct {
	TempID         string `json:"temp_id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	Kind           string `json:"kind"`
	Content        string `json:"content"`
	MediaURL       string `json:"media_url,omitempty"`
	ReplyToID      string `json:"reply_to_id,omitempty"`
}

// Validate checks the payload is complete enough to resend.
func (p *CreateMessage) Validate() error {
	if !tempid.Is(p.TempID) {
		return fmt.Errorf("temp_id %q is not in the temp-id namespace", p.TempID)
	}
	if p.ConversationID == "" {
		return errors.New("conversation_id is empty")
	}
	if p.SenderID == "" {
		return errors.New("sender_id is empty")
	}
	if p.Kind == "" {
		return errors.New("kind is empty")
	}
	return nil
}

// Encode serializes a payload for storage in the mutation queue.
func Encode(p *CreateMessage) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("encode create-message payload: %w", err)
	}
	return json.Marshal(p)
}

// Decode parses and validates a stored payload for the given entity-type and
// action. Returns ErrUnknownMutation for pairs outside the closed set.
func Decode(entityType, action string, payload []byte) (any, error) {
	switch {
	case entityType == EntityMessage && action == ActionCreate:
		var p CreateMessage
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("decode create-message payload: %w", err)
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("invalid create-message payload: %w", err)
		}
		return &p, nil
	default:
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownMutation, entityType, action)
	}
}
