package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"farmlink/pkg/domain"
)

const channelPrefix = "conversation:"

// MembershipChecker gates conversation subscriptions.
type MembershipChecker interface {
	IsConversationMember(userID, conversationID string) (bool, error)
}

// Event is the envelope pushed to websocket clients.
type Event struct {
	Type           string          `json:"type"`
	ConversationID string          `json:"conversationId,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// Hub fans conversation messages out to connected websocket clients. With a
// redis client it relays through pub/sub so every node sees every message;
// without one, delivery is process-local.
type Hub struct {
	checker MembershipChecker
	rdb     *redis.Client

	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}
}

func NewHub(checker MembershipChecker, rdb *redis.Client) *Hub {
	return &Hub{
		checker: checker,
		rdb:     rdb,
		rooms:   make(map[string]map[*Client]struct{}),
	}
}

// Run relays redis pub/sub traffic into local rooms until ctx is cancelled.
// Without redis it returns immediately; PublishMessage then dispatches
// locally.
func (h *Hub) Run(ctx context.Context) error {
	if h.rdb == nil {
		return nil
	}
	sub := h.rdb.PSubscribe(ctx, channelPrefix+"*")
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return fmt.Errorf("pubsub channel closed")
			}
			convID := strings.TrimPrefix(m.Channel, channelPrefix)
			h.dispatch(convID, []byte(m.Payload))
		}
	}
}

// PublishMessage satisfies the application's publisher hook for new chat
// messages.
func (h *Hub) PublishMessage(ctx context.Context, msg domain.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if h.rdb != nil {
		if err := h.rdb.Publish(ctx, channelPrefix+msg.ConversationID, payload).Err(); err != nil {
			return fmt.Errorf("publish message: %w", err)
		}
		return nil
	}
	h.dispatch(msg.ConversationID, payload)
	return nil
}

// dispatch pushes a message payload to every client in the conversation's
// room. A client whose outbound queue is full is cut loose rather than
// allowed to stall the rest.
func (h *Hub) dispatch(conversationID string, payload []byte) {
	event, err := json.Marshal(Event{
		Type:           "message",
		ConversationID: conversationID,
		Payload:        payload,
	})
	if err != nil {
		slog.Error("marshal event", "err", err)
		return
	}

	h.mu.RLock()
	var slow []*Client
	for c := range h.rooms[conversationID] {
		select {
		case c.send <- event:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	// Closing the connection, not the send channel, tears the client down:
	// its readPump fails on the dead conn and runs the sole close of send.
	// The channel must never be closed here while that goroutine may still
	// try to push events into it.
	for _, c := range slow {
		slog.Warn("dropping slow websocket client", "user_id", c.userID)
		h.removeClient(c)
		c.conn.Close()
	}
}

// subscribe adds the client to a conversation room after a membership check.
func (h *Hub) subscribe(c *Client, conversationID string) error {
	ok, err := h.checker.IsConversationMember(c.userID, conversationID)
	if err != nil {
		return fmt.Errorf("membership check: %w", err)
	}
	if !ok {
		return fmt.Errorf("not a member of conversation %s", conversationID)
	}
	h.mu.Lock()
	room := h.rooms[conversationID]
	if room == nil {
		room = make(map[*Client]struct{})
		h.rooms[conversationID] = room
	}
	room[c] = struct{}{}
	c.subscriptions[conversationID] = struct{}{}
	h.mu.Unlock()
	return nil
}

func (h *Hub) unsubscribe(c *Client, conversationID string) {
	h.mu.Lock()
	h.detach(c, conversationID)
	delete(c.subscriptions, conversationID)
	h.mu.Unlock()
}

// removeClient drops the client from every room it joined.
func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	for conversationID := range c.subscriptions {
		h.detach(c, conversationID)
	}
	c.subscriptions = make(map[string]struct{})
	h.mu.Unlock()
}

// detach expects h.mu held.
func (h *Hub) detach(c *Client, conversationID string) {
	if room, ok := h.rooms[conversationID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, conversationID)
		}
	}
}
