package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"farmlink/internal/store"
	"farmlink/pkg/domain"
)

// PairKey builds the canonical identity of a two-party conversation. Member
// order never matters: the lower user ID always comes first.
func PairKey(userA, userB string) string {
	if userA > userB {
		userA, userB = userB, userA
	}
	return userA + "|" + userB
}

// GetOrCreateConversation returns the single conversation between the acting
// user and the peer, creating it on first contact. A concurrent create by the
// other party is resolved by re-reading the pair key.
func (a *App) GetOrCreateConversation(ctx context.Context, actingUser domain.User, peerID string) (domain.Conversation, error) {
	if peerID == "" || peerID == actingUser.ID {
		return domain.Conversation{}, fmt.Errorf("%w: peer must be another user", ErrValidation)
	}
	if _, ok, err := a.store.GetUserByID(peerID); err != nil {
		return domain.Conversation{}, fmt.Errorf("fetch peer: %w", err)
	} else if !ok {
		return domain.Conversation{}, ErrNotFound
	}

	key := PairKey(actingUser.ID, peerID)
	conv, ok, err := a.store.GetConversationByPairKey(key)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("fetch conversation: %w", err)
	}
	if ok {
		return conv, nil
	}

	conv = domain.Conversation{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
	}
	err = a.store.CreateConversation(conv, key, []string{actingUser.ID, peerID})
	if errors.Is(err, store.ErrDuplicateConversation) {
		// The peer got there first; use theirs.
		conv, ok, err = a.store.GetConversationByPairKey(key)
		if err != nil {
			return domain.Conversation{}, fmt.Errorf("re-fetch conversation: %w", err)
		}
		if !ok {
			return domain.Conversation{}, fmt.Errorf("conversation vanished after duplicate insert")
		}
		return conv, nil
	}
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// ListConversations returns the acting user's conversations with the other
// party's profile attached for the sidebar.
func (a *App) ListConversations(ctx context.Context, actingUser domain.User) ([]domain.ConversationSummary, error) {
	convs, err := a.store.ListConversationsByUser(actingUser.ID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	out := make([]domain.ConversationSummary, 0, len(convs))
	for _, conv := range convs {
		members, err := a.store.ListConversationMembers(conv.ID)
		if err != nil {
			return nil, fmt.Errorf("list members: %w", err)
		}
		summary := domain.ConversationSummary{ID: conv.ID, CreatedAt: conv.CreatedAt}
		for _, memberID := range members {
			if memberID == actingUser.ID {
				continue
			}
			peer, ok, err := a.store.GetUserByID(memberID)
			if err != nil {
				return nil, fmt.Errorf("fetch peer: %w", err)
			}
			if !ok {
				slog.Warn("conversation references missing user", "conversation_id", conv.ID, "user_id", memberID)
				continue
			}
			summary.Peer = peer.Profile()
		}
		out = append(out, summary)
	}
	return out, nil
}

// ListMessages returns a conversation's history, oldest first. Members only.
func (a *App) ListMessages(ctx context.Context, actingUser domain.User, conversationID string) ([]domain.Message, error) {
	if err := a.requireMember(actingUser.ID, conversationID); err != nil {
		return nil, err
	}
	msgs, err := a.store.ListMessages(conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// SendMessage appends a text message and hands it to the realtime publisher.
// Publish failures do not fail the send; history is the source of truth.
func (a *App) SendMessage(ctx context.Context, actingUser domain.User, conversationID, content string) (domain.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return domain.Message{}, fmt.Errorf("%w: message content is empty", ErrValidation)
	}
	if err := a.requireMember(actingUser.ID, conversationID); err != nil {
		return domain.Message{}, err
	}
	msg := domain.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       actingUser.ID,
		Content:        content,
		Type:           "text",
		CreatedAt:      time.Now().UTC(),
	}
	if err := a.store.AppendMessage(msg); err != nil {
		return domain.Message{}, fmt.Errorf("append message: %w", err)
	}
	if a.publisher != nil {
		if err := a.publisher.PublishMessage(ctx, msg); err != nil {
			slog.Warn("publish message failed", "conversation_id", conversationID, "err", err)
		}
	}
	return msg, nil
}

// IsConversationMember reports whether the user belongs to the conversation.
// The realtime layer uses this to gate subscriptions.
func (a *App) IsConversationMember(userID, conversationID string) (bool, error) {
	_, ok, err := a.store.GetConversation(conversationID)
	if err != nil {
		return false, fmt.Errorf("fetch conversation: %w", err)
	}
	if !ok {
		return false, nil
	}
	members, err := a.store.ListConversationMembers(conversationID)
	if err != nil {
		return false, fmt.Errorf("list members: %w", err)
	}
	for _, id := range members {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func (a *App) requireMember(userID, conversationID string) error {
	_, ok, err := a.store.GetConversation(conversationID)
	if err != nil {
		return fmt.Errorf("fetch conversation: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	members, err := a.store.ListConversationMembers(conversationID)
	if err != nil {
		return fmt.Errorf("list members: %w", err)
	}
	for _, id := range members {
		if id == userID {
			return nil
		}
	}
	return fmt.Errorf("%w: not a member of this conversation", ErrForbidden)
}
