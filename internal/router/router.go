// Package router translates user actions issued on the relay platform into
// source-platform commands, resolving message identity through the store.
package router

import (
	"context"
	"errors"
	"fmt"

	"instabridge/internal/models"
)

// likeEmoji is what a bare "like" lowers to before translation.
const likeEmoji = "❤️"

// ErrUnknownMapping is returned when the targeted relay message has no saved
// mapping. Callers must surface it to the acting user, never swallow it.
var ErrUnknownMapping = errors.New("no mapping for relay message")

// MappingStore is the identity lookup the router depends on.
type MappingStore interface {
	LookupByRelayRef(ctx context.Context, chatID int64, messageID int) (*models.MessageMapping, error)
}

// Router resolves outbound actions against the identity store.
type Router struct {
	store MappingStore
}

// New creates a Router backed by the given store.
func New(store MappingStore) *Router {
	return &Router{store: store}
}

// Route resolves the target relay message and translates the action into a
// source-platform command. It has no side effects; issuing the command is the
// caller's job.
func (r *Router) Route(ctx context.Context, action models.OutboundAction, target models.RelayMessageRef) (models.SourceCommand, error) {
	// Like is sugar for a heart reaction, lowered before any other handling.
	if action.Kind == models.ActionLike {
		action = models.OutboundAction{Kind: models.ActionReact, Emoji: likeEmoji}
	}

	mapping, err := r.store.LookupByRelayRef(ctx, target.ChatID, target.MessageID)
	if err != nil {
		return models.SourceCommand{}, fmt.Errorf("failed to resolve relay message %d: %w", target.MessageID, err)
	}
	if mapping == nil {
		return models.SourceCommand{}, ErrUnknownMapping
	}

	switch action.Kind {
	case models.ActionReply:
		return models.SourceCommand{
			Kind:           models.CommandSendText,
			ConversationID: mapping.ConversationID,
			Text:           action.Text,
		}, nil

	case models.ActionReact:
		emoji := action.Emoji
		if emoji == "" {
			emoji = likeEmoji
		}
		return models.SourceCommand{
			Kind:           models.CommandSendReaction,
			ConversationID: mapping.ConversationID,
			MessageID:      mapping.SourceMessageID,
			Emoji:          emoji,
		}, nil

	default:
		return models.SourceCommand{}, fmt.Errorf("unsupported action kind %q", action.Kind)
	}
}
