package bridge

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"instabridge/internal/models"
	"instabridge/internal/router"
)

// SourceSender executes resolved commands against the source platform.
type SourceSender interface {
	SendText(ctx context.Context, conversationID, text string) error
	SendReaction(ctx context.Context, conversationID, messageID, emoji string) error
}

// ActionHandler resolves an outbound user action through the router and
// issues the resulting command. A send failure does not invalidate the
// mapping; the caller acknowledges success or failure to the user.
type ActionHandler struct {
	router *router.Router
	sender SourceSender
}

// NewActionHandler wires the router to the source sender.
func NewActionHandler(r *router.Router, sender SourceSender) *ActionHandler {
	return &ActionHandler{router: r, sender: sender}
}

// Handle routes and executes one action. router.ErrUnknownMapping passes
// through unchanged so the caller can answer "not found" explicitly.
func (h *ActionHandler) Handle(ctx context.Context, action models.OutboundAction, target models.RelayMessageRef) error {
	cmd, err := h.router.Route(ctx, action, target)
	if err != nil {
		return err
	}

	switch cmd.Kind {
	case models.CommandSendText:
		err = h.sender.SendText(ctx, cmd.ConversationID, cmd.Text)
	case models.CommandSendReaction:
		err = h.sender.SendReaction(ctx, cmd.ConversationID, cmd.MessageID, cmd.Emoji)
	default:
		return fmt.Errorf("unsupported command kind %q", cmd.Kind)
	}
	if err != nil {
		return fmt.Errorf("failed to execute %s: %w", cmd.Kind, err)
	}

	log.Info().
		Str("action", string(action.Kind)).
		Str("conversationID", cmd.ConversationID).
		Msg("Outbound action delivered")
	return nil
}
