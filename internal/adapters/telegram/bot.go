// Package telegram is the relay platform adapter: it publishes forwarded
// content into the owner chat and turns the owner's replies and commands into
// outbound actions.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"instabridge/internal/bridge"
	"instabridge/internal/models"
	"instabridge/internal/router"
)

const updateTimeoutSeconds = 30

const (
	sendRetryAttempts = 3
	sendRetryBackoff  = 2 * time.Second
)

// retrySend runs op up to attempts times with doubling backoff between tries.
// Context cancellation aborts the wait.
func retrySend(ctx context.Context, attempts int, backoff time.Duration, op func() error) error {
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := op(); err != nil {
			lastErr = err
			log.Warn().Err(err).Int("attempt", attempt).Msg("Telegram send failed")
			if attempt == attempts {
				break
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			continue
		}
		return nil
	}
	return lastErr
}

// StatusFunc renders the /status reply.
type StatusFunc func() string

// Bot bridges one Telegram bot to a single owner chat. All sends target the
// owner chat; updates from any other chat are ignored.
type Bot struct {
	api         *tgbotapi.BotAPI
	ownerChatID int64
	actions     *bridge.ActionHandler
	status      StatusFunc
}

// NewBot authenticates the bot token and binds it to the owner chat.
func NewBot(token string, ownerChatID int64) (*Bot, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token cannot be empty")
	}
	if ownerChatID == 0 {
		return nil, fmt.Errorf("telegram owner chat id cannot be empty")
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram authentication failed: %w", err)
	}

	log.Info().Str("botUsername", api.Self.UserName).Int64("ownerChatID", ownerChatID).Msg("Telegram bot connected")
	return &Bot{api: api, ownerChatID: ownerChatID}, nil
}

// SetActionHandler wires the reply pipeline. Must be called before Listen.
func (b *Bot) SetActionHandler(h *bridge.ActionHandler) { b.actions = h }

// SetStatusFunc wires the /status command.
func (b *Bot) SetStatusFunc(fn StatusFunc) { b.status = fn }

func inputMedia(item models.MediaItem) interface{} {
	file := tgbotapi.FilePath(item.LocalPath)
	switch item.Kind {
	case models.MediaVideo:
		m := tgbotapi.NewInputMediaVideo(file)
		m.Caption = item.Caption
		m.ParseMode = tgbotapi.ModeHTML
		return m
	case models.MediaAudio:
		m := tgbotapi.NewInputMediaAudio(file)
		m.Caption = item.Caption
		m.ParseMode = tgbotapi.ModeHTML
		return m
	default:
		m := tgbotapi.NewInputMediaPhoto(file)
		m.Caption = item.Caption
		m.ParseMode = tgbotapi.ModeHTML
		return m
	}
}

// SendMediaGroup publishes the items as one album and returns the reference
// of the first message, which carries the header caption.
func (b *Bot) SendMediaGroup(ctx context.Context, items []models.MediaItem) (models.RelayMessageRef, error) {
	media := make([]interface{}, 0, len(items))
	for _, item := range items {
		media = append(media, inputMedia(item))
	}

	var sent []tgbotapi.Message
	err := retrySend(ctx, sendRetryAttempts, sendRetryBackoff, func() error {
		var sendErr error
		sent, sendErr = b.api.SendMediaGroup(tgbotapi.NewMediaGroup(b.ownerChatID, media))
		return sendErr
	})
	if err != nil {
		return models.RelayMessageRef{}, fmt.Errorf("failed to send media group: %w", err)
	}
	if len(sent) == 0 {
		return models.RelayMessageRef{}, nil
	}
	return models.RelayMessageRef{ChatID: sent[0].Chat.ID, MessageID: sent[0].MessageID}, nil
}

// SendMedia publishes one media item with its caption.
func (b *Bot) SendMedia(ctx context.Context, item models.MediaItem) (models.RelayMessageRef, error) {
	file := tgbotapi.FilePath(item.LocalPath)

	var msg tgbotapi.Chattable
	switch item.Kind {
	case models.MediaVideo:
		c := tgbotapi.NewVideo(b.ownerChatID, file)
		c.Caption = item.Caption
		c.ParseMode = tgbotapi.ModeHTML
		msg = c
	case models.MediaAudio:
		c := tgbotapi.NewAudio(b.ownerChatID, file)
		c.Caption = item.Caption
		c.ParseMode = tgbotapi.ModeHTML
		msg = c
	default:
		c := tgbotapi.NewPhoto(b.ownerChatID, file)
		c.Caption = item.Caption
		c.ParseMode = tgbotapi.ModeHTML
		msg = c
	}

	var sent tgbotapi.Message
	err := retrySend(ctx, sendRetryAttempts, sendRetryBackoff, func() error {
		var sendErr error
		sent, sendErr = b.api.Send(msg)
		return sendErr
	})
	if err != nil {
		return models.RelayMessageRef{}, fmt.Errorf("failed to send media: %w", err)
	}
	return models.RelayMessageRef{ChatID: sent.Chat.ID, MessageID: sent.MessageID}, nil
}

// SendText publishes an HTML-formatted text message.
func (b *Bot) SendText(ctx context.Context, text string) (models.RelayMessageRef, error) {
	msg := tgbotapi.NewMessage(b.ownerChatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	var sent tgbotapi.Message
	err := retrySend(ctx, sendRetryAttempts, sendRetryBackoff, func() error {
		var sendErr error
		sent, sendErr = b.api.Send(msg)
		return sendErr
	})
	if err != nil {
		return models.RelayMessageRef{}, fmt.Errorf("failed to send text: %w", err)
	}
	return models.RelayMessageRef{ChatID: sent.Chat.ID, MessageID: sent.MessageID}, nil
}

// NotifyError delivers a failure notice to the owner. Best effort.
func (b *Bot) NotifyError(_ context.Context, text string) {
	msg := tgbotapi.NewMessage(b.ownerChatID, "⚠️ "+text)
	if _, err := b.api.Send(msg); err != nil {
		log.Error().Err(err).Msg("Failed to deliver error notice")
	}
}

// Listen consumes updates until the context is cancelled, translating owner
// replies and commands into outbound actions.
func (b *Bot) Listen(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = updateTimeoutSeconds
	updates := b.api.GetUpdatesChan(u)

	log.Info().Msg("Telegram update loop started")
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			log.Info().Msg("Telegram update loop stopped")
			return
		case update := <-updates:
			if update.Message == nil {
				continue
			}
			if update.Message.Chat.ID != b.ownerChatID {
				log.Debug().Int64("chatID", update.Message.Chat.ID).Msg("Ignoring update from foreign chat")
				continue
			}
			b.handleMessage(ctx, update.Message)
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}

	if msg.ReplyToMessage == nil || msg.Text == "" {
		return
	}
	b.dispatch(ctx, msg,
		models.OutboundAction{Kind: models.ActionReply, Text: msg.Text},
		"Reply sent")
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "like":
		if msg.ReplyToMessage == nil {
			b.reply(msg, "Reply to a forwarded message with /like")
			return
		}
		b.dispatch(ctx, msg, models.OutboundAction{Kind: models.ActionLike}, "❤️ sent")

	case "react":
		if msg.ReplyToMessage == nil {
			b.reply(msg, "Reply to a forwarded message with /react <emoji>")
			return
		}
		emoji := strings.TrimSpace(msg.CommandArguments())
		b.dispatch(ctx, msg,
			models.OutboundAction{Kind: models.ActionReact, Emoji: emoji},
			"Reaction sent")

	case "status":
		if b.status != nil {
			b.reply(msg, b.status())
		}

	default:
		b.reply(msg, "Unknown command")
	}
}

// dispatch resolves the replied-to message through the action pipeline and
// acknowledges the outcome in chat.
func (b *Bot) dispatch(ctx context.Context, msg *tgbotapi.Message, action models.OutboundAction, ack string) {
	if b.actions == nil {
		return
	}

	target := models.RelayMessageRef{
		ChatID:    msg.Chat.ID,
		MessageID: msg.ReplyToMessage.MessageID,
	}

	err := b.actions.Handle(ctx, action, target)
	switch {
	case errors.Is(err, router.ErrUnknownMapping):
		b.reply(msg, "Original message not found")
	case err != nil:
		log.Error().Err(err).Str("action", string(action.Kind)).Msg("Failed to deliver action")
		b.reply(msg, fmt.Sprintf("Failed: %v", err))
	default:
		b.reply(msg, ack)
	}
}

func (b *Bot) reply(msg *tgbotapi.Message, text string) {
	out := tgbotapi.NewMessage(msg.Chat.ID, text)
	out.ReplyToMessageID = msg.MessageID
	if _, err := b.api.Send(out); err != nil {
		log.Error().Err(err).Msg("Failed to send acknowledgement")
	}
}
