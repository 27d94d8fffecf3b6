// Package bridge wires the poll loop, the publish policy and the outbound
// action pipeline around the identity store.
package bridge

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"instabridge/internal/media"
	"instabridge/internal/models"
	"instabridge/internal/normalize"
)

// Source is the boundary to the polled platform. Messages come back in
// chronological order within a conversation.
type Source interface {
	FetchRecentConversations(ctx context.Context, limit int) ([]models.Conversation, error)
	FetchRecentMessages(ctx context.Context, conversationID string, limit int) ([]models.RawMessage, error)
}

// ClaimStore is the slice of the identity store the poll loop needs.
type ClaimStore interface {
	Claim(ctx context.Context, sourceMessageID string) (bool, error)
	SaveMapping(ctx context.Context, m models.MessageMapping) error
	PruneSeen(ctx context.Context, olderThan time.Time) (int64, error)
}

// Normalizer converts raw messages to forwardable content.
type Normalizer interface {
	Normalize(ctx context.Context, msg models.RawMessage) (normalize.Result, error)
}

// Notifier is the best-effort channel for surfacing failures to the owner.
type Notifier interface {
	NotifyError(ctx context.Context, text string)
}

// ForwardHook runs after a message has been published and its mapping saved.
// Hooks are best effort and must not fail the pipeline.
type ForwardHook interface {
	MessageForwarded(ctx context.Context, mapping models.MessageMapping, content models.InboundContent)
}

// PollerConfig carries the per-cycle bounds and filters.
type PollerConfig struct {
	Interval          time.Duration
	ConversationLimit int
	MessageLimit      int
	AllowedSenders    []string
	// SeenRetention > 0 enables pruning of seen entries older than the window.
	SeenRetention time.Duration
}

// Poller periodically pulls batches from the source, deduplicates them
// through the store and forwards new messages to the relay.
type Poller struct {
	source    Source
	norm      Normalizer
	pub       *Publisher
	store     ClaimStore
	notifier  Notifier
	hooks     []ForwardHook
	cfg       PollerConfig
	allowed   map[string]bool
	forwarded atomic.Int64
}

// NewPoller assembles the poll loop. notifier may be nil; hooks may be empty.
func NewPoller(source Source, norm Normalizer, pub *Publisher, store ClaimStore, notifier Notifier, cfg PollerConfig, hooks ...ForwardHook) *Poller {
	var allowed map[string]bool
	if len(cfg.AllowedSenders) > 0 {
		allowed = make(map[string]bool, len(cfg.AllowedSenders))
		for _, h := range cfg.AllowedSenders {
			allowed[h] = true
		}
	}
	return &Poller{
		source:   source,
		norm:     norm,
		pub:      pub,
		store:    store,
		notifier: notifier,
		hooks:    hooks,
		cfg:      cfg,
		allowed:  allowed,
	}
}

// Forwarded returns the number of messages published since start.
func (p *Poller) Forwarded() int64 {
	return p.forwarded.Load()
}

// Run polls until the context is cancelled. A failed cycle is reported and
// the loop sleeps until the next tick; it never terminates on its own.
func (p *Poller) Run(ctx context.Context) {
	log.Info().
		Dur("interval", p.cfg.Interval).
		Int("conversationLimit", p.cfg.ConversationLimit).
		Int("messageLimit", p.cfg.MessageLimit).
		Msg("Poll loop started")

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		p.RunCycle(ctx)

		select {
		case <-ctx.Done():
			log.Info().Msg("Poll loop stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunCycle performs one polling pass over the source.
func (p *Poller) RunCycle(ctx context.Context) {
	conversations, err := p.source.FetchRecentConversations(ctx, p.cfg.ConversationLimit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch conversations")
		p.notify(ctx, fmt.Sprintf("inbox fetch failed: %v", err))
		return
	}

	for _, conv := range conversations {
		messages, err := p.source.FetchRecentMessages(ctx, conv.ID, p.cfg.MessageLimit)
		if err != nil {
			log.Error().Err(err).Str("conversationID", conv.ID).Msg("Failed to fetch messages")
			p.notify(ctx, fmt.Sprintf("message fetch failed for @%s: %v", conv.SenderHandle, err))
			continue
		}

		for _, msg := range messages {
			if err := p.processMessage(ctx, conv, msg); err != nil {
				log.Error().Err(err).
					Str("conversationID", conv.ID).
					Str("messageID", msg.ID).
					Msg("Failed to process message")
				p.notify(ctx, fmt.Sprintf("forward failed for @%s: %v", conv.SenderHandle, err))
			}
		}
	}

	if p.cfg.SeenRetention > 0 {
		if _, err := p.store.PruneSeen(ctx, time.Now().Add(-p.cfg.SeenRetention)); err != nil {
			log.Error().Err(err).Msg("Failed to prune seen messages")
		}
	}
}

// processMessage runs the per-message pipeline: filter, claim, normalize,
// publish, persist. An error from any step is isolated to this message.
func (p *Poller) processMessage(ctx context.Context, conv models.Conversation, msg models.RawMessage) error {
	if msg.FromSelf {
		return nil
	}

	sender := msg.SenderHandle
	if sender == "" {
		sender = conv.SenderHandle
	}

	// Filtered senders are neither claimed nor recorded, so a whitelist
	// change takes effect on the next cycle without backfilling.
	if p.allowed != nil && !p.allowed[sender] {
		log.Debug().Str("sender", sender).Str("messageID", msg.ID).Msg("Sender not in allow-list, skipping")
		return nil
	}

	// The claim must be durable before any network side effect. A crash
	// between here and the publish skips the message instead of risking a
	// duplicate delivery.
	claimed, err := p.store.Claim(ctx, msg.ID)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	res, err := p.norm.Normalize(ctx, msg)
	if err != nil {
		return err
	}
	for _, notice := range res.Notices {
		p.notify(ctx, notice)
	}
	if res.Skipped {
		log.Debug().Str("messageID", msg.ID).Str("reason", res.Reason).Msg("Message skipped")
		return nil
	}

	ref, err := p.pub.Publish(ctx, sender, res.Content)
	if err != nil {
		media.Cleanup(res.Content.Media)
		if res.Content.SourceURL == "" {
			return err
		}

		// The claim is already consumed, so a failed media delivery would
		// lose the message outright. Degrade to a link-only message and keep
		// the mapping alive.
		log.Warn().Err(err).
			Str("messageID", msg.ID).
			Str("sourceURL", res.Content.SourceURL).
			Msg("Publish failed, falling back to source link")
		ref, err = p.pub.PublishLink(ctx, sender, res.Content.SourceURL)
		if err != nil {
			return fmt.Errorf("link fallback failed: %w", err)
		}
		res.Content.Media = nil
	}

	mapping := models.MessageMapping{
		RelayChatID:     ref.ChatID,
		RelayMessageID:  ref.MessageID,
		ConversationID:  conv.ID,
		SourceMessageID: msg.ID,
		SenderHandle:    sender,
	}
	if err := p.store.SaveMapping(ctx, mapping); err != nil {
		media.Cleanup(res.Content.Media)
		return err
	}

	p.forwarded.Add(1)
	log.Info().
		Str("sender", sender).
		Str("messageID", msg.ID).
		Int("relayMessageID", ref.MessageID).
		Int("mediaItems", len(res.Content.Media)).
		Msg("Message forwarded")

	for _, hook := range p.hooks {
		hook.MessageForwarded(ctx, mapping, res.Content)
	}
	media.Cleanup(res.Content.Media)
	return nil
}

func (p *Poller) notify(ctx context.Context, text string) {
	if p.notifier != nil {
		p.notifier.NotifyError(ctx, text)
	}
}
