package bridge

import (
	"context"
	"errors"
	"fmt"
	"html"

	"instabridge/internal/models"
)

// ErrNoMessageID is returned when the relay adapter cannot report an
// identifier for the published message. Without an id the mapping cannot be
// saved, so the publish counts as failed.
var ErrNoMessageID = errors.New("relay reported no message id")

// RelayClient is the boundary to the relay platform. Captions arrive already
// composed; the adapter only moves bytes.
type RelayClient interface {
	SendMediaGroup(ctx context.Context, items []models.MediaItem) (models.RelayMessageRef, error)
	SendMedia(ctx context.Context, item models.MediaItem) (models.RelayMessageRef, error)
	SendText(ctx context.Context, text string) (models.RelayMessageRef, error)
}

// Publisher owns the delivery-shape policy: more than one media item goes out
// as a single grouped unit with the header on the first item, exactly one as
// a single media message, none as plain text.
type Publisher struct {
	relay RelayClient
}

// NewPublisher wraps a relay client with the core publish policy.
func NewPublisher(relay RelayClient) *Publisher {
	return &Publisher{relay: relay}
}

// Publish delivers normalized content under the sender's header and returns
// the relay message ref the mapping will be keyed on.
func (p *Publisher) Publish(ctx context.Context, senderHandle string, content models.InboundContent) (models.RelayMessageRef, error) {
	header := fmt.Sprintf("<b>@%s</b>", html.EscapeString(senderHandle))
	if content.SourceURL != "" {
		header += fmt.Sprintf("\n<a href=\"%s\">Source</a>", content.SourceURL)
	}

	var (
		ref models.RelayMessageRef
		err error
	)

	switch {
	case len(content.Media) > 1:
		items := make([]models.MediaItem, len(content.Media))
		copy(items, content.Media)
		items[0].Caption = compose(header, html.EscapeString(items[0].Caption))
		for i := 1; i < len(items); i++ {
			items[i].Caption = ""
		}
		ref, err = p.relay.SendMediaGroup(ctx, items)

	case len(content.Media) == 1:
		item := content.Media[0]
		item.Caption = compose(header, html.EscapeString(item.Caption))
		ref, err = p.relay.SendMedia(ctx, item)

	default:
		ref, err = p.relay.SendText(ctx, compose(header, html.EscapeString(content.Text)))
	}

	if err != nil {
		return models.RelayMessageRef{}, err
	}
	if ref.Zero() {
		return models.RelayMessageRef{}, ErrNoMessageID
	}
	return ref, nil
}

// PublishLink delivers a link-only message pointing at the original post.
// Used as the degraded path when media delivery failed but the content still
// carries a source URL.
func (p *Publisher) PublishLink(ctx context.Context, senderHandle, sourceURL string) (models.RelayMessageRef, error) {
	header := fmt.Sprintf("<b>@%s</b>", html.EscapeString(senderHandle))
	text := compose(header, fmt.Sprintf("<a href=\"%s\">Source</a>", sourceURL))

	ref, err := p.relay.SendText(ctx, text)
	if err != nil {
		return models.RelayMessageRef{}, err
	}
	if ref.Zero() {
		return models.RelayMessageRef{}, ErrNoMessageID
	}
	return ref, nil
}

func compose(header, caption string) string {
	if caption == "" {
		return header
	}
	return header + "\n\n" + caption
}
