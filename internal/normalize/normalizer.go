// Package normalize turns platform-specific inbound events into the
// normalized content the relay publisher understands. All media bytes are
// obtained through an injected Fetcher so the package stays testable without
// network access.
package normalize

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"instabridge/internal/media"
	"instabridge/internal/models"
)

// captionLimit bounds captions lifted from shared posts.
const captionLimit = 200

// Fetcher resolves a remote media URL to a local file path.
type Fetcher interface {
	Fetch(ctx context.Context, url, ext string) (string, error)
}

// Result is the explicit outcome of normalizing one raw message. Skipped
// means the event produced nothing forwardable and must not be retried.
// Notices carry user-visible remarks (e.g. an item dropped for size) that the
// caller may forward on its notification channel.
type Result struct {
	Content models.InboundContent
	Skipped bool
	Reason  string
	Notices []string
}

func skipped(reason string) Result {
	return Result{Skipped: true, Reason: reason}
}

// Normalizer converts raw source messages into InboundContent.
type Normalizer struct {
	fetcher Fetcher
}

// New creates a Normalizer using the given fetch capability.
func New(fetcher Fetcher) *Normalizer {
	return &Normalizer{fetcher: fetcher}
}

// Normalize maps one raw message to forwardable content. Individual media
// items that fail to resolve are dropped; if nothing remains the result is
// Skipped, never an error.
func (n *Normalizer) Normalize(ctx context.Context, msg models.RawMessage) (Result, error) {
	var r Result

	switch item := msg.Item.(type) {
	case models.Text:
		r.Content.Text = item.Body

	case models.Link:
		r.Content.Text = item.Text
		if item.URL != "" {
			if r.Content.Text != "" {
				r.Content.Text += "\n"
			}
			r.Content.Text += item.URL
		}

	case models.SharedPost:
		r.Content.SourceURL = postURL(item.Code)
		n.fetchItem(ctx, &r, msg.ID, item.Media, truncateCaption(item.Caption))

	case models.Carousel:
		r.Content.SourceURL = postURL(item.Code)
		caption := truncateCaption(item.Caption)
		for i, ref := range item.Items {
			itemCaption := ""
			if i == 0 {
				itemCaption = caption
			}
			n.fetchItem(ctx, &r, msg.ID, ref, itemCaption)
		}

	case models.Story:
		caption := fmt.Sprintf("Story from @%s", item.AuthorHandle)
		n.fetchItem(ctx, &r, msg.ID, item.Media, caption)

	case models.Voice:
		ref := models.MediaRef{Kind: models.MediaAudio, URL: item.URL}
		n.fetchItem(ctx, &r, msg.ID, ref, "Voice message")

	case models.VisualNote:
		ref := models.MediaRef{Kind: models.MediaVideo, URL: item.URL}
		n.fetchItem(ctx, &r, msg.ID, ref, "Video note")

	case models.DirectMedia:
		n.fetchItem(ctx, &r, msg.ID, item.Media, "")

	case nil:
		return skipped("message carries no item"), nil

	default:
		return skipped(fmt.Sprintf("unsupported item type %T", item)), nil
	}

	if r.Content.Empty() {
		r.Skipped = true
		if r.Reason == "" {
			r.Reason = "no forwardable content"
		}
	}
	return r, nil
}

// fetchItem downloads one media ref and appends it to the result. Failures
// skip the item; oversized assets add a user-visible notice.
func (n *Normalizer) fetchItem(ctx context.Context, r *Result, messageID string, ref models.MediaRef, caption string) {
	if ref.URL == "" {
		return
	}

	path, err := n.fetcher.Fetch(ctx, ref.URL, extFor(ref.Kind))
	if err != nil {
		log.Warn().Err(err).
			Str("messageID", messageID).
			Str("kind", string(ref.Kind)).
			Msg("Failed to fetch media item, skipping")
		if errors.Is(err, media.ErrTooLarge) {
			r.Notices = append(r.Notices, fmt.Sprintf("a %s attachment exceeded the size limit and was not forwarded", ref.Kind))
		}
		if r.Reason == "" {
			r.Reason = "all media items failed to download"
		}
		return
	}

	r.Content.Media = append(r.Content.Media, models.MediaItem{
		LocalPath: path,
		Kind:      ref.Kind,
		Caption:   caption,
	})
}

func postURL(code string) string {
	if code == "" {
		return ""
	}
	return "https://instagram.com/p/" + code + "/"
}

func truncateCaption(caption string) string {
	runes := []rune(caption)
	if len(runes) <= captionLimit {
		return caption
	}
	return string(runes[:captionLimit])
}

func extFor(kind models.MediaKind) string {
	switch kind {
	case models.MediaVideo:
		return "mp4"
	case models.MediaAudio:
		return "mp3"
	default:
		return "jpg"
	}
}
