package models

import (
	"time"
)

// RelayMessageRef identifies one message on the relay platform. ChatID is the
// single owner chat for this deployment.
type RelayMessageRef struct {
	ChatID    int64
	MessageID int
}

// Zero reports whether the ref carries no usable message identifier.
func (r RelayMessageRef) Zero() bool {
	return r.MessageID == 0
}

// MessageMapping is the durable association between a relay-side message and
// its source-side origin. Created once per successful forward, never mutated.
type MessageMapping struct {
	RelayChatID     int64     `db:"relay_chat_id" json:"relay_chat_id"`
	RelayMessageID  int       `db:"relay_message_id" json:"relay_message_id"`
	ConversationID  string    `db:"conversation_id" json:"conversation_id"`
	SourceMessageID string    `db:"source_message_id" json:"source_message_id"`
	SenderHandle    string    `db:"sender_handle" json:"sender_handle"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// MediaKind classifies a downloaded media item.
type MediaKind string

const (
	MediaPhoto MediaKind = "photo"
	MediaVideo MediaKind = "video"
	MediaAudio MediaKind = "audio"
)

// MediaItem is one downloaded media file ready for relay.
type MediaItem struct {
	LocalPath string
	Kind      MediaKind
	Caption   string
}

// InboundContent is the normalized representation of one source message,
// independent of source platform quirks.
type InboundContent struct {
	Text      string
	Media     []MediaItem
	SourceURL string
}

// Empty reports whether the content has nothing worth forwarding.
func (c InboundContent) Empty() bool {
	return c.Text == "" && len(c.Media) == 0
}

// Conversation is one source-platform thread as returned by the inbox fetch.
type Conversation struct {
	ID           string
	SenderHandle string
}

// RawMessage is one message as fetched from the source platform, before
// normalization. Item carries the shape-specific payload.
type RawMessage struct {
	ID             string
	ConversationID string
	SenderHandle   string
	FromSelf       bool
	Timestamp      time.Time
	Item           RawItem
}

// RawItem is the sealed set of inbound message shapes. The normalizer handles
// every variant in a single type switch; anything outside the set is skipped
// rather than silently mishandled.
type RawItem interface {
	isRawItem()
}

// MediaRef points at a remote media asset that still needs downloading.
type MediaRef struct {
	Kind MediaKind
	URL  string
}

// Text is a plain text message.
type Text struct {
	Body string
}

// SharedPost is a post or reel shared into the conversation.
type SharedPost struct {
	Code    string // short code used to build the canonical post URL
	Caption string
	Media   MediaRef
}

// Story is an ephemeral story shared into the conversation. Stories carry no
// caption of their own; the normalizer synthesizes an attribution line.
type Story struct {
	AuthorHandle string
	Media        MediaRef
}

// Voice is a voice note. Always audio.
type Voice struct {
	URL string
}

// VisualNote is a short-form video note (circle). Always video.
type VisualNote struct {
	URL string
}

// Carousel is a multi-item shared post. Items keep source order.
type Carousel struct {
	Code    string
	Caption string
	Items   []MediaRef
}

// Link is a message containing a URL, optionally alongside text.
type Link struct {
	Text string
	URL  string
}

// DirectMedia is a photo or video sent directly in the conversation.
type DirectMedia struct {
	Media MediaRef
}

func (Text) isRawItem()        {}
func (SharedPost) isRawItem()  {}
func (Story) isRawItem()       {}
func (Voice) isRawItem()       {}
func (VisualNote) isRawItem()  {}
func (Carousel) isRawItem()    {}
func (Link) isRawItem()        {}
func (DirectMedia) isRawItem() {}

// ActionKind enumerates user actions issued on the relay platform.
type ActionKind string

const (
	ActionReply ActionKind = "reply"
	ActionReact ActionKind = "react"
	ActionLike  ActionKind = "like"
)

// OutboundAction is a user-issued action targeting a previously relayed
// message.
type OutboundAction struct {
	Kind  ActionKind
	Text  string // reply text, for ActionReply
	Emoji string // reaction emoji, for ActionReact
}

// CommandKind enumerates commands executable against the source platform.
type CommandKind string

const (
	CommandSendText     CommandKind = "send_text"
	CommandSendReaction CommandKind = "send_reaction"
)

// SourceCommand is the resolved source-platform command produced by the
// action router. Issuing it is the caller's responsibility.
type SourceCommand struct {
	Kind           CommandKind
	ConversationID string
	MessageID      string
	Text           string
	Emoji          string
}
