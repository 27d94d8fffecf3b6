// Package events publishes forward events to RabbitMQ for downstream
// consumers. Publishing is optional and best effort; a broker outage never
// blocks the bridge.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"instabridge/internal/models"
)

// ForwardEvent is the payload emitted for every forwarded message.
type ForwardEvent struct {
	Event           string    `json:"event"`
	ConversationID  string    `json:"conversationId"`
	SourceMessageID string    `json:"sourceMessageId"`
	SenderHandle    string    `json:"senderHandle"`
	RelayChatID     int64     `json:"relayChatId"`
	RelayMessageID  int       `json:"relayMessageId"`
	Text            string    `json:"text,omitempty"`
	MediaCount      int       `json:"mediaCount"`
	SourceURL       string    `json:"sourceUrl,omitempty"`
	ForwardedAt     time.Time `json:"forwardedAt"`
}

// Publisher holds one connection and channel to the broker.
type Publisher struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
	queue   string
}

// NewPublisher dials the broker. An empty URL disables publishing and returns
// a nil Publisher, which is safe to skip at the call site.
func NewPublisher(url, queue string) (*Publisher, error) {
	if url == "" {
		log.Info().Msg("RabbitMQ URL not set, event publishing disabled")
		return nil, nil
	}
	if queue == "" {
		queue = "bridge_events"
	}

	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, err
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	log.Info().Str("queue", queue).Msg("RabbitMQ connection established")
	return &Publisher{conn: conn, channel: channel, queue: queue}, nil
}

// Close tears down the channel and connection.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

// MessageForwarded emits one ForwardEvent. Failures are logged and dropped.
func (p *Publisher) MessageForwarded(ctx context.Context, mapping models.MessageMapping, content models.InboundContent) {
	event := ForwardEvent{
		Event:           "message_forwarded",
		ConversationID:  mapping.ConversationID,
		SourceMessageID: mapping.SourceMessageID,
		SenderHandle:    mapping.SenderHandle,
		RelayChatID:     mapping.RelayChatID,
		RelayMessageID:  mapping.RelayMessageID,
		Text:            content.Text,
		MediaCount:      len(content.Media),
		SourceURL:       content.SourceURL,
		ForwardedAt:     time.Now().UTC(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal forward event")
		return
	}
	if err := p.publish(ctx, data); err != nil {
		log.Error().Err(err).Str("queue", p.queue).Msg("Failed to publish forward event")
		return
	}
	log.Debug().Str("queue", p.queue).Str("sourceMessageID", mapping.SourceMessageID).Msg("Forward event published")
}

func (p *Publisher) publish(ctx context.Context, data []byte) error {
	// Declare queue (idempotent)
	_, err := p.channel.QueueDeclare(
		p.queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return err
	}
	return p.channel.PublishWithContext(ctx,
		"",      // exchange (default)
		p.queue, // routing key = queue
		false,   // mandatory
		false,   // immediate
		amqp091.Publishing{
			ContentType: "application/json",
			Body:        data,
		},
	)
}
