package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

const (
	pushExchange          = "delivery.direct"
	pushDefaultRoutingKey = "push"
)

// pushPlatforms are the platform-specific routing keys the worker consumes.
var pushPlatforms = []string{"android", "ios", "web"}

// pushEnvelope is the payload handed to the downstream push worker.
type pushEnvelope struct {
	MessageID string                 `json:"message_id"`
	Recipient string                 `json:"recipient"`
	Title     string                 `json:"title,omitempty"`
	Body      string                 `json:"body"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// Broker is the subset of the AMQP manager the push channel publishes
// through. Satisfied by rabbitmq.Manager.
type Broker interface {
	DeclareDeliveryTopology(exchange string, routing map[string]string, dlq string) error
	Publish(exchange, routingKey string, body []byte) error
}

// PushChannel hands messages to a RabbitMQ exchange consumed by a dedicated
// push worker; delivery to device platforms happens downstream.
type PushChannel struct {
	*health

	mq     Broker
	logger *slog.Logger
}

// NewPush constructs the channel. A nil broker leaves the channel disabled.
func NewPush(mq Broker, logger *slog.Logger) *PushChannel {
	return &PushChannel{
		health: newHealth("push"),
		mq:     mq,
		logger: logger,
	}
}

func (c *PushChannel) Name() string { return "push" }

// Initialize declares the exchange/queue topology the push worker consumes.
func (c *PushChannel) Initialize(ctx context.Context) error {
	if c.mq == nil {
		c.setState(false, false)
		c.logger.Warn("push channel disabled: no broker connection")
		return nil
	}
	bindings := map[string]string{"push.queue": pushDefaultRoutingKey}
	for _, platform := range pushPlatforms {
		bindings["push."+platform+".queue"] = "push." + platform
	}
	if err := c.mq.DeclareDeliveryTopology(
		pushExchange,
		bindings,
		"push.failed.queue",
	); err != nil {
		c.setState(false, false)
		c.logger.Error("push channel disabled: topology declaration failed", slog.Any("error", err))
		return nil
	}
	c.setState(true, true)
	c.logger.Info("push channel initialized", slog.String("exchange", pushExchange))
	return nil
}

func (c *PushChannel) Status() Status { return c.snapshot() }

// Send publishes the message envelope to the broker.
func (c *PushChannel) Send(ctx context.Context, msg *Message) *SendResult {
	if !c.isEnabled() {
		return c.notConfigured("broker connection missing")
	}

	routingKey := pushDefaultRoutingKey
	if platform, ok := msg.Metadata["platform"].(string); ok && platform != "" {
		routingKey = "push." + platform
	}

	envelope := pushEnvelope{
		MessageID: msg.ID,
		Recipient: msg.Recipient,
		Title:     msg.Subject,
		Body:      msg.Body,
		Metadata:  msg.Metadata,
		CreatedAt: time.Now().UTC(),
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return c.recordResult(&SendResult{Err: fmt.Errorf("marshal envelope: %w", err)})
	}

	if err := c.mq.Publish(pushExchange, routingKey, body); err != nil {
		return c.recordResult(&SendResult{Err: fmt.Errorf("publish envelope: %w", err)})
	}

	return c.recordResult(&SendResult{
		Success:   true,
		MessageID: msg.ID,
		ProviderResponse: map[string]interface{}{
			"exchange":    pushExchange,
			"routing_key": routingKey,
		},
	})
}
