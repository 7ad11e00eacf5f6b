package mqttbus

import (
	"context"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
)

// IConsumer defines the subscription loop with message type T.
type IConsumer[T any] interface {
	ConsumeMessage(ctx context.Context)
	SetHandler(handler func(topic string, message mqtt.Message) error)
}

// Consumer subscribes to a single topic filter and routes messages to a handler.
type Consumer struct {
	client  mqtt.Client
	handler func(topic string, message mqtt.Message) error
	topic   string
}

func NewConsumer(client mqtt.Client, topic string, handler func(topic string, message mqtt.Message) error) *Consumer {
	return &Consumer{
		client:  client,
		topic:   topic,
		handler: handler,
	}
}

func (c *Consumer) SetHandler(handler func(topic string, message mqtt.Message) error) {
	c.handler = handler
}

// Command and entity-change traffic must not be dropped; state snapshots
// are retained by the broker so QoS 0 is enough there.
func qosFor(topic string) byte {
	t := strings.TrimSpace(topic)
	if strings.HasPrefix(t, "irrigation/command") ||
		strings.HasPrefix(t, "irrigation/change") {
		return 1
	}
	return 0
}

// ConsumeMessage subscribes and blocks until ctx is cancelled.
func (c *Consumer) ConsumeMessage(ctx context.Context) {
	token := c.client.Subscribe(
		c.topic,
		qosFor(c.topic),
		func(client mqtt.Client, message mqtt.Message) {
			if c.handler == nil {
				log.Warn().Str("topic", c.topic).Msg("no handler set")
				return
			}
			if err := c.handler(c.topic, message); err != nil {
				log.Error().Err(err).Str("topic", c.topic).Msg("message handler failed")
			}
		},
	)
	if token.Wait() && token.Error() != nil {
		log.Error().Err(token.Error()).Str("topic", c.topic).Msg("subscribe failed")
		return
	}

	log.Info().Str("topic", c.topic).Msg("subscribed")

	<-ctx.Done()

	unsub := c.client.Unsubscribe(c.topic)
	unsub.Wait()
}

// MultiConsumer subscribes to several topic filters sharing one handler.
type MultiConsumer struct {
	client  mqtt.Client
	topics  []string
	handler func(topic string, message mqtt.Message) error
}

func NewMultiConsumer(client mqtt.Client, topics []string, handler func(topic string, message mqtt.Message) error) *MultiConsumer {
	return &MultiConsumer{
		client:  client,
		topics:  topics,
		handler: handler,
	}
}

func (m *MultiConsumer) SetHandler(handler func(topic string, message mqtt.Message) error) {
	m.handler = handler
}

func (m *MultiConsumer) ConsumeMessage(ctx context.Context) {
	for _, topic := range m.topics {
		topic := topic
		token := m.client.Subscribe(
			topic,
			qosFor(topic),
			func(client mqtt.Client, msg mqtt.Message) {
				if m.handler == nil {
					log.Warn().Str("topic", topic).Msg("no handler set")
					return
				}
				if err := m.handler(topic, msg); err != nil {
					log.Error().Err(err).Str("topic", topic).Msg("message handler failed")
				}
			},
		)
		token.Wait()
		if token.Error() != nil {
			log.Error().Err(token.Error()).Str("topic", topic).Msg("subscribe failed")
		} else {
			log.Info().Str("topic", topic).Msg("subscribed")
		}
	}

	<-ctx.Done()

	for _, topic := range m.topics {
		m.client.Unsubscribe(topic)
	}
}
