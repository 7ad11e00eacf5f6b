package mqttbus

import (
	"encoding/json"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
)

// IPublisher publishes one message type to a fixed topic.
type IPublisher interface {
	PublishMessage(message interface{}) error
	Close()
}

// Publisher writes JSON payloads to a single topic.
type Publisher struct {
	client   mqtt.Client
	topic    string
	qos      byte
	retained bool
}

func NewPublisher(client mqtt.Client, topic string) *Publisher {
	return &Publisher{
		client: client,
		topic:  topic,
		qos:    qosFor(topic),
	}
}

// NewRetainedPublisher marks published payloads as retained so late
// subscribers see the last value.
func NewRetainedPublisher(client mqtt.Client, topic string) *Publisher {
	p := NewPublisher(client, topic)
	p.retained = true
	return p
}

// PublishMessage marshals message to JSON unless it is already a string
// or byte slice, then publishes it.
func (p *Publisher) PublishMessage(message interface{}) error {
	var payload []byte
	switch v := message.(type) {
	case string:
		payload = []byte(v)
	case []byte:
		payload = v
	default:
		b, err := json.Marshal(message)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		payload = b
	}

	token := p.client.Publish(p.topic, p.qos, p.retained, payload)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("failed to publish message: %w", token.Error())
	}

	log.Debug().Str("topic", p.topic).Int("bytes", len(payload)).Msg("published")
	return nil
}

// Close disconnects the underlying client.
func (p *Publisher) Close() {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}
