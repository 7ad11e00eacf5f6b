package entity

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/fluxopenhome/irrigation-core/internal/model"
	"github.com/fluxopenhome/irrigation-core/pkg/dedup"
	"github.com/fluxopenhome/irrigation-core/pkg/mqttbus"
)

const (
	StateTopicFilter  = "irrigation/state/#"
	ChangeTopicFilter = "irrigation/change/#"
	commandTopic      = "irrigation/command"
)

// Bridge implements Client over the MQTT bus: reads come from the retained
// state registry, commands are published QoS 1.
type Bridge struct {
	reg      *Registry
	client   mqtt.Client
	deduper  *dedup.Deduper
	cmdWait  time.Duration
}

func NewBridge(client mqtt.Client, reg *Registry) *Bridge {
	return &Bridge{
		reg:     reg,
		client:  client,
		deduper: dedup.New(2*time.Minute, 5000),
		cmdWait: 5 * time.Second,
	}
}

// Run subscribes to state and change topics and feeds the registry until
// ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) {
	consumer := mqttbus.NewMultiConsumer(b.client,
		[]string{StateTopicFilter, ChangeTopicFilter},
		func(topic string, msg mqtt.Message) error {
			if !b.deduper.ShouldProcess(dedup.KeyFor(msg.Topic(), msg.Payload())) {
				return nil
			}
			return b.reg.Ingest(msg.Payload())
		})
	consumer.ConsumeMessage(ctx)
}

func (b *Bridge) ReadState(ctx context.Context, ref model.EntityRef) (State, error) {
	st, ok := b.reg.Get(ref)
	if !ok {
		return State{}, fmt.Errorf("%w: %s", ErrUnknownEntity, ref)
	}
	if !st.Available {
		return st, fmt.Errorf("%w: %s", ErrUnavailable, ref)
	}
	return st, nil
}

type commandPayload struct {
	EntityID string                 `json:"entity_id"`
	Action   string                 `json:"action"`
	Params   map[string]interface{} `json:"params,omitempty"`
}

func (b *Bridge) CallService(ctx context.Context, ref model.EntityRef, action string, params map[string]interface{}) error {
	if ref.IsZero() {
		return fmt.Errorf("%w: empty ref", ErrUnknownEntity)
	}
	pub := mqttbus.NewPublisher(b.client, fmt.Sprintf("%s/%s/%s", commandTopic, ref.Domain(), action))
	payload := commandPayload{EntityID: string(ref), Action: action, Params: params}

	done := make(chan error, 1)
	go func() { done <- pub.PublishMessage(payload) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(b.cmdWait):
		return fmt.Errorf("command %s on %s timed out", action, ref)
	}
}

func (b *Bridge) DeviceEntities(ctx context.Context, deviceID string) ([]State, error) {
	states := b.reg.ForDevice(deviceID)
	if len(states) == 0 {
		return nil, fmt.Errorf("%w: no entities for device %s", ErrUnknownEntity, deviceID)
	}
	return states, nil
}

var _ Client = (*Bridge)(nil)
