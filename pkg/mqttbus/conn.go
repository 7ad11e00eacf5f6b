package mqttbus

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Host     string `yaml:"host" validate:"required"`
	Port     int    `yaml:"port" validate:"required,gt=0"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	ClientID string `yaml:"client_id" validate:"required"`
}

// Connect dials the broker with exponential backoff and returns a connected
// client. The client is disconnected when ctx is cancelled.
func Connect(ctx context.Context, cfg *Config) (mqtt.Client, error) {
	addr := fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(addr)
	opts.SetUsername(cfg.User)
	opts.SetPassword(cfg.Password)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 10 * time.Second
	const maxRetries = 5

	var client mqtt.Client
	err := backoff.Retry(func() error {
		client = mqtt.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			log.Warn().Err(token.Error()).Str("broker", addr).Msg("mqtt connect failed, retrying")
			return token.Error()
		}
		return nil
	}, backoff.WithMaxRetries(bo, uint64(maxRetries-1)))
	if err != nil {
		return nil, fmt.Errorf("could not establish MQTT connection after retries: %w", err)
	}

	log.Info().Str("broker", addr).Msg("connected to MQTT broker")

	go func() {
		<-ctx.Done()
		client.Disconnect(250)
		log.Info().Msg("MQTT connection closed")
	}()

	return client, nil
}

// Close disconnects the shared client if still connected.
func Close(client mqtt.Client) {
	if client.IsConnected() {
		client.Disconnect(250)
	}
}
