package hivemq

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	clientConnectTimeout = 10 * time.Second
	clientOpTimeout      = 5 * time.Second
	retainedSettleDelay  = 100 * time.Millisecond
)

// HealthCheck connects and disconnects an MQTT client against the broker.
func (c *Container) HealthCheck(ctx context.Context) error {
	brokerURL, err := c.BrokerURL()
	if err != nil {
		return err
	}
	return connectProbe(ctx, brokerURL)
}

// CreateClient returns an MQTT client connected to the broker. The caller
// disconnects it when done.
func (c *Container) CreateClient(clientID string, opts ...func(*mqtt.ClientOptions)) (mqtt.Client, error) {
	brokerURL, err := c.BrokerURL()
	if err != nil {
		return nil, err
	}

	mqttOpts := mqtt.NewClientOptions()
	mqttOpts.AddBroker(brokerURL)
	mqttOpts.SetClientID(clientID)
	mqttOpts.SetConnectTimeout(clientConnectTimeout)
	mqttOpts.SetAutoReconnect(true)

	for _, opt := range opts {
		opt(mqttOpts)
	}

	client := mqtt.NewClient(mqttOpts)
	if err := connectWithin(client, clientConnectTimeout); err != nil {
		return nil, fmt.Errorf("client %s: %w", clientID, err)
	}
	return client, nil
}

// ClearRetainedMessages removes every retained message from the broker by
// subscribing to # and publishing empty retained payloads to each topic seen.
func (c *Container) ClearRetainedMessages(ctx context.Context) error {
	client, err := c.CreateClient("retained-cleaner")
	if err != nil {
		return fmt.Errorf("failed to create cleaner client: %w", err)
	}
	defer client.Disconnect(250)

	var mu sync.Mutex
	var retained []string

	token := client.Subscribe("#", 0, func(_ mqtt.Client, msg mqtt.Message) {
		if msg.Retained() {
			mu.Lock()
			retained = append(retained, msg.Topic())
			mu.Unlock()
		}
	})
	if err := waitToken(token, "subscribe"); err != nil {
		return err
	}

	timer := time.NewTimer(retainedSettleDelay)
	select {
	case <-timer.C:
	case <-ctx.Done():
		timer.Stop()
		return fmt.Errorf("context cancelled while waiting for retained messages: %w", ctx.Err())
	}

	if err := waitToken(client.Unsubscribe("#"), "unsubscribe"); err != nil {
		return err
	}

	mu.Lock()
	topics := append([]string(nil), retained...)
	mu.Unlock()

	for _, topic := range topics {
		if err := waitToken(client.Publish(topic, 0, true, nil), "clear "+topic); err != nil {
			return err
		}
	}
	return nil
}

func waitToken(token mqtt.Token, op string) error {
	if !token.WaitTimeout(clientOpTimeout) {
		return fmt.Errorf("%s timeout after %s", op, clientOpTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	return nil
}
