package cloudsync

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/edged/edged/pkg/identity"
	"github.com/edged/edged/pkg/logging"
)

// WakeupSubscriber connects to the device's MQTT broker (credentials from
// Identity, delivered during provisioning) and triggers an immediate,
// coalesced poll whenever a message arrives on agent/{uuid}/update
// (spec.md §4.7 "MQTT wake-up").
type WakeupSubscriber struct {
	client mqtt.Client
	topic  string
	logger *logging.Logger
}

// NewWakeupSubscriber builds (but does not connect) a subscriber for id's
// broker. Returns nil if id carries no MQTT config — wake-up is an
// optimization, not a requirement, so an agent without MQTT simply polls
// on its fixed interval only.
func NewWakeupSubscriber(id identity.Identity, syncer *Syncer, logger *logging.Logger) *WakeupSubscriber {
	if id.MQTT.BrokerHost == "" {
		return nil
	}
	scheme := "tcp"
	if id.MQTT.Protocol == identity.MQTTTLS {
		scheme = "tls"
	}
	topic := fmt.Sprintf("agent/%s/update", id.UUID)

	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%d", scheme, id.MQTT.BrokerHost, id.MQTT.BrokerPort)).
		SetClientID("edged-" + id.UUID).
		SetUsername(id.MQTT.Username).
		SetPassword(id.MQTT.Password).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(c mqtt.Client) {
			c.Subscribe(topic, 1, func(_ mqtt.Client, _ mqtt.Message) {
				syncer.WakePoll()
			})
		})

	return &WakeupSubscriber{client: mqtt.NewClient(opts), topic: topic, logger: logger}
}

func (w *WakeupSubscriber) Connect() error {
	token := w.client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("cloudsync: mqtt connect: %w", err)
	}
	w.logger.WithComponent(logging.ComponentMQTT).WithFields(map[string]interface{}{
		"topic": w.topic,
	}).Info("subscribed to wake-up topic")
	return nil
}

func (w *WakeupSubscriber) Close() {
	w.client.Disconnect(250)
}
