package publish

import (
	"context"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const DefaultTopic = "moto/detections"

// MQTTPublisher sends frame payloads to an MQTT broker
type MQTTPublisher struct {
	client mqtt.Client
	topic  string
	qos    byte
}

// NewMQTTPublisher connects to broker (e.g. tcp://localhost:1883) and
// publishes on topic
func NewMQTTPublisher(broker, clientId, topic string, qos byte) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientId).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(5 * time.Second).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Printf("MQTT connection to [%s] lost: %v", broker, err)
		}).
		SetOnConnectHandler(func(_ mqtt.Client) {
			log.Printf("MQTT connected to [%s], publishing on [%s]", broker, topic)
		})

	client := mqtt.NewClient(opts)
	tok := client.Connect()
	if !tok.WaitTimeout(10 * time.Second) {
		// SetConnectRetry keeps trying in the background
		log.Printf("MQTT broker [%s] not reachable yet, retrying in background", broker)
	} else if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", broker, err)
	}

	return &MQTTPublisher{
		client: client,
		topic:  topic,
		qos:    qos,
	}, nil
}

// Publish sends the payload and waits for the broker to acknowledge it or ctx to end
func (p *MQTTPublisher) Publish(ctx context.Context, payload Payload) error {
	b, err := payload.Marshal()
	if err != nil {
		return fmt.Errorf("error marshalling payload: %w", err)
	}
	tok := p.client.Publish(p.topic, p.qos, false, b)
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}
