// Package telemetry publishes bridge events to an MQTT broker. Events
// raised while the broker is unreachable are buffered and drained on
// reconnect, oldest dropped first once the buffer fills.
package telemetry

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// bufferCapacity bounds how many events survive a broker outage.
const bufferCapacity = 64

// Event is one published telemetry record.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	Input     int       `json:"input,omitempty"`
	Command   string    `json:"command,omitempty"`
	State     string    `json:"state,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// Publisher is the telemetry sink.
type Publisher interface {
	// Publish sends or buffers one event. It never blocks.
	Publish(ev Event) error

	// Connected reports whether the broker link is up.
	Connected() bool

	// Close disconnects from the broker.
	Close()
}

// MQTTPublisher publishes events over paho at QoS 0.
type MQTTPublisher struct {
	client mqtt.Client
	topic  string
	logger *zap.Logger

	mu     sync.Mutex
	buffer []Event
}

// NewMQTTPublisher connects to the broker asynchronously and returns
// immediately; publishing before the connection is up buffers.
func NewMQTTPublisher(broker, topic, clientID string, logger *zap.Logger) *MQTTPublisher {
	p := &MQTTPublisher{
		topic:  topic,
		logger: logger.Named("telemetry"),
	}

	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(mqtt.Client) {
			p.logger.Info("Connected to broker", zap.String("broker", broker))
			p.drain()
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			p.logger.Warn("Broker connection lost", zap.Error(err))
		})

	p.client = mqtt.NewClient(opts)
	p.client.Connect() // retries in the background
	return p
}

// Publish sends the event, or buffers it while the broker is down.
func (p *MQTTPublisher) Publish(ev Event) error {
	if !p.client.IsConnected() {
		p.bufferEvent(ev)
		return nil
	}
	return p.send(ev)
}

func (p *MQTTPublisher) send(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	// QoS 0 fire-and-forget; waiting here would stall the poll loop
	p.client.Publish(p.topic, 0, false, data)
	return nil
}

func (p *MQTTPublisher) bufferEvent(ev Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.buffer) >= bufferCapacity {
		p.buffer = p.buffer[1:]
	}
	p.buffer = append(p.buffer, ev)
}

// drain flushes buffered events after a reconnect.
func (p *MQTTPublisher) drain() {
	p.mu.Lock()
	pending := p.buffer
	p.buffer = nil
	p.mu.Unlock()

	if len(pending) == 0 {
		return
	}
	p.logger.Info("Draining buffered events", zap.Int("count", len(pending)))
	for _, ev := range pending {
		if err := p.send(ev); err != nil {
			p.logger.Warn("Drain publish failed", zap.Error(err))
		}
	}
}

// Connected reports whether the broker link is up.
func (p *MQTTPublisher) Connected() bool {
	return p.client.IsConnected()
}

// Close disconnects from the broker, allowing in-flight messages a brief
// window to complete.
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}

// Nop discards all events; used when telemetry is not configured.
type Nop struct{}

// Publish discards the event.
func (Nop) Publish(Event) error { return nil }

// Connected always reports false.
func (Nop) Connected() bool { return false }

// Close does nothing.
func (Nop) Close() {}

// Fake records events for tests.
type Fake struct {
	mu        sync.Mutex
	Up        bool
	Published []Event
}

// NewFake creates a connected fake.
func NewFake() *Fake {
	return &Fake{Up: true}
}

// Publish records the event.
func (f *Fake) Publish(ev Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Published = append(f.Published, ev)
	return nil
}

// Connected reports the scripted link state.
func (f *Fake) Connected() bool { return f.Up }

// Close does nothing.
func (f *Fake) Close() {}

// Events returns a copy of everything published.
func (f *Fake) Events() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Event, len(f.Published))
	copy(out, f.Published)
	return out
}
