package chain_manager

import (
	"context"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
)

// messageBus is the slice of an MQTT client the transports, planner and feedback use.
// Topics are exact; no wildcards.
type messageBus interface {
	Publish(ctx context.Context, topic string, retained bool, payload []byte) error
	Subscribe(ctx context.Context, topic string, handler func(payload []byte)) error
	Unsubscribe(ctx context.Context, topic string) error
}

type subscriber struct {
	id      uint64
	handler func(topic string, payload []byte)
}

// mqttBus wraps one paho client that several leases may share. Each topic filter is
// subscribed once on the broker and fanned out to every subscriber. Subscriptions
// are replayed on reconnect.
type mqttBus struct {
	client mqtt.Client
	logger logging.Logger

	// serializes broker subscribe/unsubscribe round trips
	opMu sync.Mutex

	mu     sync.Mutex
	subs   map[string][]subscriber
	nextID uint64
}

func newMQTTBus(logger logging.Logger) *mqttBus {
	return &mqttBus{
		logger: logger,
		subs:   make(map[string][]subscriber),
	}
}

func connectMQTT(ctx context.Context, cfg *MQTTConfig, logger logging.Logger) (*mqttBus, error) {
	if cfg == nil || cfg.Broker == "" {
		return nil, ErrNoMQTT
	}

	bus := newMQTTBus(logger)
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetConnectTimeout(secondsToDuration(cfg.ConnectTimeout)).
		SetAutoReconnect(true).
		SetOnConnectHandler(bus.resubscribe).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warnf("MQTT connection lost: %v", err)
		})

	bus.client = mqtt.NewClient(opts)
	if err := waitToken(ctx, bus.client.Connect()); err != nil {
		return nil, errors.Wrapf(err, "failed to connect to MQTT broker %s", cfg.Broker)
	}
	logger.Infof("Connected to MQTT broker at %s", cfg.Broker)
	return bus, nil
}

func (b *mqttBus) publish(ctx context.Context, topic string, retained bool, payload []byte) error {
	return waitToken(ctx, b.client.Publish(topic, 1, retained, payload))
}

// subscribe adds a subscriber to filter. The broker subscription is always reissued
// so the new subscriber also receives the retained message.
func (b *mqttBus) subscribe(ctx context.Context, filter string, handler func(topic string, payload []byte)) (uint64, error) {
	b.opMu.Lock()
	defer b.opMu.Unlock()

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[filter] = append(b.subs[filter], subscriber{id: id, handler: handler})
	b.mu.Unlock()

	if err := waitToken(ctx, b.client.Subscribe(filter, 1, b.dispatch(filter))); err != nil {
		b.remove(filter, id)
		return 0, err
	}
	return id, nil
}

// unsubscribe drops one subscriber. The broker subscription goes away with the last one.
func (b *mqttBus) unsubscribe(ctx context.Context, filter string, id uint64) error {
	b.opMu.Lock()
	defer b.opMu.Unlock()

	if b.remove(filter, id) > 0 {
		return nil
	}
	return waitToken(ctx, b.client.Unsubscribe(filter))
}

func (b *mqttBus) remove(filter string, id uint64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[filter]
	for i, s := range subs {
		if s.id == id {
			subs = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(b.subs, filter)
	} else {
		b.subs[filter] = subs
	}
	return len(subs)
}

func (b *mqttBus) subscribers(filter string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[filter])
}

func (b *mqttBus) dispatch(filter string) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		b.mu.Lock()
		subs := append([]subscriber(nil), b.subs[filter]...)
		b.mu.Unlock()
		for _, s := range subs {
			s.handler(msg.Topic(), msg.Payload())
		}
	}
}

// resubscribe runs on every (re)connect. On the first connect nothing is subscribed yet.
func (b *mqttBus) resubscribe(client mqtt.Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for filter := range b.subs {
		token := client.Subscribe(filter, 1, b.dispatch(filter))
		// Waiting inside the connect handler can stall paho's router.
		go func(filter string) {
			if token.WaitTimeout(5*time.Second) && token.Error() != nil {
				b.logger.Warnf("Failed to resubscribe to %s: %v", filter, token.Error())
			}
		}(filter)
	}
}

func (b *mqttBus) Close() {
	b.client.Disconnect(250)
}

// busLease is one user's handle on a shared mqttBus. It remembers its own
// subscriptions so Close only drops those.
type busLease struct {
	bus     *mqttBus
	release func()

	mu     sync.Mutex
	subs   map[string]uint64
	closed bool
}

func newBusLease(bus *mqttBus, release func()) *busLease {
	return &busLease{bus: bus, release: release, subs: make(map[string]uint64)}
}

func (l *busLease) Publish(ctx context.Context, topic string, retained bool, payload []byte) error {
	return l.bus.publish(ctx, topic, retained, payload)
}

func (l *busLease) Subscribe(ctx context.Context, topic string, handler func(payload []byte)) error {
	return l.SubscribeFilter(ctx, topic, func(_ string, payload []byte) { handler(payload) })
}

// SubscribeFilter subscribes to a topic or wildcard filter. Handlers see the concrete
// topic. Subscribing again to the same filter replaces the handler.
func (l *busLease) SubscribeFilter(ctx context.Context, filter string, handler func(topic string, payload []byte)) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrNoMQTT
	}
	old, replacing := l.subs[filter]
	l.mu.Unlock()

	id, err := l.bus.subscribe(ctx, filter, handler)
	if err != nil {
		return err
	}
	if replacing {
		l.bus.remove(filter, old)
	}

	l.mu.Lock()
	l.subs[filter] = id
	l.mu.Unlock()
	return nil
}

func (l *busLease) Unsubscribe(ctx context.Context, topic string) error {
	l.mu.Lock()
	id, ok := l.subs[topic]
	delete(l.subs, topic)
	l.mu.Unlock()
	if !ok {
		return nil
	}
	return l.bus.unsubscribe(ctx, topic, id)
}

// Close drops this lease's subscriptions and releases the connection. It is safe to
// call more than once.
func (l *busLease) Close(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	subs := l.subs
	l.subs = make(map[string]uint64)
	l.mu.Unlock()

	var err error
	for filter, id := range subs {
		err = multierr.Append(err, l.bus.unsubscribe(ctx, filter, id))
	}
	if l.release != nil {
		l.release()
	}
	return err
}

func waitToken(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// statusWatch records whether a peer has announced itself on a status topic.
type statusWatch struct {
	once sync.Once
	seen chan struct{}
}

func newStatusWatch() *statusWatch {
	return &statusWatch{seen: make(chan struct{})}
}

func (w *statusWatch) mark(_ []byte) {
	w.once.Do(func() { close(w.seen) })
}

func (w *statusWatch) wait(ctx context.Context) error {
	select {
	case <-w.seen:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
