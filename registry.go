package chain_manager

import (
	"context"
	"fmt"
	"sync"

	"go.viam.com/rdk/logging"
)

type dialFunc func(ctx context.Context, cfg *MQTTConfig, logger logging.Logger) (*mqttBus, error)

type brokerEntry struct {
	bus      *mqttBus
	broker   string
	refCount int
}

// BrokerRegistry shares one MQTT connection per broker and client id between the
// resources of a module process. Brokers drop an older session when a second
// client connects with the same id, so resources configured alike must share.
type BrokerRegistry struct {
	mu      sync.Mutex
	entries map[string]*brokerEntry // broker|client id -> entry
	dial    dialFunc
	logger  logging.Logger
}

// brokers is the process-wide registry used by the module resources.
var brokers = NewBrokerRegistry(logging.NewLogger("mqtt-registry"))

func NewBrokerRegistry(logger logging.Logger) *BrokerRegistry {
	return &BrokerRegistry{
		entries: make(map[string]*brokerEntry),
		dial:    connectMQTT,
		logger:  logger,
	}
}

func brokerKey(cfg *MQTTConfig) string {
	return cfg.Broker + "|" + cfg.ClientID
}

// Acquire returns a lease on the connection for cfg, dialing it on first use.
// Failed dials are not cached.
func (r *BrokerRegistry) Acquire(ctx context.Context, cfg *MQTTConfig, logger logging.Logger) (*busLease, error) {
	if cfg == nil || cfg.Broker == "" {
		return nil, ErrNoMQTT
	}
	key := brokerKey(cfg)

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.entries[key]
	if !exists {
		bus, err := r.dial(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		entry = &brokerEntry{bus: bus, broker: cfg.Broker}
		r.entries[key] = entry
	}
	entry.refCount++
	if exists {
		r.logger.Debugf("Sharing MQTT connection to %s as %s (refCount: %d)", cfg.Broker, cfg.ClientID, entry.refCount)
	}

	return newBusLease(entry.bus, func() { r.release(key) }), nil
}

func (r *BrokerRegistry) release(key string) {
	r.mu.Lock()
	entry, exists := r.entries[key]
	if !exists {
		r.mu.Unlock()
		return
	}
	entry.refCount--
	if entry.refCount > 0 {
		r.mu.Unlock()
		return
	}
	delete(r.entries, key)
	r.mu.Unlock()

	entry.bus.Close()
	r.logger.Infof("Disconnected from MQTT broker at %s", entry.broker)
}

// Status reports the number of leases on a connection and a short summary.
func (r *BrokerRegistry) Status(cfg *MQTTConfig) (int, string) {
	if cfg == nil {
		return 0, ""
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.entries[brokerKey(cfg)]
	if !exists {
		return 0, ""
	}
	subscriptions := 0
	entry.bus.mu.Lock()
	for _, subs := range entry.bus.subs {
		subscriptions += len(subs)
	}
	entry.bus.mu.Unlock()
	return entry.refCount, fmt.Sprintf("Broker: %s, Client: %s, Subscriptions: %d", entry.broker, cfg.ClientID, subscriptions)
}
