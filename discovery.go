// discovery.go
package chain_manager

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/discovery"
	"go.viam.com/rdk/services/generic"
	"go.viam.com/utils"
)

var ChainDiscoveryModel = resource.NewModel("devrel", "calibration", "chain-discovery")

const (
	defaultListenTime   = 2.0
	controllerStatusSub = "+/status"
)

func init() {
	resource.RegisterService(
		discovery.API,
		ChainDiscoveryModel,
		resource.Registration[discovery.Service, *ChainDiscoveryConfig]{
			Constructor: newChainDiscovery,
		})
}

// ChainDiscoveryConfig is the configuration for the discovery service
type ChainDiscoveryConfig struct {
	Broker     string  `json:"broker"`
	ClientID   string  `json:"client_id,omitempty"`
	ListenTime float64 `json:"listen_time,omitempty"` // seconds to collect status messages (default: 2)
}

// Validate ensures the config is valid
func (cfg *ChainDiscoveryConfig) Validate(path string) ([]string, []string, error) {
	if cfg.Broker == "" {
		return nil, nil, resource.NewConfigValidationFieldRequiredError(path, "broker")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "chain-discovery"
	}
	if cfg.ListenTime <= 0 {
		cfg.ListenTime = defaultListenTime
	}
	return nil, nil, nil
}

// controllerStatus is the retained heartbeat a trajectory controller publishes on
// <topic>/status.
type controllerStatus struct {
	Joints        []string `json:"joints"`
	PlanningGroup string   `json:"planning_group,omitempty"`
}

type topicScanner interface {
	SubscribeFilter(ctx context.Context, filter string, handler func(topic string, payload []byte)) error
	Unsubscribe(ctx context.Context, topic string) error
}

// chainDiscovery implements the discovery service
type chainDiscovery struct {
	resource.Named
	resource.AlwaysRebuild
	resource.TriviallyCloseable
	logger logging.Logger
	cfg    *ChainDiscoveryConfig

	// replaced in tests
	connect func(ctx context.Context) (topicScanner, func(), error)
}

// newChainDiscovery creates a new chain discovery service
func newChainDiscovery(
	ctx context.Context,
	deps resource.Dependencies,
	conf resource.Config,
	logger logging.Logger,
) (discovery.Service, error) {
	cfg, err := resource.NativeConfig[*ChainDiscoveryConfig](conf)
	if err != nil {
		return nil, err
	}

	dis := &chainDiscovery{
		Named:  conf.ResourceName().AsNamed(),
		logger: logger,
		cfg:    cfg,
	}
	dis.connect = func(ctx context.Context) (topicScanner, func(), error) {
		lease, err := brokers.Acquire(ctx, &MQTTConfig{
			Broker:         cfg.Broker,
			ClientID:       cfg.ClientID,
			ConnectTimeout: defaultMQTTConnectTimeout,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return lease, func() {
			if err := lease.Close(context.Background()); err != nil {
				logger.Debugf("Failed to release MQTT connection: %v", err)
			}
		}, nil
	}
	return dis, nil
}

// DiscoverResources listens for controller heartbeats on the broker and proposes a
// chain manager covering every controller heard.
func (dis *chainDiscovery) DiscoverResources(ctx context.Context, extra map[string]any) ([]resource.Config, error) {
	dis.logger.Info("Starting chain discovery")

	scanner, disconnect, err := dis.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer disconnect()

	var mu sync.Mutex
	statuses := make(map[string][]byte)
	err = scanner.SubscribeFilter(ctx, controllerStatusSub, func(topic string, payload []byte) {
		mu.Lock()
		statuses[topic] = payload
		mu.Unlock()
	})
	if err != nil {
		return nil, err
	}

	listened := utils.SelectContextOrWait(ctx, secondsToDuration(dis.cfg.ListenTime))
	if err := scanner.Unsubscribe(ctx, controllerStatusSub); err != nil {
		dis.logger.Debugf("Failed to unsubscribe from %s: %v", controllerStatusSub, err)
	}
	if !listened {
		dis.logger.Info("Discovery cancelled")
		return nil, ctx.Err()
	}

	mu.Lock()
	chains := dis.chainsFromStatuses(statuses)
	mu.Unlock()

	if len(chains) == 0 {
		dis.logger.Info("No trajectory controllers discovered")
		return nil, nil
	}
	dis.logger.Infof("Discovered %d trajectory controllers", len(chains))
	return []resource.Config{generateChainManagerConfig(dis.cfg.Broker, chains)}, nil
}

// chainsFromStatuses turns status messages into chain configs sorted by name.
// Statuses that do not decode or list no joints are skipped.
func (dis *chainDiscovery) chainsFromStatuses(statuses map[string][]byte) []ChainConfig {
	var chains []ChainConfig
	for topic, payload := range statuses {
		var status controllerStatus
		if err := json.Unmarshal(payload, &status); err != nil {
			dis.logger.Debugf("Ignoring status on %s: %v", topic, err)
			continue
		}
		if len(status.Joints) == 0 {
			dis.logger.Debugf("Ignoring status on %s: no joints", topic)
			continue
		}
		controllerTopic := strings.TrimSuffix(topic, "/status")
		chains = append(chains, ChainConfig{
			Name:          chainNameFromTopic(controllerTopic),
			Topic:         controllerTopic,
			PlanningGroup: status.PlanningGroup,
			Joints:        status.Joints,
		})
	}
	sort.Slice(chains, func(i, j int) bool { return chains[i].Name < chains[j].Name })
	return chains
}

// chainNameFromTopic derives a friendly chain name from a controller topic
// arm_controller -> "arm"
// head_trajectory_controller -> "head"
func chainNameFromTopic(topic string) string {
	name := topic
	for _, suffix := range []string{"_trajectory_controller", "_controller"} {
		if trimmed := strings.TrimSuffix(name, suffix); trimmed != "" && trimmed != name {
			return trimmed
		}
	}
	return name
}

// generateChainManagerConfig builds the chain manager service config for the
// discovered chains.
func generateChainManagerConfig(broker string, chains []ChainConfig) resource.Config {
	chainAttrs := make([]interface{}, len(chains))
	for i, chain := range chains {
		joints := make([]interface{}, len(chain.Joints))
		for j, joint := range chain.Joints {
			joints[j] = joint
		}
		attrs := map[string]interface{}{
			"name":   chain.Name,
			"topic":  chain.Topic,
			"joints": joints,
		}
		if chain.PlanningGroup != "" {
			attrs["planning_group"] = chain.PlanningGroup
		}
		chainAttrs[i] = attrs
	}

	return resource.Config{
		Name:  "chain-manager",
		API:   generic.API,
		Model: ChainManagerModel,
		Attributes: map[string]interface{}{
			"chains": chainAttrs,
			"mqtt":   map[string]interface{}{"broker": broker},
		},
	}
}
