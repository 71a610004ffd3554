package chain_manager

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/components/arm"
	"go.viam.com/rdk/logging"
)

// ArmLookup resolves a configured arm name to the arm component.
type ArmLookup func(name string) (arm.Arm, error)

type moverLookup func(name string) (jointMover, error)

// ChainManager is a ChainCoordinator plus the transports, planner and feedback
// sources built from a Config.
type ChainManager struct {
	*ChainCoordinator

	logger       logging.Logger
	mqtt         *busLease
	planner      *mqttPlanner
	mqttFeedback *mqttFeedback
	armFeedback  []*armFeedback
}

// NewChainManager connects to MQTT when configured and wires every chain. arms may be
// nil when no chain names an arm.
func NewChainManager(ctx context.Context, cfg *Config, arms ArmLookup, logger logging.Logger) (*ChainManager, error) {
	var bus messageBus
	var lease *busLease
	if cfg.hasMQTT() {
		connectCtx, cancel := context.WithTimeout(ctx, secondsToDuration(cfg.MQTT.ConnectTimeout))
		defer cancel()
		l, err := brokers.Acquire(connectCtx, cfg.MQTT, logger)
		if err != nil {
			return nil, err
		}
		bus, lease = l, l
	}

	var lookup moverLookup
	if arms != nil {
		lookup = func(name string) (jointMover, error) { return arms(name) }
	}

	m, err := newChainManager(ctx, cfg, lookup, bus, logger)
	if err != nil {
		if lease != nil {
			err = multierr.Combine(err, lease.Close(ctx))
		}
		return nil, err
	}
	m.mqtt = lease
	return m, nil
}

func newChainManager(ctx context.Context, cfg *Config, arms moverLookup, bus messageBus, logger logging.Logger) (*ChainManager, error) {
	m := &ChainManager{logger: logger}

	var planner Planner
	if cfg.NeedsPlanning() {
		if bus == nil {
			return nil, ErrNoMQTT
		}
		p, err := newMQTTPlanner(ctx, bus, cfg.MQTT.PlannerTopic, logger)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create planner client")
		}
		m.planner = p
		planner = p
	}

	type armChain struct {
		mover  jointMover
		joints []string
	}
	var armChains []armChain

	transports := func(chain ChainConfig) (ChainTransport, error) {
		if chain.Arm != "" {
			if arms == nil {
				return nil, errors.Errorf("chain %s needs arm %s but no arms are available", chain.Name, chain.Arm)
			}
			mover, err := arms(chain.Arm)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to find arm %s", chain.Arm)
			}
			armChains = append(armChains, armChain{mover: mover, joints: chain.Joints})
			return newArmTransport(mover, chain.Arm, chain.Joints, logger), nil
		}
		if bus == nil {
			return nil, ErrNoMQTT
		}
		return newMQTTTransport(ctx, bus, chain.Topic, logger)
	}

	coordinator, err := NewChainCoordinator(ctx, cfg, transports, planner, logger)
	if err != nil {
		if m.planner != nil {
			err = multierr.Combine(err, m.planner.Close(ctx))
		}
		return nil, errors.Wrap(err, "failed to build chains")
	}
	m.ChainCoordinator = coordinator

	if bus != nil {
		feedback, err := startMQTTFeedback(ctx, bus, cfg.MQTT.FeedbackTopic, coordinator.HandleJointState, logger)
		if err != nil {
			return nil, multierr.Combine(err, m.Close(ctx))
		}
		m.mqttFeedback = feedback
	}
	for _, chain := range armChains {
		m.armFeedback = append(m.armFeedback,
			startArmFeedback(chain.mover, chain.joints, cfg.ArmFeedbackRateHz, coordinator.HandleJointState, logger))
	}

	return m, nil
}

// Close stops feedback, closes transports and the planner, then releases the MQTT
// connection.
func (m *ChainManager) Close(ctx context.Context) error {
	for _, f := range m.armFeedback {
		f.Close()
	}

	var err error
	if m.mqttFeedback != nil {
		err = multierr.Combine(err, m.mqttFeedback.Close(ctx))
	}
	if m.ChainCoordinator != nil {
		err = multierr.Combine(err, m.ChainCoordinator.Close(ctx))
	}
	if m.planner != nil {
		err = multierr.Combine(err, m.planner.Close(ctx))
	}
	if m.mqtt != nil {
		err = multierr.Combine(err, m.mqtt.Close(ctx))
	}
	return err
}
