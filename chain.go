package chain_manager

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
)

// ChainController pairs a chain's joints with the transport that moves them.
type ChainController struct {
	name          string
	endpoint      string // mqtt topic or arm name
	planningGroup string
	jointNames    []string
	transport     ChainTransport

	// Set by the startup probe; a failed probe is not fatal.
	ready atomic.Bool
}

func newChainController(cfg ChainConfig, transport ChainTransport) *ChainController {
	joints := make([]string, len(cfg.Joints))
	copy(joints, cfg.Joints)

	endpoint := cfg.Topic
	if cfg.Arm != "" {
		endpoint = cfg.Arm
	}

	return &ChainController{
		name:          cfg.Name,
		endpoint:      endpoint,
		planningGroup: cfg.PlanningGroup,
		jointNames:    joints,
		transport:     transport,
	}
}

// ShouldPlan reports whether goals for this chain go through the planner.
func (c *ChainController) ShouldPlan() bool {
	return c.planningGroup != ""
}

// Ready reports whether the transport answered the startup probe.
func (c *ChainController) Ready() bool {
	return c.ready.Load()
}

// chainRegistry is the ordered set of controllers. It is built once and never
// modified, so reads need no locking.
type chainRegistry struct {
	controllers []*ChainController
	byName      map[string]*ChainController
	// joint name -> owning chain, for the settle check
	joints map[string]*ChainController
}

func newChainRegistry(
	ctx context.Context,
	chains []ChainConfig,
	transports TransportFactory,
	waitTime time.Duration,
	logger logging.Logger,
) (*chainRegistry, error) {
	r := &chainRegistry{
		byName: make(map[string]*ChainController, len(chains)),
		joints: make(map[string]*ChainController),
	}

	if len(chains) == 0 {
		logger.Warn("No chains defined.")
		return r, nil
	}

	for _, cfg := range chains {
		if _, dup := r.byName[cfg.Name]; dup {
			r.close(ctx)
			return nil, fmt.Errorf("duplicate chain name %q", cfg.Name)
		}

		transport, err := transports(cfg)
		if err != nil {
			r.close(ctx)
			return nil, fmt.Errorf("failed to create transport for chain %s: %w", cfg.Name, err)
		}

		controller := newChainController(cfg, transport)
		logger.Infof("Creating chain %s on %s", controller.name, controller.endpoint)
		if len(controller.jointNames) == 0 {
			logger.Warnf("Chain %s has no joints", controller.name)
		}

		probeCtx, cancel := context.WithTimeout(ctx, waitTime)
		if err := transport.Ready(probeCtx); err != nil {
			logger.Warnf("Failed to connect to %s: %v", controller.endpoint, err)
		} else {
			controller.ready.Store(true)
		}
		cancel()

		r.controllers = append(r.controllers, controller)
		r.byName[controller.name] = controller
		for _, joint := range controller.jointNames {
			if owner, exists := r.joints[joint]; exists {
				logger.Warnf("Joint %s is claimed by chains %s and %s", joint, owner.name, controller.name)
				continue
			}
			r.joints[joint] = controller
		}
	}

	return r, nil
}

func (r *chainRegistry) names() []string {
	names := make([]string, len(r.controllers))
	for i, c := range r.controllers {
		names[i] = c.name
	}
	return names
}

func (r *chainRegistry) lookup(name string) (*ChainController, bool) {
	c, ok := r.byName[name]
	return c, ok
}

func (r *chainRegistry) managesJoint(joint string) bool {
	_, ok := r.joints[joint]
	return ok
}

func (r *chainRegistry) close(ctx context.Context) error {
	var err error
	for _, c := range r.controllers {
		err = multierr.Combine(err, c.transport.Close(ctx))
	}
	return err
}
