package chain_manager

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.viam.com/rdk/components/arm"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/generic"
)

var ChainManagerModel = resource.NewModel("devrel", "calibration", "chain-manager")

func init() {
	resource.RegisterService(generic.API, ChainManagerModel,
		resource.Registration[resource.Resource, *Config]{
			Constructor: newChainManagerService,
		},
	)
}

// chainManagerService exposes a ChainManager through DoCommand.
type chainManagerService struct {
	resource.Named
	resource.AlwaysRebuild

	logger      logging.Logger
	coordinator *ChainCoordinator
	closer      func(context.Context) error

	// serializes motion commands
	moveMu sync.Mutex
}

func newChainManagerService(
	ctx context.Context,
	deps resource.Dependencies,
	rawConf resource.Config,
	logger logging.Logger,
) (resource.Resource, error) {
	conf, err := resource.NativeConfig[*Config](rawConf)
	if err != nil {
		return nil, err
	}

	arms := func(name string) (arm.Arm, error) {
		return arm.FromDependencies(deps, name)
	}
	manager, err := NewChainManager(ctx, conf, arms, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create chain manager: %w", err)
	}

	logger.Infof("Chain manager ready with chains: %v", manager.Chains())
	return &chainManagerService{
		Named:       rawConf.ResourceName().AsNamed(),
		logger:      logger,
		coordinator: manager.ChainCoordinator,
		closer:      manager.Close,
	}, nil
}

func (s *chainManagerService) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	command, ok := cmd["command"].(string)
	if !ok {
		return nil, fmt.Errorf("command must be a string")
	}

	switch command {
	case "move_to_state":
		target, err := targetFromCommand(cmd)
		if err != nil {
			return nil, err
		}
		s.moveMu.Lock()
		defer s.moveMu.Unlock()
		success, err := s.coordinator.MoveToState(ctx, target)
		return map[string]interface{}{"success": success}, err

	case "wait_to_settle":
		s.moveMu.Lock()
		defer s.moveMu.Unlock()
		settled, err := s.coordinator.WaitToSettle(ctx)
		return map[string]interface{}{"settled": settled}, err

	case "move_and_settle":
		target, err := targetFromCommand(cmd)
		if err != nil {
			return nil, err
		}
		s.moveMu.Lock()
		defer s.moveMu.Unlock()
		success, err := s.coordinator.MoveToState(ctx, target)
		if err != nil || !success {
			return map[string]interface{}{"success": success, "settled": false}, err
		}
		settled, err := s.coordinator.WaitToSettle(ctx)
		return map[string]interface{}{"success": success, "settled": settled}, err

	case "get_chains":
		chains := s.coordinator.Chains()
		result := make([]interface{}, len(chains))
		for i, name := range chains {
			result[i] = map[string]interface{}{
				"name":           name,
				"joints":         stringsToInterfaces(s.coordinator.ChainJointNames(name)),
				"planning_group": s.coordinator.PlanningGroupName(name),
				"ready":          s.coordinator.ChainReady(name),
			}
		}
		return map[string]interface{}{"chains": result}, nil

	case "get_chain_joint_names":
		chain, ok := cmd["chain"].(string)
		if !ok {
			return nil, fmt.Errorf("get_chain_joint_names requires 'chain' string parameter")
		}
		return map[string]interface{}{"joints": stringsToInterfaces(s.coordinator.ChainJointNames(chain))}, nil

	case "get_planning_group_name":
		chain, ok := cmd["chain"].(string)
		if !ok {
			return nil, fmt.Errorf("get_planning_group_name requires 'chain' string parameter")
		}
		return map[string]interface{}{"planning_group": s.coordinator.PlanningGroupName(chain)}, nil

	case "get_state":
		state, valid := s.coordinator.State()
		joints := make(map[string]interface{}, state.Len())
		for _, sample := range state.Samples {
			joints[sample.Name] = map[string]interface{}{
				"position": sample.Position,
				"velocity": sample.Velocity,
			}
		}
		return map[string]interface{}{"valid": valid, "joints": joints}, nil

	default:
		return nil, fmt.Errorf("unknown command: %s", command)
	}
}

// targetFromCommand reads {"joints": {name: position}} into a JointState ordered by
// joint name.
func targetFromCommand(cmd map[string]interface{}) (JointState, error) {
	raw, ok := cmd["joints"].(map[string]interface{})
	if !ok {
		return JointState{}, fmt.Errorf("%s requires 'joints' object parameter", cmd["command"])
	}

	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	positions := make([]float64, len(names))
	for i, name := range names {
		position, ok := raw[name].(float64)
		if !ok {
			return JointState{}, fmt.Errorf("position of joint %s must be a number", name)
		}
		positions[i] = position
	}
	return NewJointState(names, positions, nil)
}

func stringsToInterfaces(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func (s *chainManagerService) Close(ctx context.Context) error {
	if s.closer == nil {
		return nil
	}
	return s.closer(ctx)
}
