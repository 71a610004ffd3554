package chain_manager

import (
	"context"
	"errors"
	"math"
	"time"

	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"
)

// waitBudgetFactor scales the longest commanded duration into the completion wait.
const waitBudgetFactor = 1.5

// ChainCoordinator splits whole-robot targets into per-chain trajectory goals and
// watches joint feedback for settling.
type ChainCoordinator struct {
	logger   logging.Logger
	store    *JointStateStore
	registry *chainRegistry
	planner  Planner

	duration          time.Duration
	goalTimeTolerance time.Duration
	plannerTimeout    time.Duration
	settlingTimeout   time.Duration
	settlingVelocity  float64
	pollInterval      time.Duration
	plan              planParams
}

// NewChainCoordinator builds the chain registry from cfg and probes every transport.
// planner may be nil only if no chain has a planning group.
func NewChainCoordinator(
	ctx context.Context,
	cfg *Config,
	transports TransportFactory,
	planner Planner,
	logger logging.Logger,
) (*ChainCoordinator, error) {
	if cfg.NeedsPlanning() && planner == nil {
		return nil, ErrPlannerRequired
	}

	registry, err := newChainRegistry(ctx, cfg.Chains, transports, cfg.waitTime(), logger)
	if err != nil {
		return nil, err
	}

	if planner != nil {
		probeCtx, cancel := context.WithTimeout(ctx, cfg.waitTime())
		if err := planner.Ready(probeCtx); err != nil {
			logger.Warnf("Failed to connect to planner: %v", err)
		}
		cancel()
	}

	return &ChainCoordinator{
		logger:            logger,
		store:             NewJointStateStore(),
		registry:          registry,
		planner:           planner,
		duration:          cfg.duration(),
		goalTimeTolerance: cfg.goalTimeTolerance(),
		plannerTimeout:    cfg.plannerTimeout(),
		settlingTimeout:   cfg.settlingTimeout(),
		settlingVelocity:  cfg.SettlingVelocity,
		pollInterval:      cfg.pollInterval(),
		plan: planParams{
			velocityFactor:      cfg.VelocityFactor,
			jointTolerance:      cfg.JointTolerance,
			allowedPlanningTime: secondsToDuration(cfg.AllowedPlanningTime),
		},
	}, nil
}

// HandleJointState merges a feedback message. Malformed messages are logged and dropped.
func (c *ChainCoordinator) HandleJointState(msg JointStateMessage) {
	if err := c.store.Merge(msg); err != nil {
		c.logger.Errorf("Dropping joint state: %v", err)
	}
}

// State returns a copy of the latest merged joint state and whether it is fresh.
func (c *ChainCoordinator) State() (JointState, bool) {
	return c.store.Snapshot()
}

// MoveToState commands every chain toward target and waits for the transports to
// finish. It returns false with a nil error when planning fails for a chain. An
// error is returned when target lacks a joint that some chain owns, or when ctx ends.
// A chain whose goal cannot be sent is skipped and the result is false.
//
// Chains dispatched before a failure are not cancelled; they are waited on before
// returning so the caller never proceeds with motion still in flight.
func (c *ChainCoordinator) MoveToState(ctx context.Context, target JointState) (bool, error) {
	maxDuration := c.duration
	dispatched := make([]*ChainController, 0, len(c.registry.controllers))

	success := true
	var moveErr error
	for _, controller := range c.registry.controllers {
		goal, ok, err := c.makeGoal(ctx, controller, target)
		if err != nil {
			moveErr = err
			break
		}
		if !ok {
			success = false
			break
		}
		if d := goal.Trajectory.Duration(); d > maxDuration {
			maxDuration = d
		}

		if err := controller.transport.Send(ctx, goal); err != nil {
			c.logger.Warnf("Failed to send goal to chain %s: %v", controller.name, err)
			success = false
			continue
		}
		dispatched = append(dispatched, controller)
	}

	budget := time.Duration(float64(maxDuration) * waitBudgetFactor)
	c.waitForChains(ctx, dispatched, budget)

	if moveErr != nil {
		return false, moveErr
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return success, nil
}

// makeGoal returns the goal for one chain. ok is false when the planner could not
// produce a usable trajectory.
func (c *ChainCoordinator) makeGoal(
	ctx context.Context,
	controller *ChainController,
	target JointState,
) (TrajectoryGoal, bool, error) {
	point, err := makePoint(controller.name, target, controller.jointNames)
	if err != nil {
		return TrajectoryGoal{}, false, err
	}

	goal := TrajectoryGoal{
		Trajectory:        JointTrajectory{JointNames: controller.jointNames},
		GoalTimeTolerance: c.goalTimeTolerance,
	}

	if !controller.ShouldPlan() {
		point.TimeFromStart = c.duration
		goal.Trajectory.Points = []TrajectoryPoint{point}
		return goal, true, nil
	}

	planned, err := c.planChain(ctx, controller, point)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return TrajectoryGoal{}, false, ctxErr
		}
		c.logger.Warnf("Unable to plan chain %s: %v", controller.name, err)
		return TrajectoryGoal{}, false, nil
	}
	goal.Trajectory = planned
	return goal, true, nil
}

func (c *ChainCoordinator) planChain(
	ctx context.Context,
	controller *ChainController,
	point TrajectoryPoint,
) (JointTrajectory, error) {
	planCtx, cancel := context.WithTimeout(ctx, c.plannerTimeout)
	defer cancel()

	req := newPlanRequest(controller, point, c.plan)
	result, err := c.planner.Plan(planCtx, req)
	if err != nil {
		return JointTrajectory{}, err
	}
	if result.ErrorCode != PlanSuccess {
		return JointTrajectory{}, &GoalFailedError{Code: result.ErrorCode, Message: planErrorString(result.ErrorCode)}
	}
	if len(result.Trajectory.Points) == 0 {
		return JointTrajectory{}, errors.New("planner returned an empty trajectory")
	}
	if err := result.Trajectory.Validate(); err != nil {
		return JointTrajectory{}, err
	}
	return result.Trajectory, nil
}

// waitForChains waits on each dispatched chain with the shared budget. Failures are
// logged, not returned.
func (c *ChainCoordinator) waitForChains(ctx context.Context, chains []*ChainController, budget time.Duration) {
	var err error
	for _, controller := range chains {
		if waitErr := controller.transport.Wait(ctx, budget); waitErr != nil {
			err = multierr.Append(err, &chainError{chain: controller.name, err: waitErr})
		}
	}
	if err != nil {
		c.logger.Warnf("Chains did not complete cleanly: %v", err)
	}
}

// WaitToSettle blocks until every managed joint reports |velocity| below the
// settling threshold in feedback received after the call. It returns false when the
// settling timeout elapses first.
func (c *ChainCoordinator) WaitToSettle(ctx context.Context) (bool, error) {
	if len(c.registry.controllers) == 0 {
		return true, nil
	}

	// Only feedback that arrives from here on may prove settling.
	c.store.Invalidate()

	start := time.Now()
	for {
		state, valid := c.store.Snapshot()
		if valid && c.settled(state) {
			return true, nil
		}

		if c.settlingTimeout > 0 && time.Since(start) > c.settlingTimeout {
			c.logger.Debugf("Settling timed out after %v", time.Since(start))
			return false, nil
		}

		if !utils.SelectContextOrWait(ctx, c.pollInterval) {
			return false, ctx.Err()
		}
	}
}

func (c *ChainCoordinator) settled(state JointState) bool {
	for _, sample := range state.Samples {
		if math.Abs(sample.Velocity) < c.settlingVelocity {
			continue
		}
		if c.registry.managesJoint(sample.Name) {
			return false
		}
	}
	return true
}

// Chains returns the chain names in registration order.
func (c *ChainCoordinator) Chains() []string {
	return c.registry.names()
}

// ChainJointNames returns the joints of the named chain, or nil if there is none.
func (c *ChainCoordinator) ChainJointNames(name string) []string {
	controller, ok := c.registry.lookup(name)
	if !ok {
		return nil
	}
	joints := make([]string, len(controller.jointNames))
	copy(joints, controller.jointNames)
	return joints
}

// PlanningGroupName returns the planning group of the named chain, or "".
func (c *ChainCoordinator) PlanningGroupName(name string) string {
	controller, ok := c.registry.lookup(name)
	if !ok {
		return ""
	}
	return controller.planningGroup
}

// ChainReady reports whether the named chain's transport answered its startup probe.
func (c *ChainCoordinator) ChainReady(name string) bool {
	controller, ok := c.registry.lookup(name)
	return ok && controller.Ready()
}

// Close closes every chain transport.
func (c *ChainCoordinator) Close(ctx context.Context) error {
	return c.registry.close(ctx)
}

type chainError struct {
	chain string
	err   error
}

func (e *chainError) Error() string { return "chain " + e.chain + ": " + e.err.Error() }
func (e *chainError) Unwrap() error { return e.err }
