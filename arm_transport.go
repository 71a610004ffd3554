package chain_manager

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/components/arm"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/referenceframe"
	"go.viam.com/utils"
)

// jointMover is the part of arm.Arm used to execute and observe trajectories.
type jointMover interface {
	JointPositions(ctx context.Context, extra map[string]interface{}) ([]referenceframe.Input, error)
	MoveThroughJointPositions(ctx context.Context, positions [][]referenceframe.Input, options *arm.MoveOptions, extra map[string]interface{}) error
	Stop(ctx context.Context, extra map[string]interface{}) error
}

type armMotion struct {
	cancel context.CancelFunc
	done   chan error
}

// armTransport executes trajectory goals on a Viam arm. Each goal runs on its own
// goroutine; a new goal cancels the one in flight.
type armTransport struct {
	arm    jointMover
	name   string
	joints []string // arm joint order
	logger logging.Logger

	mu      sync.Mutex
	current *armMotion
	closed  bool
}

func newArmTransport(a jointMover, name string, joints []string, logger logging.Logger) *armTransport {
	return &armTransport{arm: a, name: name, joints: joints, logger: logger}
}

// Ready succeeds once the arm answers a joint position read.
func (t *armTransport) Ready(ctx context.Context) error {
	_, err := t.arm.JointPositions(ctx, nil)
	return err
}

func (t *armTransport) Send(ctx context.Context, goal TrajectoryGoal) error {
	if err := goal.Trajectory.Validate(); err != nil {
		return err
	}

	points, err := t.armOrder(goal.Trajectory)
	if err != nil {
		return err
	}

	start, err := t.arm.JointPositions(ctx, nil)
	if err != nil {
		return errors.Wrapf(err, "failed to read joint positions of %s", t.name)
	}
	if len(start) != len(t.joints) {
		return fmt.Errorf("arm %s has %d joints but chain has %d", t.name, len(start), len(t.joints))
	}

	waypoints := make([][]referenceframe.Input, len(points))
	for i, p := range points {
		waypoints[i] = p.Positions
	}

	var opts *arm.MoveOptions
	if v := maxJointSpeed(start, points); v > 0 {
		opts = &arm.MoveOptions{MaxVelRads: v}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTransportClosed
	}
	if t.current != nil {
		t.logger.Debugf("Preempting motion on %s", t.name)
		t.current.cancel()
	}

	moveCtx, cancel := context.WithCancel(context.Background())
	motion := &armMotion{cancel: cancel, done: make(chan error, 1)}
	t.current = motion

	deadline := goal.Trajectory.Duration() + goal.GoalTimeTolerance
	utils.PanicCapturingGo(func() {
		defer cancel()
		began := time.Now()
		err := t.arm.MoveThroughJointPositions(moveCtx, waypoints, opts, nil)
		if err == nil && goal.Trajectory.Duration() > 0 && time.Since(began) > deadline {
			err = ErrGoalToleranceViolated
		}
		motion.done <- err
	})
	return nil
}

// armOrder returns the trajectory points with positions in arm joint order. The
// trajectory must name exactly the arm's joints, in any order.
func (t *armTransport) armOrder(traj JointTrajectory) ([]TrajectoryPoint, error) {
	if len(traj.JointNames) != len(t.joints) {
		return nil, fmt.Errorf("arm %s has %d joints but trajectory has %d", t.name, len(t.joints), len(traj.JointNames))
	}
	index := make(map[string]int, len(traj.JointNames))
	for i, name := range traj.JointNames {
		index[name] = i
	}
	order := make([]int, len(t.joints))
	for i, joint := range t.joints {
		j, ok := index[joint]
		if !ok {
			return nil, fmt.Errorf("trajectory for arm %s is missing joint %s", t.name, joint)
		}
		order[i] = j
	}

	points := make([]TrajectoryPoint, len(traj.Points))
	for i, p := range traj.Points {
		positions := make([]float64, len(order))
		for k, j := range order {
			positions[k] = p.Positions[j]
		}
		points[i] = TrajectoryPoint{Positions: positions, TimeFromStart: p.TimeFromStart}
	}
	return points, nil
}

// maxJointSpeed returns the fastest joint speed, in rad/s, implied by moving from
// start through points on their time stamps. Zero means no limit can be derived.
func maxJointSpeed(start []float64, points []TrajectoryPoint) float64 {
	var fastest float64
	prev := start
	var prevTime time.Duration
	for _, p := range points {
		dt := (p.TimeFromStart - prevTime).Seconds()
		if dt > 0 {
			for i := range p.Positions {
				if v := math.Abs(p.Positions[i]-prev[i]) / dt; v > fastest {
					fastest = v
				}
			}
		}
		prev = p.Positions
		prevTime = p.TimeFromStart
	}
	return fastest
}

func (t *armTransport) Wait(ctx context.Context, timeout time.Duration) error {
	t.mu.Lock()
	motion := t.current
	t.mu.Unlock()
	if motion == nil {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-motion.done:
		t.mu.Lock()
		if t.current == motion {
			t.current = nil
		}
		t.mu.Unlock()
		return err
	case <-timer.C:
		return ErrTransportTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *armTransport) Close(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	motion := t.current
	t.current = nil
	t.mu.Unlock()

	if motion == nil {
		return nil
	}
	motion.cancel()
	return t.arm.Stop(ctx, nil)
}
