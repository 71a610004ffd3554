package chain_manager

import (
	"errors"
	"fmt"
)

var (
	ErrPlannerRequired        = errors.New("a chain requires planning but no planner was provided")
	ErrInvalidTrajectoryPoint = errors.New("trajectory point sequences have different lengths")
	ErrTransportTimeout       = errors.New("timed out waiting for trajectory result")
	ErrGoalToleranceViolated  = errors.New("trajectory finished outside goal time tolerance")
	ErrTransportClosed        = errors.New("transport closed")
	ErrNoMQTT                 = errors.New("mqtt broker is not configured")
)

// UnresolvedJointError is returned when a move request does not name a joint that a
// chain owns.
type UnresolvedJointError struct {
	Chain string
	Joint string
}

func (e *UnresolvedJointError) Error() string {
	return fmt.Sprintf("bad move to state for chain %s: missing joint %s", e.Chain, e.Joint)
}

// MalformedFeedbackError describes a joint state message whose arrays disagree in length.
type MalformedFeedbackError struct {
	Names      int
	Positions  int
	Velocities int
}

func (e *MalformedFeedbackError) Error() string {
	if e.Names != e.Positions {
		return fmt.Sprintf("joint state error: name array (%d) is not same size as position array (%d)",
			e.Names, e.Positions)
	}
	return fmt.Sprintf("joint state error: position array (%d) is not same size as velocity array (%d)",
		e.Positions, e.Velocities)
}

// GoalFailedError is reported by a transport whose controller rejected or aborted a goal.
type GoalFailedError struct {
	Code    int
	Message string
}

func (e *GoalFailedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("trajectory goal failed with code %d", e.Code)
	}
	return fmt.Sprintf("trajectory goal failed with code %d: %s", e.Code, e.Message)
}
