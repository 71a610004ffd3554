package chain_manager

import (
	"encoding/json"
	"time"
)

// TrajectoryPoint is one waypoint of a joint trajectory. All three sequences are
// indexed by the trajectory's joint names.
type TrajectoryPoint struct {
	Positions     []float64
	Velocities    []float64
	Accelerations []float64
	TimeFromStart time.Duration
}

// NewTrajectoryPoint returns a point, failing if the sequences differ in length.
func NewTrajectoryPoint(positions, velocities, accelerations []float64, timeFromStart time.Duration) (TrajectoryPoint, error) {
	p := TrajectoryPoint{
		Positions:     positions,
		Velocities:    velocities,
		Accelerations: accelerations,
		TimeFromStart: timeFromStart,
	}
	if err := p.Validate(); err != nil {
		return TrajectoryPoint{}, err
	}
	return p, nil
}

// Validate checks that positions, velocities and accelerations have equal length.
// Planners may omit velocities and accelerations entirely; that is accepted.
func (p TrajectoryPoint) Validate() error {
	n := len(p.Positions)
	if len(p.Velocities) != 0 && len(p.Velocities) != n {
		return ErrInvalidTrajectoryPoint
	}
	if len(p.Accelerations) != 0 && len(p.Accelerations) != n {
		return ErrInvalidTrajectoryPoint
	}
	return nil
}

type trajectoryPointJSON struct {
	Positions     []float64 `json:"positions"`
	Velocities    []float64 `json:"velocities"`
	Accelerations []float64 `json:"accelerations"`
	TimeFromStart float64   `json:"time_from_start"`
}

// MarshalJSON encodes time_from_start in seconds.
func (p TrajectoryPoint) MarshalJSON() ([]byte, error) {
	return json.Marshal(trajectoryPointJSON{
		Positions:     p.Positions,
		Velocities:    p.Velocities,
		Accelerations: p.Accelerations,
		TimeFromStart: p.TimeFromStart.Seconds(),
	})
}

// UnmarshalJSON decodes time_from_start from seconds.
func (p *TrajectoryPoint) UnmarshalJSON(data []byte) error {
	var raw trajectoryPointJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = TrajectoryPoint{
		Positions:     raw.Positions,
		Velocities:    raw.Velocities,
		Accelerations: raw.Accelerations,
		TimeFromStart: secondsToDuration(raw.TimeFromStart),
	}
	return nil
}

// JointTrajectory is an ordered list of points over a fixed set of joints.
type JointTrajectory struct {
	JointNames []string          `json:"joint_names"`
	Points     []TrajectoryPoint `json:"points"`
}

// Duration returns the final point's time from start, or zero for an empty trajectory.
func (t JointTrajectory) Duration() time.Duration {
	if len(t.Points) == 0 {
		return 0
	}
	return t.Points[len(t.Points)-1].TimeFromStart
}

// Validate checks every point against the joint count.
func (t JointTrajectory) Validate() error {
	for _, p := range t.Points {
		if err := p.Validate(); err != nil {
			return err
		}
		if len(p.Positions) != len(t.JointNames) {
			return ErrInvalidTrajectoryPoint
		}
	}
	return nil
}

// TrajectoryGoal is the command dispatched to a chain's transport.
type TrajectoryGoal struct {
	Trajectory        JointTrajectory
	GoalTimeTolerance time.Duration
}

// makePoint extracts the positions of joints from state, in the order of joints.
// Velocities and accelerations are zero.
func makePoint(chain string, state JointState, joints []string) (TrajectoryPoint, error) {
	positions := make([]float64, 0, len(joints))
	for _, joint := range joints {
		sample, ok := state.Lookup(joint)
		if !ok {
			return TrajectoryPoint{}, &UnresolvedJointError{Chain: chain, Joint: joint}
		}
		positions = append(positions, sample.Position)
	}
	return NewTrajectoryPoint(positions, make([]float64, len(joints)), make([]float64, len(joints)), 0)
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
