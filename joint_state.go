package chain_manager

import (
	"fmt"
	"sync"
)

// JointSample is the latest known position and velocity of one named joint.
type JointSample struct {
	Name     string  `json:"name"`
	Position float64 `json:"position"`
	Velocity float64 `json:"velocity"`
}

// JointState is an ordered set of joint samples with unique names. It is used both as
// a snapshot of the store and as the target of a move request.
type JointState struct {
	Samples []JointSample `json:"samples"`
}

// JointStateMessage is the feedback wire format: parallel arrays as published by the
// robot's joint state publisher.
type JointStateMessage struct {
	Name     []string  `json:"name"`
	Position []float64 `json:"position"`
	Velocity []float64 `json:"velocity"`
}

// NewJointState builds a JointState from parallel arrays. velocities may be nil, in
// which case every velocity is zero.
func NewJointState(names []string, positions, velocities []float64) (JointState, error) {
	if len(names) != len(positions) {
		return JointState{}, &MalformedFeedbackError{Names: len(names), Positions: len(positions), Velocities: len(velocities)}
	}
	if velocities != nil && len(velocities) != len(positions) {
		return JointState{}, &MalformedFeedbackError{Names: len(names), Positions: len(positions), Velocities: len(velocities)}
	}

	state := JointState{Samples: make([]JointSample, 0, len(names))}
	seen := make(map[string]struct{}, len(names))
	for i, name := range names {
		if _, dup := seen[name]; dup {
			return JointState{}, fmt.Errorf("duplicate joint %q in joint state", name)
		}
		seen[name] = struct{}{}

		sample := JointSample{Name: name, Position: positions[i]}
		if velocities != nil {
			sample.Velocity = velocities[i]
		}
		state.Samples = append(state.Samples, sample)
	}
	return state, nil
}

// Lookup returns the sample for name.
func (s JointState) Lookup(name string) (JointSample, bool) {
	for _, sample := range s.Samples {
		if sample.Name == name {
			return sample, true
		}
	}
	return JointSample{}, false
}

// Names returns joint names in order.
func (s JointState) Names() []string {
	names := make([]string, len(s.Samples))
	for i, sample := range s.Samples {
		names[i] = sample.Name
	}
	return names
}

// Len returns the number of joints.
func (s JointState) Len() int {
	return len(s.Samples)
}

func (s JointState) clone() JointState {
	samples := make([]JointSample, len(s.Samples))
	copy(samples, s.Samples)
	return JointState{Samples: samples}
}

// JointStateStore merges asynchronous joint state feedback into a single snapshot.
//
// One mutex guards the samples, the name index and the validity flag. It is held only
// while merging or copying, never across a wait.
type JointStateStore struct {
	mu      sync.Mutex
	state   JointState
	index   map[string]int
	isValid bool
}

// NewJointStateStore returns an empty, invalid store.
func NewJointStateStore() *JointStateStore {
	return &JointStateStore{index: make(map[string]int)}
}

// Merge updates known joints in place and appends unseen joints in arrival order.
// A message whose arrays disagree in length is rejected and leaves the store untouched.
func (s *JointStateStore) Merge(msg JointStateMessage) error {
	if len(msg.Name) != len(msg.Position) || len(msg.Position) != len(msg.Velocity) {
		return &MalformedFeedbackError{
			Names:      len(msg.Name),
			Positions:  len(msg.Position),
			Velocities: len(msg.Velocity),
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, name := range msg.Name {
		if j, ok := s.index[name]; ok {
			s.state.Samples[j].Position = msg.Position[i]
			s.state.Samples[j].Velocity = msg.Velocity[i]
			continue
		}
		s.index[name] = len(s.state.Samples)
		s.state.Samples = append(s.state.Samples, JointSample{
			Name:     name,
			Position: msg.Position[i],
			Velocity: msg.Velocity[i],
		})
	}
	s.isValid = true
	return nil
}

// Snapshot returns a copy of the current state and whether feedback has been merged
// since the last Invalidate.
func (s *JointStateStore) Snapshot() (JointState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone(), s.isValid
}

// Invalidate marks the current data as stale without discarding it.
func (s *JointStateStore) Invalidate() {
	s.mu.Lock()
	s.isValid = false
	s.mu.Unlock()
}
