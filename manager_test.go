package chain_manager

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.viam.com/rdk/logging"
)

// servePlanner answers every plan request on topic with a single-point trajectory
// reaching the constrained positions after duration.
func servePlanner(t *testing.T, bus *memBus, topic string, duration time.Duration) {
	t.Helper()
	require.NoError(t, bus.Publish(context.Background(), topic+"/status", true, []byte("{}")))
	require.NoError(t, bus.Subscribe(context.Background(), topic+"/request", func(payload []byte) {
		var req PlanRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			t.Errorf("bad plan request: %v", err)
			return
		}
		names := make([]string, len(req.GoalConstraints))
		positions := make([]float64, len(req.GoalConstraints))
		for i, c := range req.GoalConstraints {
			names[i] = c.JointName
			positions[i] = c.Position
		}
		bus.publishJSON(t, topic+"/response", PlanResult{
			RequestID: req.RequestID,
			ErrorCode: PlanSuccess,
			Trajectory: JointTrajectory{
				JointNames: names,
				Points:     []TrajectoryPoint{{Positions: positions, TimeFromStart: duration}},
			},
		})
	}))
}

func managerConfig(t *testing.T) *Config {
	t.Helper()
	cfg := &Config{
		Chains: []ChainConfig{
			{Name: "arm", Arm: "so101", Joints: []string{"j1", "j2"}},
			{Name: "head", Topic: "head_controller", PlanningGroup: "head_group", Joints: []string{"j3"}},
		},
		Duration:          0.05,
		GoalTimeTolerance: 1,
		SettlingTimeout:   1,
		ArmFeedbackRateHz: 100,
		MQTT:              &MQTTConfig{Broker: "tcp://localhost:1883"},
	}
	_, _, err := cfg.Validate("test")
	require.NoError(t, err)
	return cfg
}

func TestChainManager(t *testing.T) {
	logger := logging.NewTestLogger(t)
	ctx := context.Background()

	t.Run("wires arm and mqtt chains", func(t *testing.T) {
		bus := newMemBus()
		serveTrajectories(t, bus, "head_controller", trajectorySuccessful)
		servePlanner(t, bus, "move_action", 10*time.Millisecond)

		so101 := newFakeArm(0, 0)
		lookup := func(name string) (jointMover, error) {
			if name != "so101" {
				return nil, errors.New("not found")
			}
			return so101, nil
		}

		m, err := newChainManager(ctx, managerConfig(t), lookup, bus, logger)
		require.NoError(t, err)
		defer func() { assert.NoError(t, m.Close(ctx)) }()

		assert.True(t, m.ChainReady("arm"))
		assert.True(t, m.ChainReady("head"))

		target, err := NewJointState([]string{"j1", "j2", "j3"}, []float64{0.1, 0.2, 0.3}, nil)
		require.NoError(t, err)
		ok, err := m.MoveToState(ctx, target)
		require.NoError(t, err)
		assert.True(t, ok)

		require.Len(t, so101.moves, 1)
		assert.Equal(t, [][]float64{{0.1, 0.2}}, so101.moves[0])
		assert.Len(t, bus.messages("move_action/request"), 1)
		assert.Len(t, bus.messages("head_controller/goal"), 1)

		// arm feedback reports the new pose; mqtt feedback supplies the head
		bus.publishJSON(t, "joint_states", JointStateMessage{
			Name:     []string{"j3"},
			Position: []float64{0.3},
			Velocity: []float64{0},
		})
		require.Eventually(t, func() bool {
			state, _ := m.State()
			sample, ok := state.Lookup("j1")
			return ok && sample.Position == 0.1
		}, time.Second, 5*time.Millisecond)
		state, _ := m.State()
		_, ok = state.Lookup("j3")
		assert.True(t, ok)
	})

	t.Run("planning needs mqtt", func(t *testing.T) {
		cfg := managerConfig(t)
		_, err := newChainManager(ctx, cfg, nil, nil, logger)
		assert.ErrorIs(t, err, ErrNoMQTT)
	})

	t.Run("missing arm fails", func(t *testing.T) {
		cfg := managerConfig(t)
		lookup := func(name string) (jointMover, error) { return nil, errors.New("not found") }
		_, err := newChainManager(ctx, cfg, lookup, newMemBus(), logger)
		assert.ErrorContains(t, err, "failed to find arm so101")
	})

	t.Run("close releases subscriptions", func(t *testing.T) {
		bus := newMemBus()
		cfg := managerConfig(t)
		cfg.Chains = cfg.Chains[1:]
		cfg.WaitTime = 0.01

		m, err := newChainManager(ctx, cfg, nil, bus, logger)
		require.NoError(t, err)
		assert.False(t, m.ChainReady("head"))
		assert.True(t, bus.subscribed("joint_states"))

		require.NoError(t, m.Close(ctx))
		assert.False(t, bus.subscribed("joint_states"))
		assert.False(t, bus.subscribed("head_controller/result"))
		assert.False(t, bus.subscribed("move_action/response"))
	})
}
