package chain_manager

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrajectoryPointValidate(t *testing.T) {
	tests := []struct {
		name    string
		point   TrajectoryPoint
		wantErr bool
	}{
		{name: "positions only", point: TrajectoryPoint{Positions: []float64{1, 2}}},
		{name: "all equal", point: TrajectoryPoint{
			Positions:     []float64{1, 2},
			Velocities:    []float64{0, 0},
			Accelerations: []float64{0, 0},
		}},
		{name: "short velocities", point: TrajectoryPoint{
			Positions:  []float64{1, 2},
			Velocities: []float64{0},
		}, wantErr: true},
		{name: "long accelerations", point: TrajectoryPoint{
			Positions:     []float64{1},
			Accelerations: []float64{0, 0},
		}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.point.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTrajectoryPoint)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	_, err := NewTrajectoryPoint([]float64{1}, []float64{0, 0}, nil, 0)
	assert.ErrorIs(t, err, ErrInvalidTrajectoryPoint)
}

func TestJointTrajectory(t *testing.T) {
	traj := JointTrajectory{
		JointNames: []string{"j1", "j2"},
		Points: []TrajectoryPoint{
			{Positions: []float64{0, 0}, TimeFromStart: time.Second},
			{Positions: []float64{1, 2}, TimeFromStart: 3 * time.Second},
		},
	}
	assert.Equal(t, 3*time.Second, traj.Duration())
	assert.NoError(t, traj.Validate())
	assert.Equal(t, time.Duration(0), JointTrajectory{}.Duration())

	traj.Points = append(traj.Points, TrajectoryPoint{Positions: []float64{1}})
	assert.ErrorIs(t, traj.Validate(), ErrInvalidTrajectoryPoint)
}

func TestTrajectoryPointJSON(t *testing.T) {
	data := []byte(`{"positions":[0.5],"velocities":[0],"accelerations":[0],"time_from_start":2.5}`)

	var p TrajectoryPoint
	require.NoError(t, json.Unmarshal(data, &p))
	assert.Equal(t, []float64{0.5}, p.Positions)
	assert.Equal(t, 2500*time.Millisecond, p.TimeFromStart)

	out, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(out))
}

func TestMakePoint(t *testing.T) {
	target, err := NewJointState([]string{"j3", "j1", "j2"}, []float64{3, 1, 2}, nil)
	require.NoError(t, err)

	t.Run("extracts in chain order", func(t *testing.T) {
		p, err := makePoint("arm", target, []string{"j1", "j2"})
		require.NoError(t, err)
		assert.Equal(t, []float64{1, 2}, p.Positions)
		assert.Equal(t, []float64{0, 0}, p.Velocities)
		assert.Equal(t, []float64{0, 0}, p.Accelerations)
	})

	t.Run("missing joint", func(t *testing.T) {
		_, err := makePoint("head", target, []string{"j4"})
		var unresolved *UnresolvedJointError
		require.ErrorAs(t, err, &unresolved)
		assert.Equal(t, "bad move to state for chain head: missing joint j4", err.Error())
	})
}
