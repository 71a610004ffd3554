package chain_manager

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJointState(t *testing.T) {
	tests := []struct {
		name       string
		names      []string
		positions  []float64
		velocities []float64
		wantErr    bool
	}{
		{name: "nil velocities", names: []string{"a", "b"}, positions: []float64{1, 2}},
		{name: "with velocities", names: []string{"a"}, positions: []float64{1}, velocities: []float64{0.1}},
		{name: "name/position mismatch", names: []string{"a", "b"}, positions: []float64{1}, wantErr: true},
		{name: "position/velocity mismatch", names: []string{"a"}, positions: []float64{1}, velocities: []float64{0, 0}, wantErr: true},
		{name: "duplicate joint", names: []string{"a", "a"}, positions: []float64{1, 2}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state, err := NewJointState(tt.names, tt.positions, tt.velocities)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.names, state.Names())
			assert.Equal(t, len(tt.names), state.Len())
		})
	}

	state, err := NewJointState([]string{"a"}, []float64{1.5}, nil)
	require.NoError(t, err)
	sample, ok := state.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, JointSample{Name: "a", Position: 1.5}, sample)
	_, ok = state.Lookup("b")
	assert.False(t, ok)
}

func TestJointStateStoreMerge(t *testing.T) {
	t.Run("starts empty and invalid", func(t *testing.T) {
		store := NewJointStateStore()
		state, valid := store.Snapshot()
		assert.False(t, valid)
		assert.Equal(t, 0, state.Len())
	})

	t.Run("updates in place and appends new joints in arrival order", func(t *testing.T) {
		store := NewJointStateStore()
		require.NoError(t, store.Merge(JointStateMessage{
			Name:     []string{"j2", "j1"},
			Position: []float64{2, 1},
			Velocity: []float64{0.2, 0.1},
		}))
		require.NoError(t, store.Merge(JointStateMessage{
			Name:     []string{"j3", "j2"},
			Position: []float64{3, 20},
			Velocity: []float64{0.3, 0},
		}))

		state, valid := store.Snapshot()
		assert.True(t, valid)
		assert.Equal(t, []JointSample{
			{Name: "j2", Position: 20, Velocity: 0},
			{Name: "j1", Position: 1, Velocity: 0.1},
			{Name: "j3", Position: 3, Velocity: 0.3},
		}, state.Samples)
	})

	t.Run("malformed message leaves store unchanged", func(t *testing.T) {
		store := NewJointStateStore()
		require.NoError(t, store.Merge(JointStateMessage{
			Name:     []string{"j1"},
			Position: []float64{1},
			Velocity: []float64{0},
		}))
		store.Invalidate()
		before, _ := store.Snapshot()

		err := store.Merge(JointStateMessage{
			Name:     []string{"j1", "j2"},
			Position: []float64{5},
			Velocity: []float64{0},
		})
		var malformed *MalformedFeedbackError
		require.ErrorAs(t, err, &malformed)
		assert.Contains(t, err.Error(), "name array (2)")

		err = store.Merge(JointStateMessage{
			Name:     []string{"j1"},
			Position: []float64{5},
			Velocity: []float64{},
		})
		require.ErrorAs(t, err, &malformed)
		assert.Contains(t, err.Error(), "velocity array (0)")

		after, valid := store.Snapshot()
		assert.False(t, valid)
		assert.Equal(t, before, after)
	})

	t.Run("invalidate keeps data", func(t *testing.T) {
		store := NewJointStateStore()
		require.NoError(t, store.Merge(JointStateMessage{
			Name:     []string{"j1"},
			Position: []float64{1},
			Velocity: []float64{0},
		}))
		store.Invalidate()

		state, valid := store.Snapshot()
		assert.False(t, valid)
		assert.Equal(t, 1, state.Len())

		require.NoError(t, store.Merge(JointStateMessage{}))
		_, valid = store.Snapshot()
		assert.True(t, valid)
	})

	t.Run("snapshot is a copy", func(t *testing.T) {
		store := NewJointStateStore()
		require.NoError(t, store.Merge(JointStateMessage{
			Name:     []string{"j1"},
			Position: []float64{1},
			Velocity: []float64{0},
		}))

		state, _ := store.Snapshot()
		state.Samples[0].Position = 99

		again, _ := store.Snapshot()
		assert.Equal(t, 1.0, again.Samples[0].Position)
	})
}

func TestJointStateStoreConcurrentAccess(t *testing.T) {
	store := NewJointStateStore()
	const writers = 8
	const iterations = 200

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			name := fmt.Sprintf("j%d", w)
			for i := 0; i < iterations; i++ {
				err := store.Merge(JointStateMessage{
					Name:     []string{name, "shared"},
					Position: []float64{float64(i), float64(w)},
					Velocity: []float64{0, 0},
				})
				if err != nil {
					t.Errorf("merge failed: %v", err)
					return
				}
			}
		}(w)
	}

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				state, _ := store.Snapshot()
				seen := make(map[string]bool, state.Len())
				for _, sample := range state.Samples {
					if seen[sample.Name] {
						t.Errorf("duplicate joint %s in snapshot", sample.Name)
						return
					}
					seen[sample.Name] = true
				}
				if i%50 == 0 {
					store.Invalidate()
				}
			}
		}()
	}
	wg.Wait()

	state, _ := store.Snapshot()
	assert.Equal(t, writers+1, state.Len())
	for w := 0; w < writers; w++ {
		sample, ok := state.Lookup(fmt.Sprintf("j%d", w))
		require.True(t, ok)
		assert.Equal(t, float64(iterations-1), sample.Position)
	}
}
