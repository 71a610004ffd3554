package chain_manager

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	t.Run("fills defaults", func(t *testing.T) {
		cfg := &Config{
			Chains: []ChainConfig{{Name: "arm", Arm: "so101", Joints: []string{"j1"}}},
			MQTT:   &MQTTConfig{Broker: "tcp://localhost:1883"},
		}
		deps, optional, err := cfg.Validate("services.0")
		require.NoError(t, err)
		assert.Equal(t, []string{"so101"}, deps)
		assert.Nil(t, optional)

		assert.Equal(t, 5*time.Second, cfg.duration())
		assert.Equal(t, 1.0, cfg.VelocityFactor)
		assert.Equal(t, 0.001, cfg.SettlingVelocity)
		assert.Equal(t, 15*time.Second, cfg.waitTime())
		assert.Equal(t, time.Second, cfg.goalTimeTolerance())
		assert.Equal(t, time.Minute, cfg.plannerTimeout())
		assert.Equal(t, 10*time.Millisecond, cfg.pollInterval())
		assert.Equal(t, 0.01, cfg.JointTolerance)
		assert.Equal(t, 5.0, cfg.AllowedPlanningTime)
		assert.Equal(t, 20, cfg.ArmFeedbackRateHz)
		assert.Equal(t, time.Duration(0), cfg.settlingTimeout())
		assert.Equal(t, "chain-manager", cfg.MQTT.ClientID)
		assert.Equal(t, "joint_states", cfg.MQTT.FeedbackTopic)
		assert.Equal(t, "move_action", cfg.MQTT.PlannerTopic)
	})

	t.Run("keeps explicit values", func(t *testing.T) {
		cfg := &Config{Duration: 2, VelocityFactor: 0.5, SettlingTimeout: 3}
		_, _, err := cfg.Validate("services.0")
		require.NoError(t, err)
		assert.Equal(t, 2*time.Second, cfg.duration())
		assert.Equal(t, 0.5, cfg.VelocityFactor)
		assert.Equal(t, 3*time.Second, cfg.settlingTimeout())
	})

	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name:    "velocity factor above one",
			cfg:     Config{VelocityFactor: 1.5},
			wantErr: "velocity_factor",
		},
		{
			name:    "mqtt without broker",
			cfg:     Config{MQTT: &MQTTConfig{}},
			wantErr: "mqtt.broker",
		},
		{
			name:    "unnamed chain",
			cfg:     Config{Chains: []ChainConfig{{Arm: "a"}}},
			wantErr: "must have a name",
		},
		{
			name: "duplicate chain",
			cfg: Config{Chains: []ChainConfig{
				{Name: "arm", Arm: "a"},
				{Name: "arm", Arm: "b"},
			}},
			wantErr: "duplicate chain name",
		},
		{
			name:    "duplicate joint",
			cfg:     Config{Chains: []ChainConfig{{Name: "arm", Arm: "a", Joints: []string{"j1", "j1"}}}},
			wantErr: "twice",
		},
		{
			name:    "no endpoint",
			cfg:     Config{Chains: []ChainConfig{{Name: "arm"}}},
			wantErr: "must specify an arm or a topic",
		},
		{
			name:    "topic without mqtt",
			cfg:     Config{Chains: []ChainConfig{{Name: "head", Topic: "head_controller"}}},
			wantErr: "mqtt is not configured",
		},
		{
			name:    "planning without mqtt",
			cfg:     Config{Chains: []ChainConfig{{Name: "arm", Arm: "a", PlanningGroup: "arm_group"}}},
			wantErr: "requires planning",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := tt.cfg.Validate("services.0")
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestNeedsPlanning(t *testing.T) {
	cfg := &Config{Chains: []ChainConfig{{Name: "arm"}}}
	assert.False(t, cfg.NeedsPlanning())

	cfg.Chains = append(cfg.Chains, ChainConfig{Name: "head", PlanningGroup: "head_group"})
	assert.True(t, cfg.NeedsPlanning())
	assert.True(t, cfg.Chains[1].RequiresPlanning())
}

func TestLoadConfigFile(t *testing.T) {
	t.Run("yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "chains.yaml")
		content := `
duration: 3
settling_timeout: 10
mqtt:
  broker: tcp://robot.local:1883
chains:
  - name: arm
    topic: arm_controller
    joints: [j1, j2]
  - name: head
    topic: head_controller
    planning_group: head_group
    joints: [j3]
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

		cfg, err := LoadConfigFile(path)
		require.NoError(t, err)
		assert.Equal(t, 3.0, cfg.Duration)
		assert.Equal(t, 10.0, cfg.SettlingTimeout)
		require.Len(t, cfg.Chains, 2)
		assert.Equal(t, []string{"j1", "j2"}, cfg.Chains[0].Joints)
		assert.Equal(t, "head_group", cfg.Chains[1].PlanningGroup)
		assert.Equal(t, "tcp://robot.local:1883", cfg.MQTT.Broker)
		assert.Equal(t, "joint_states", cfg.MQTT.FeedbackTopic)
	})

	t.Run("json", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "chains.json")
		content := `{"mqtt": {"broker": "tcp://localhost:1883"}, "chains": [{"name": "arm", "topic": "arm_controller", "joints": ["j1"]}]}`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

		cfg, err := LoadConfigFile(path)
		require.NoError(t, err)
		assert.Equal(t, "arm_controller", cfg.Chains[0].Topic)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.ErrorContains(t, err, "failed to read config file")
	})

	t.Run("invalid config", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "chains.yaml")
		require.NoError(t, os.WriteFile(path, []byte("chains:\n  - name: arm\n"), 0o644))

		_, err := LoadConfigFile(path)
		assert.ErrorContains(t, err, "must specify an arm or a topic")
	})
}
