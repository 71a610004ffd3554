package chain_manager

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultDuration            = 5.0
	defaultVelocityFactor      = 1.0
	defaultSettlingVelocity    = 0.001
	defaultWaitTime            = 15.0
	defaultGoalTimeTolerance   = 1.0
	defaultPlannerTimeout      = 60.0
	defaultAllowedPlanningTime = 5.0
	defaultJointTolerance      = 0.01
	defaultPollInterval        = 0.01
	defaultArmFeedbackRateHz   = 20
	defaultFeedbackTopic       = "joint_states"
	defaultPlannerTopic        = "move_action"
	defaultMQTTConnectTimeout  = 10.0
)

// ChainConfig describes one group of joints commanded together.
type ChainConfig struct {
	Name string `json:"name" mapstructure:"name"`

	// Exactly one of these selects the command transport. Arm wins when both are set.
	Topic string `json:"topic,omitempty" mapstructure:"topic"` // MQTT trajectory topic prefix
	Arm   string `json:"arm,omitempty" mapstructure:"arm"`     // Viam arm resource name

	PlanningGroup string   `json:"planning_group,omitempty" mapstructure:"planning_group"` // empty = move directly
	Joints        []string `json:"joints" mapstructure:"joints"`
}

// RequiresPlanning reports whether the chain is routed through the planner.
func (c ChainConfig) RequiresPlanning() bool {
	return c.PlanningGroup != ""
}

// MQTTConfig configures the shared broker connection.
type MQTTConfig struct {
	Broker         string  `json:"broker" mapstructure:"broker"`
	ClientID       string  `json:"client_id,omitempty" mapstructure:"client_id"`
	FeedbackTopic  string  `json:"feedback_topic,omitempty" mapstructure:"feedback_topic"`
	PlannerTopic   string  `json:"planner_topic,omitempty" mapstructure:"planner_topic"`
	ConnectTimeout float64 `json:"connect_timeout,omitempty" mapstructure:"connect_timeout"`
}

// Config is read once at startup. All times are in seconds.
type Config struct {
	Chains []ChainConfig `json:"chains" mapstructure:"chains"`

	// Motion parameters
	Duration          float64 `json:"duration,omitempty" mapstructure:"duration"`                       // direct move time (default: 5)
	VelocityFactor    float64 `json:"velocity_factor,omitempty" mapstructure:"velocity_factor"`         // planner velocity scaling (default: 1)
	GoalTimeTolerance float64 `json:"goal_time_tolerance,omitempty" mapstructure:"goal_time_tolerance"` // default: 1

	// Settling
	SettlingTimeout  float64 `json:"settling_timeout,omitempty" mapstructure:"settling_timeout"`   // <= 0 waits forever
	SettlingVelocity float64 `json:"settling_velocity,omitempty" mapstructure:"settling_velocity"` // default: 0.001
	PollInterval     float64 `json:"poll_interval,omitempty" mapstructure:"poll_interval"`         // default: 0.01

	// Planner
	PlannerTimeout      float64 `json:"planner_timeout,omitempty" mapstructure:"planner_timeout"`             // default: 60
	AllowedPlanningTime float64 `json:"allowed_planning_time,omitempty" mapstructure:"allowed_planning_time"` // default: 5
	JointTolerance      float64 `json:"joint_tolerance,omitempty" mapstructure:"joint_tolerance"`             // default: 0.01

	// Readiness probe bound for transports and planner (default: 15)
	WaitTime float64 `json:"wait_time,omitempty" mapstructure:"wait_time"`

	ArmFeedbackRateHz int `json:"arm_feedback_rate_hz,omitempty" mapstructure:"arm_feedback_rate_hz"` // default: 20

	MQTT *MQTTConfig `json:"mqtt,omitempty" mapstructure:"mqtt"`
}

// Validate fills defaults and checks the chain list. Arm names are returned as
// required dependencies.
func (cfg *Config) Validate(path string) ([]string, []string, error) {
	if cfg.Duration <= 0 {
		cfg.Duration = defaultDuration
	}
	if cfg.VelocityFactor <= 0 {
		cfg.VelocityFactor = defaultVelocityFactor
	}
	if cfg.VelocityFactor > 1 {
		return nil, nil, fmt.Errorf("%s: velocity_factor must be in (0, 1], got %v", path, cfg.VelocityFactor)
	}
	if cfg.GoalTimeTolerance <= 0 {
		cfg.GoalTimeTolerance = defaultGoalTimeTolerance
	}
	if cfg.SettlingVelocity <= 0 {
		cfg.SettlingVelocity = defaultSettlingVelocity
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.PlannerTimeout <= 0 {
		cfg.PlannerTimeout = defaultPlannerTimeout
	}
	if cfg.AllowedPlanningTime <= 0 {
		cfg.AllowedPlanningTime = defaultAllowedPlanningTime
	}
	if cfg.JointTolerance <= 0 {
		cfg.JointTolerance = defaultJointTolerance
	}
	if cfg.WaitTime <= 0 {
		cfg.WaitTime = defaultWaitTime
	}
	if cfg.ArmFeedbackRateHz <= 0 {
		cfg.ArmFeedbackRateHz = defaultArmFeedbackRateHz
	}
	if cfg.MQTT != nil {
		if cfg.MQTT.Broker == "" {
			return nil, nil, fmt.Errorf("%s: mqtt.broker must be specified when mqtt is configured", path)
		}
		if cfg.MQTT.ClientID == "" {
			cfg.MQTT.ClientID = "chain-manager"
		}
		if cfg.MQTT.FeedbackTopic == "" {
			cfg.MQTT.FeedbackTopic = defaultFeedbackTopic
		}
		if cfg.MQTT.PlannerTopic == "" {
			cfg.MQTT.PlannerTopic = defaultPlannerTopic
		}
		if cfg.MQTT.ConnectTimeout <= 0 {
			cfg.MQTT.ConnectTimeout = defaultMQTTConnectTimeout
		}
	}

	var deps []string
	names := make(map[string]struct{}, len(cfg.Chains))
	for i, chain := range cfg.Chains {
		if chain.Name == "" {
			return nil, nil, fmt.Errorf("%s: chains[%d] must have a name", path, i)
		}
		if _, dup := names[chain.Name]; dup {
			return nil, nil, fmt.Errorf("%s: duplicate chain name %q", path, chain.Name)
		}
		names[chain.Name] = struct{}{}

		joints := make(map[string]struct{}, len(chain.Joints))
		for _, joint := range chain.Joints {
			if _, dup := joints[joint]; dup {
				return nil, nil, fmt.Errorf("%s: chain %q lists joint %q twice", path, chain.Name, joint)
			}
			joints[joint] = struct{}{}
		}

		switch {
		case chain.Arm != "":
			deps = append(deps, chain.Arm)
		case chain.Topic != "":
			if !cfg.hasMQTT() {
				return nil, nil, fmt.Errorf("%s: chain %q uses topic %q but mqtt is not configured", path, chain.Name, chain.Topic)
			}
		default:
			return nil, nil, fmt.Errorf("%s: chain %q must specify an arm or a topic", path, chain.Name)
		}

		if chain.RequiresPlanning() && !cfg.hasMQTT() {
			return nil, nil, fmt.Errorf("%s: chain %q requires planning but mqtt is not configured", path, chain.Name)
		}
	}

	return deps, nil, nil
}

func (cfg *Config) hasMQTT() bool {
	return cfg.MQTT != nil && cfg.MQTT.Broker != ""
}

// NeedsPlanning reports whether any chain is routed through the planner.
func (cfg *Config) NeedsPlanning() bool {
	for _, chain := range cfg.Chains {
		if chain.RequiresPlanning() {
			return true
		}
	}
	return false
}

func (cfg *Config) duration() time.Duration          { return secondsToDuration(cfg.Duration) }
func (cfg *Config) goalTimeTolerance() time.Duration { return secondsToDuration(cfg.GoalTimeTolerance) }
func (cfg *Config) settlingTimeout() time.Duration   { return secondsToDuration(cfg.SettlingTimeout) }
func (cfg *Config) pollInterval() time.Duration      { return secondsToDuration(cfg.PollInterval) }
func (cfg *Config) plannerTimeout() time.Duration    { return secondsToDuration(cfg.PlannerTimeout) }
func (cfg *Config) waitTime() time.Duration          { return secondsToDuration(cfg.WaitTime) }

// LoadConfigFile reads a yaml, json or toml config file with viper and validates it.
func LoadConfigFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if _, _, err := cfg.Validate(path); err != nil {
		return nil, err
	}
	return cfg, nil
}
