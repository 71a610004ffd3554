package chain_manager

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
)

// Result codes as in control_msgs/FollowJointTrajectory.
const (
	trajectorySuccessful            = 0
	trajectoryGoalToleranceViolated = -5
)

type trajectoryGoalMessage struct {
	GoalID            string          `json:"goal_id"`
	Trajectory        JointTrajectory `json:"trajectory"`
	GoalTimeTolerance float64         `json:"goal_time_tolerance"`
}

type trajectoryResultMessage struct {
	GoalID      string `json:"goal_id"`
	ErrorCode   int    `json:"error_code"`
	ErrorString string `json:"error_string,omitempty"`
}

type pendingGoal struct {
	id     string
	result chan error
}

// mqttTransport sends trajectory goals to a controller listening on <topic>/goal and
// collects results from <topic>/result.
type mqttTransport struct {
	bus    messageBus
	topic  string
	logger logging.Logger
	status *statusWatch

	mu      sync.Mutex
	current *pendingGoal
	closed  bool
}

func newMQTTTransport(ctx context.Context, bus messageBus, topic string, logger logging.Logger) (*mqttTransport, error) {
	t := &mqttTransport{
		bus:    bus,
		topic:  topic,
		logger: logger,
		status: newStatusWatch(),
	}
	if err := bus.Subscribe(ctx, t.resultTopic(), t.handleResult); err != nil {
		return nil, errors.Wrapf(err, "failed to subscribe to %s", t.resultTopic())
	}
	if err := bus.Subscribe(ctx, t.statusTopic(), t.status.mark); err != nil {
		return nil, multierr.Combine(
			errors.Wrapf(err, "failed to subscribe to %s", t.statusTopic()),
			bus.Unsubscribe(ctx, t.resultTopic()),
		)
	}
	return t, nil
}

func (t *mqttTransport) goalTopic() string   { return t.topic + "/goal" }
func (t *mqttTransport) resultTopic() string { return t.topic + "/result" }
func (t *mqttTransport) statusTopic() string { return t.topic + "/status" }

// Ready waits for the controller's retained status message.
func (t *mqttTransport) Ready(ctx context.Context) error {
	return t.status.wait(ctx)
}

func (t *mqttTransport) Send(ctx context.Context, goal TrajectoryGoal) error {
	msg := trajectoryGoalMessage{
		GoalID:            uuid.New().String(),
		Trajectory:        goal.Trajectory,
		GoalTimeTolerance: goal.GoalTimeTolerance.Seconds(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTransportClosed
	}
	if t.current != nil {
		t.logger.Debugf("Preempting goal %s on %s", t.current.id, t.topic)
	}
	t.current = &pendingGoal{id: msg.GoalID, result: make(chan error, 1)}
	t.mu.Unlock()

	if err := t.bus.Publish(ctx, t.goalTopic(), false, payload); err != nil {
		t.mu.Lock()
		if t.current != nil && t.current.id == msg.GoalID {
			t.current = nil
		}
		t.mu.Unlock()
		return errors.Wrapf(err, "failed to publish goal to %s", t.goalTopic())
	}
	return nil
}

func (t *mqttTransport) handleResult(payload []byte) {
	var msg trajectoryResultMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.logger.Errorf("Bad trajectory result on %s: %v", t.resultTopic(), err)
		return
	}

	var result error
	switch msg.ErrorCode {
	case trajectorySuccessful:
	case trajectoryGoalToleranceViolated:
		result = ErrGoalToleranceViolated
	default:
		result = &GoalFailedError{Code: msg.ErrorCode, Message: msg.ErrorString}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil || t.current.id != msg.GoalID {
		t.logger.Debugf("Ignoring result for unknown goal %s on %s", msg.GoalID, t.topic)
		return
	}
	select {
	case t.current.result <- result:
	default:
	}
}

// Wait blocks until the latest goal reports a result. With no goal in flight it
// returns nil.
func (t *mqttTransport) Wait(ctx context.Context, timeout time.Duration) error {
	t.mu.Lock()
	goal := t.current
	t.mu.Unlock()
	if goal == nil {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-goal.result:
		t.mu.Lock()
		if t.current == goal {
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

func (t *mqttTransport) Close(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.current = nil
	t.mu.Unlock()

	return multierr.Combine(
		t.bus.Unsubscribe(ctx, t.resultTopic()),
		t.bus.Unsubscribe(ctx, t.statusTopic()),
	)
}
