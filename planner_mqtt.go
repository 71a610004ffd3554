package chain_manager

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
)

// mqttPlanner talks to a planning service over <topic>/request and <topic>/response,
// matching replies to callers by request id.
type mqttPlanner struct {
	bus    messageBus
	topic  string
	logger logging.Logger
	status *statusWatch

	mu      sync.Mutex
	pending map[string]chan PlanResult
}

func newMQTTPlanner(ctx context.Context, bus messageBus, topic string, logger logging.Logger) (*mqttPlanner, error) {
	p := &mqttPlanner{
		bus:     bus,
		topic:   topic,
		logger:  logger,
		status:  newStatusWatch(),
		pending: make(map[string]chan PlanResult),
	}
	if err := bus.Subscribe(ctx, p.responseTopic(), p.handleResponse); err != nil {
		return nil, errors.Wrapf(err, "failed to subscribe to %s", p.responseTopic())
	}
	if err := bus.Subscribe(ctx, p.statusTopic(), p.status.mark); err != nil {
		return nil, multierr.Combine(
			errors.Wrapf(err, "failed to subscribe to %s", p.statusTopic()),
			bus.Unsubscribe(ctx, p.responseTopic()),
		)
	}
	return p, nil
}

func (p *mqttPlanner) requestTopic() string  { return p.topic + "/request" }
func (p *mqttPlanner) responseTopic() string { return p.topic + "/response" }
func (p *mqttPlanner) statusTopic() string   { return p.topic + "/status" }

func (p *mqttPlanner) Ready(ctx context.Context) error {
	return p.status.wait(ctx)
}

func (p *mqttPlanner) Plan(ctx context.Context, req PlanRequest) (PlanResult, error) {
	req.RequestID = uuid.New().String()
	payload, err := json.Marshal(req)
	if err != nil {
		return PlanResult{}, err
	}

	reply := make(chan PlanResult, 1)
	p.mu.Lock()
	p.pending[req.RequestID] = reply
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.pending, req.RequestID)
		p.mu.Unlock()
	}()

	if err := p.bus.Publish(ctx, p.requestTopic(), false, payload); err != nil {
		return PlanResult{}, errors.Wrapf(err, "failed to publish plan request for %s", req.GroupName)
	}

	select {
	case result := <-reply:
		return result, nil
	case <-ctx.Done():
		return PlanResult{}, errors.Wrapf(ctx.Err(), "no plan for %s", req.GroupName)
	}
}

func (p *mqttPlanner) handleResponse(payload []byte) {
	var result PlanResult
	if err := json.Unmarshal(payload, &result); err != nil {
		p.logger.Errorf("Bad plan response on %s: %v", p.responseTopic(), err)
		return
	}

	p.mu.Lock()
	reply, ok := p.pending[result.RequestID]
	p.mu.Unlock()
	if !ok {
		p.logger.Debugf("Ignoring plan response for unknown request %s", result.RequestID)
		return
	}
	select {
	case reply <- result:
	default:
	}
}

func (p *mqttPlanner) Close(ctx context.Context) error {
	return multierr.Combine(
		p.bus.Unsubscribe(ctx, p.responseTopic()),
		p.bus.Unsubscribe(ctx, p.statusTopic()),
	)
}
