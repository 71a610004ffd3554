package chain_manager

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"
)

// feedbackSink receives every decoded joint state message.
type feedbackSink func(JointStateMessage)

// mqttFeedback decodes JointStateMessage JSON from one topic.
type mqttFeedback struct {
	bus    messageBus
	topic  string
	sink   feedbackSink
	logger logging.Logger
}

func startMQTTFeedback(ctx context.Context, bus messageBus, topic string, sink feedbackSink, logger logging.Logger) (*mqttFeedback, error) {
	f := &mqttFeedback{bus: bus, topic: topic, sink: sink, logger: logger}
	if err := bus.Subscribe(ctx, topic, f.handle); err != nil {
		return nil, errors.Wrapf(err, "failed to subscribe to %s", topic)
	}
	logger.Infof("Listening for joint states on %s", topic)
	return f, nil
}

func (f *mqttFeedback) handle(payload []byte) {
	var msg JointStateMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		f.logger.Errorf("Bad joint state on %s: %v", f.topic, err)
		return
	}
	f.sink(msg)
}

func (f *mqttFeedback) Close(ctx context.Context) error {
	return f.bus.Unsubscribe(ctx, f.topic)
}

// armFeedback polls an arm's joint positions and reports them under the chain's joint
// names, with velocities from the difference between consecutive reads.
type armFeedback struct {
	arm    jointMover
	joints []string
	period time.Duration
	sink   feedbackSink
	logger logging.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Owned by the polling goroutine.
	last     []float64
	lastRead time.Time
}

func startArmFeedback(a jointMover, joints []string, rateHz int, sink feedbackSink, logger logging.Logger) *armFeedback {
	ctx, cancel := context.WithCancel(context.Background())
	f := &armFeedback{
		arm:    a,
		joints: joints,
		period: time.Second / time.Duration(rateHz),
		sink:   sink,
		logger: logger,
		cancel: cancel,
	}
	f.wg.Add(1)
	utils.PanicCapturingGo(func() {
		defer f.wg.Done()
		f.poll(ctx)
	})
	return f
}

func (f *armFeedback) poll(ctx context.Context) {
	ticker := time.NewTicker(f.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			inputs, err := f.arm.JointPositions(ctx, nil)
			if err != nil {
				f.logger.Debugf("Failed to read joint positions: %v", err)
				continue
			}
			msg, ok := f.sample(inputs, time.Now())
			if ok {
				f.sink(msg)
			}
		}
	}
}

// sample turns one position read into a message. The first read reports zero
// velocity. Reads whose length does not match the joint list are dropped.
func (f *armFeedback) sample(positions []float64, now time.Time) (JointStateMessage, bool) {
	if len(positions) != len(f.joints) {
		f.logger.Debugf("Arm reported %d joints, expected %d", len(positions), len(f.joints))
		return JointStateMessage{}, false
	}

	velocities := make([]float64, len(positions))
	if f.last != nil {
		if dt := now.Sub(f.lastRead).Seconds(); dt > 0 {
			for i := range positions {
				velocities[i] = (positions[i] - f.last[i]) / dt
			}
		}
	}
	f.last = positions
	f.lastRead = now

	names := make([]string, len(f.joints))
	copy(names, f.joints)
	return JointStateMessage{Name: names, Position: positions, Velocity: velocities}, true
}

func (f *armFeedback) Close() {
	f.cancel()
	f.wg.Wait()
}
