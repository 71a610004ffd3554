package chain_manager

import (
	"context"
	"time"
)

// ChainTransport executes trajectory goals for one chain and reports completion.
//
// Send must not block until the motion finishes; Wait does that, bounded by timeout.
// A new Send preempts a goal that is still in flight.
type ChainTransport interface {
	Ready(ctx context.Context) error
	Send(ctx context.Context, goal TrajectoryGoal) error
	Wait(ctx context.Context, timeout time.Duration) error
	Close(ctx context.Context) error
}

// TransportFactory builds the transport for a configured chain.
type TransportFactory func(chain ChainConfig) (ChainTransport, error)
