// Package heartbeat publishes a periodic liveness notice onto the lifecycle
// event bus, so a remote observer (or a future console) can tell the
// launcher process is still alive without polling get_status. A
// ticker-plus-bus-subscription shape, with the interval adjustable via a
// retained evbus message.
package heartbeat

import (
	"context"
	"time"

	"github.com/esa-tu-darmstadt/tapasco/internal/evbus"
)

// TopicBeat is the retained topic carrying the most recent heartbeat's
// uptime, in nanoseconds since Start was called.
var TopicBeat = evbus.Topic{"sim", "heartbeat"}

// TopicSetInterval, when published, adjusts the ticker's period. The
// payload is a time.Duration.
var TopicSetInterval = evbus.Topic{"sim", "heartbeat", "set-interval"}

// Service ticks on a configurable interval, publishing TopicBeat each time
// and reacting to TopicSetInterval to change its own cadence.
type Service struct {
	conn *evbus.Connection
}

// New returns a Service that will publish onto events once Start runs.
func New(events *evbus.Bus) *Service {
	return &Service{conn: events.NewConnection()}
}

// Start launches the ticker loop in its own goroutine and returns
// immediately; the loop exits when ctx is cancelled.
func (s *Service) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	go s.run(ctx, interval)
}

func (s *Service) run(ctx context.Context, interval time.Duration) {
	ctrl := s.conn.Subscribe(TopicSetInterval)
	defer s.conn.Unsubscribe(ctrl)

	start := time.Now()
	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			s.conn.Publish(TopicBeat, time.Since(start), true)
		case msg := <-ctrl.Channel():
			if d, ok := msg.Payload.(time.Duration); ok && d > 0 {
				tick.Reset(d)
			}
		}
	}
}
