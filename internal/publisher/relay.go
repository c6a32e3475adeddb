// internal/publisher/relay.go
package publisher

import (
	"time"

	"github.com/tamzrod/tss-relay/internal/command"
	"github.com/tamzrod/tss-relay/internal/logging"
	"github.com/tamzrod/tss-relay/internal/poller"
	"github.com/tamzrod/tss-relay/internal/status"
	"github.com/tamzrod/tss-relay/internal/telemetry"
)

// Relay turns poll results into published records.
//
// Per result it:
//   - feeds the link tracker
//   - publishes the poller record under the poller name
//   - publishes derived rock records
//   - publishes a status record when the link snapshot changed
type Relay struct {
	pub     Publisher
	tracker *status.Tracker
	rocks   []command.RockGroup
	log     *logging.Log
	now     func() time.Time
}

func NewRelay(pub Publisher, tracker *status.Tracker, rocks []command.RockGroup, log *logging.Log) *Relay {
	if tracker == nil {
		tracker = status.NewTracker()
	}
	return &Relay{
		pub:     pub,
		tracker: tracker,
		rocks:   rocks,
		log:     log,
		now:     time.Now,
	}
}

func (r *Relay) Tracker() *status.Tracker { return r.tracker }

// HandleResult is the poller sink.
func (r *Relay) HandleResult(res poller.PollResult) {
	snap, changed := r.tracker.Observe(res.Poller, res.Missing(), res.Total())

	if res.Err != nil {
		r.log.Errorf("relay: %v", res.Err)
	}
	r.publish(res.Poller, res.Record)

	for _, rock := range telemetry.DeriveRocks(r.rocks, res.Record) {
		r.publish(rock.Type, rock)
	}

	if changed {
		r.publishStatus(snap)
	}
}

// Tick advances seconds_in_error. Call it at 1 Hz.
func (r *Relay) Tick() {
	if snap, changed := r.tracker.Tick(); changed {
		r.publishStatus(snap)
	}
}

// Announce publishes the current link snapshot, so sinks start from a
// known block.
func (r *Relay) Announce() {
	r.publishStatus(r.tracker.Snapshot())
}

// Shutdown marks the link disabled and publishes that last state.
func (r *Relay) Shutdown() {
	r.publishStatus(r.tracker.Disable())
}

func (r *Relay) publishStatus(s status.Snapshot) {
	r.publish(telemetry.TypeStatus, status.Record(s, r.now()))
}

func (r *Relay) publish(typ string, rec telemetry.Record) {
	if err := r.pub.Publish(typ, rec); err != nil {
		r.log.Errorf("relay: publish %s: %v", typ, err)
	}
}
