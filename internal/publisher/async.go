// internal/publisher/async.go
package publisher

import (
	"expvar"

	"github.com/temoto/alive/v2"

	"github.com/tamzrod/tss-relay/internal/logging"
	"github.com/tamzrod/tss-relay/internal/telemetry"
)

type item struct {
	typ string
	rec telemetry.Record
}

// Async decouples a slow sink (a TCP mirror, a broker) from the pollers.
// Records are queued; when the queue is full the record is dropped.
type Async struct {
	name    string
	next    Publisher
	q       chan item
	log     *logging.Log
	alive   *alive.Alive
	Dropped expvar.Int
}

func NewAsync(name string, next Publisher, size int, log *logging.Log) *Async {
	if size <= 0 {
		size = 1
	}
	a := &Async{
		name:  name,
		next:  next,
		q:     make(chan item, size),
		log:   log,
		alive: alive.NewAlive(),
	}
	a.alive.Add(1)
	go a.worker()
	return a
}

func (a *Async) Publish(recordType string, rec telemetry.Record) error {
	if !a.alive.IsRunning() {
		return nil
	}
	select {
	case a.q <- item{recordType, rec}:
	default:
		a.Dropped.Add(1)
		a.log.Debugf("publisher %s: queue full, dropped %s", a.name, recordType)
	}
	return nil
}

func (a *Async) worker() {
	defer a.alive.Done()
	for {
		select {
		case it := <-a.q:
			if err := a.next.Publish(it.typ, it.rec); err != nil {
				a.log.Errorf("publisher %s: %v", a.name, err)
			}
		case <-a.alive.StopChan():
			a.drain()
			return
		}
	}
}

// drain delivers what is already queued so the last status reaches the sink.
func (a *Async) drain() {
	for {
		select {
		case it := <-a.q:
			if err := a.next.Publish(it.typ, it.rec); err != nil {
				a.log.Errorf("publisher %s: %v", a.name, err)
			}
		default:
			return
		}
	}
}

// Stop delivers queued records and waits for the worker.
func (a *Async) Stop() {
	a.alive.Stop()
	a.alive.Wait()
}
