// internal/poller/runner.go
package poller

import (
	"context"
	"time"

	"github.com/temoto/alive/v2"
)

// Run starts the ticker loop and emits PollResult on the provided channel.
// One goroutine per poller. No overlap: ticks that arrive while a cycle is
// still collecting answers are dropped by the ticker.
func (p *Poller) Run(ctx context.Context, out chan<- PollResult) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res := p.PollOnce(ctx)
			if ctx.Err() != nil {
				return
			}
			select {
			case out <- res:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Start runs the poller in the background, handing every result to sink.
// Stop ends it.
func (p *Poller) Start(sink func(PollResult)) {
	a := alive.NewAlive()
	p.alive = a
	a.Add(1)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-a.StopChan()
		cancel()
	}()

	out := make(chan PollResult)
	go func() {
		defer close(out)
		p.Run(ctx, out)
	}()
	go func() {
		defer a.Done()
		for res := range out {
			sink(res)
		}
	}()
}

// Stop cancels the in-progress cycle and waits for the sink to return.
func (p *Poller) Stop() {
	if p.alive == nil {
		return
	}
	p.alive.Stop()
	p.alive.Wait()
}
