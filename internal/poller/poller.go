// internal/poller/poller.go
package poller

import (
	"context"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"

	"github.com/tamzrod/tss-relay/internal/codec"
	"github.com/tamzrod/tss-relay/internal/command"
	"github.com/tamzrod/tss-relay/internal/logging"
	"github.com/tamzrod/tss-relay/internal/telemetry"
)

// Requester abstracts the correlator operation the poller needs.
type Requester interface {
	Request(ctx context.Context, id uint32, timeout time.Duration) (codec.Value, error)
}

// Config is the minimal runtime config the poller needs.
type Config struct {
	Name     string // also the record type
	Interval time.Duration
	Timeout  time.Duration // per command; zero uses the requester default
	Commands []uint32
	Log      *logging.Log
}

// Poller is a clock-driven batch reader.
type Poller struct {
	cfg   Config
	req   Requester
	table *command.Table
	log   *logging.Log

	alive *alive.Alive
}

// New creates a poller with immutable config.
func New(cfg Config, req Requester, table *command.Table) (*Poller, error) {
	if cfg.Name == "" {
		return nil, errors.New("poller: name required")
	}
	if cfg.Interval <= 0 {
		return nil, errors.Errorf("poller %s: interval must be > 0", cfg.Name)
	}
	if len(cfg.Commands) == 0 {
		return nil, errors.Errorf("poller %s: at least one command required", cfg.Name)
	}
	if req == nil {
		return nil, errors.Errorf("poller %s: requester required", cfg.Name)
	}
	cmds := make([]uint32, len(cfg.Commands))
	copy(cmds, cfg.Commands)
	cfg.Commands = cmds
	return &Poller{cfg: cfg, req: req, table: table, log: cfg.Log}, nil
}

func (p *Poller) Name() string { return p.cfg.Name }

func (p *Poller) Interval() time.Duration { return p.cfg.Interval }

type answer struct {
	id  uint32
	v   codec.Value
	err error
}

// PollOnce fires every command of the batch at once and waits for all of
// them. A failed command becomes a missing field; the cycle never aborts.
func (p *Poller) PollOnce(ctx context.Context) PollResult {
	res := PollResult{
		Poller:   p.cfg.Name,
		At:       time.Now(),
		Values:   make(map[uint32]codec.Value, len(p.cfg.Commands)),
		Failures: make(map[uint32]error),
	}

	ch := make(chan answer, len(p.cfg.Commands))
	for _, id := range p.cfg.Commands {
		go func(id uint32) {
			v, err := p.req.Request(ctx, id, p.cfg.Timeout)
			ch <- answer{id: id, v: v, err: err}
		}(id)
	}
	for range p.cfg.Commands {
		a := <-ch
		if a.err != nil {
			res.Failures[a.id] = a.err
			continue
		}
		res.Values[a.id] = a.v
	}

	if len(res.Values) == 0 {
		var first error
		for _, id := range p.cfg.Commands {
			if err := res.Failures[id]; err != nil {
				first = err
				break
			}
		}
		res.Err = errors.Annotatef(first, "poller %s: all %d commands failed", p.cfg.Name, len(res.Failures))
	}
	if n := res.Missing(); n != 0 {
		p.log.Debugf("poller %s: %d/%d missing", p.cfg.Name, n, res.Total())
	}

	res.Record = telemetry.Reshape(p.table, p.cfg.Name, res.At, res.Values, res.Failures)
	return res
}
