// internal/poller/builder.go
package poller

import (
	"time"

	"github.com/juju/errors"

	"github.com/tamzrod/tss-relay/internal/command"
	cfg "github.com/tamzrod/tss-relay/internal/config"
	"github.com/tamzrod/tss-relay/internal/logging"
)

// Build constructs one Poller from its config section.
// The batch comes from the profile unless the section lists commands.
// Requests share the caller's requester; no connection state lives here.
func Build(pc cfg.PollerConfig, prof command.Profile, table *command.Table, req Requester, log *logging.Log) (*Poller, error) {
	ids := pc.Commands
	if len(ids) == 0 {
		switch pc.Batch {
		case cfg.BatchFast:
			ids = prof.Fast
		case cfg.BatchSlow:
			ids = prof.Slow
		default:
			return nil, errors.NotValidf("poller %s: batch %q", pc.Name, pc.Batch)
		}
	}

	return New(
		Config{
			Name:     pc.Name,
			Interval: time.Duration(pc.IntervalMs) * time.Millisecond,
			Timeout:  time.Duration(pc.TimeoutMs) * time.Millisecond,
			Commands: ids,
			Log:      log,
		},
		req,
		table,
	)
}

// BuildAll builds every configured poller, failing on the first error.
func BuildAll(pcs []cfg.PollerConfig, prof command.Profile, table *command.Table, req Requester, log *logging.Log) ([]*Poller, error) {
	out := make([]*Poller, 0, len(pcs))
	for _, pc := range pcs {
		p, err := Build(pc, prof, table, req, log)
		if err != nil {
			return nil, errors.Trace(err)
		}
		out = append(out, p)
	}
	return out, nil
}
