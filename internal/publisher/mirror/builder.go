// internal/publisher/mirror/builder.go
package mirror

import (
	"time"

	"github.com/juju/errors"

	"github.com/tamzrod/tss-relay/internal/command"
	cfg "github.com/tamzrod/tss-relay/internal/config"
	"github.com/tamzrod/tss-relay/internal/publisher"
	"github.com/tamzrod/tss-relay/internal/publisher/mirror/ingest"
	mmodbus "github.com/tamzrod/tss-relay/internal/publisher/mirror/modbus"
)

// BuildPlan converts the mirror config into a write Plan.
// Assumes config has already passed validation.
func BuildPlan(mc cfg.MirrorConfig) Plan {
	var plan Plan
	for _, t := range mc.Targets {
		tp := TargetPlan{
			TargetID: t.ID,
			Endpoint: t.Endpoint,
			UnitID:   t.UnitID,
			Base:     t.BaseAddress,
		}
		if t.StatusSlot != nil && t.StatusUnitID != nil {
			tp.Status = &StatusPlan{
				Endpoint:   t.Endpoint,
				UnitID:     *t.StatusUnitID,
				BaseSlot:   *t.StatusSlot,
				DeviceName: t.DeviceName,
			}
		}
		plan.Targets = append(plan.Targets, tp)
	}
	return plan
}

type closer interface {
	endpointClient
	Close() error
}

// BuildEndpointClients creates one client per unique endpoint.
func BuildEndpointClients(mc cfg.MirrorConfig) (map[string]endpointClient, func() error, error) {
	protocols := map[string]string{}
	timeouts := map[string]time.Duration{}
	for _, t := range mc.Targets {
		if p, ok := protocols[t.Endpoint]; ok && p != t.Protocol {
			return nil, nil, errors.NotValidf("mirror: endpoint %s used with protocols %s and %s", t.Endpoint, p, t.Protocol)
		}
		protocols[t.Endpoint] = t.Protocol
		timeouts[t.Endpoint] = time.Duration(t.TimeoutMs) * time.Millisecond
	}

	clients := make(map[string]endpointClient)
	var closers []func() error

	closeAll := func() error {
		errs := make([]error, 0, len(closers))
		for _, fn := range closers {
			errs = append(errs, fn())
		}
		return publisher.FoldErrors(errs)
	}

	for endpoint, proto := range protocols {
		var (
			c   closer
			err error
		)
		switch proto {
		case cfg.ProtocolIngest:
			c, err = ingest.NewEndpointClient(ingest.Config{Endpoint: endpoint, Timeout: timeouts[endpoint]})
		default:
			c, err = mmodbus.NewEndpointClient(mmodbus.Config{Endpoint: endpoint, Timeout: timeouts[endpoint]})
		}
		if err != nil {
			_ = closeAll()
			return nil, nil, err
		}
		clients[endpoint] = c
		closers = append(closers, c.Close)
	}

	return clients, closeAll, nil
}

// Build wires plan and clients into a Writer. The returned func closes
// every endpoint connection.
func Build(mc cfg.MirrorConfig, table *command.Table) (*Writer, func() error, error) {
	clients, closeAll, err := BuildEndpointClients(mc)
	if err != nil {
		return nil, nil, err
	}
	return New(BuildPlan(mc), table, clients), closeAll, nil
}
