// internal/poller/builder_test.go
package poller

import (
	"testing"

	"github.com/tamzrod/tss-relay/internal/command"
	cfg "github.com/tamzrod/tss-relay/internal/config"
)

func TestBuildAll_Defaults(t *testing.T) {
	prof, err := command.LoadProfile(command.ProfileTSS2025)
	if err != nil {
		t.Fatal(err)
	}
	c := &cfg.Config{}
	cfg.Normalize(c)

	ps, err := BuildAll(c.Pollers, prof, prof.Table, &fakeRequester{}, nil)
	if err != nil {
		t.Fatalf("BuildAll: %v", err)
	}
	if len(ps) != 2 {
		t.Fatalf("pollers = %d", len(ps))
	}
	if ps[0].Name() != "high-frequency" || len(ps[0].cfg.Commands) != len(prof.Fast) {
		t.Fatalf("fast poller = %s %d", ps[0].Name(), len(ps[0].cfg.Commands))
	}
	if ps[1].Interval().Milliseconds() != cfg.DefaultSlowIntervalMs || len(ps[1].cfg.Commands) != len(prof.Slow) {
		t.Fatalf("slow poller = %v %d", ps[1].Interval(), len(ps[1].cfg.Commands))
	}
}

func TestBuild_ExplicitCommands(t *testing.T) {
	prof, _ := command.LoadProfile("")
	p, err := Build(cfg.PollerConfig{Name: "rover", IntervalMs: 250, Commands: []uint32{23, 24}}, prof, prof.Table, &fakeRequester{}, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(p.cfg.Commands) != 2 {
		t.Fatalf("commands = %v", p.cfg.Commands)
	}

	if _, err := Build(cfg.PollerConfig{Name: "x", IntervalMs: 100, Batch: "medium"}, prof, prof.Table, &fakeRequester{}, nil); err == nil {
		t.Fatalf("unknown batch accepted")
	}
}
