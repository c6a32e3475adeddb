// cmd/relay/main.go
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/daemon"

	"github.com/tamzrod/tss-relay/internal/api"
	"github.com/tamzrod/tss-relay/internal/command"
	"github.com/tamzrod/tss-relay/internal/config"
	"github.com/tamzrod/tss-relay/internal/correlator"
	"github.com/tamzrod/tss-relay/internal/logging"
	"github.com/tamzrod/tss-relay/internal/poller"
	"github.com/tamzrod/tss-relay/internal/publisher"
	"github.com/tamzrod/tss-relay/internal/publisher/mirror"
	"github.com/tamzrod/tss-relay/internal/publisher/mqtt"
	"github.com/tamzrod/tss-relay/internal/publisher/wshub"
	"github.com/tamzrod/tss-relay/internal/status"
	"github.com/tamzrod/tss-relay/internal/telemetry"
)

const asyncQueue = 64

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: relay <config.yaml>")
	}

	cfgPath := os.Args[1]

	// --------------------
	// Load + validate config
	// --------------------

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	if err := config.Validate(cfg); err != nil {
		log.Fatalf("config validation failed: %v", err)
	}
	config.Normalize(cfg)

	level, _ := logging.ParseLevel(cfg.Log.Level)
	lg := logging.NewFile(logging.FileConfig{
		Path:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	}, level)

	prof, err := command.LoadProfile(cfg.TSS.Profile)
	if err != nil {
		lg.Fatalf("profile: %v", err)
	}
	table, err := config.BuildTable(cfg)
	if err != nil {
		lg.Fatalf("command table: %v", err)
	}

	// --------------------
	// TSS link
	// --------------------

	tr, err := correlator.DialUDP(cfg.TSS.Endpoint, cfg.TSS.Listen)
	if err != nil {
		lg.Fatalf("tss link: %v", err)
	}
	stat := new(correlator.Stat)
	correlator.Publish("correlator", stat)
	corr := correlator.New(correlator.Config{
		Table:   table,
		Timeout: time.Duration(cfg.TSS.TimeoutMs) * time.Millisecond,
		Log:     lg,
		Stat:    stat,
	}, tr)
	lg.Infof("tss: %s profile=%s commands=%d", cfg.TSS.Endpoint, prof.Name, table.Len())

	// --------------------
	// Publishers
	// --------------------

	latest := publisher.NewLatest()
	tracker := status.NewTracker()

	hub := wshub.New(wshub.Config{
		Queue:        cfg.Publish.HTTP.WSQueue,
		WriteTimeout: time.Duration(cfg.Publish.HTTP.WriteTimeoutMs) * time.Millisecond,
		AllowOrigin:  cfg.Publish.HTTP.AllowOrigin,
		Snapshot: func() []telemetry.Record {
			all := latest.All()
			out := make([]telemetry.Record, 0, len(all))
			for _, typ := range latest.Types() {
				out = append(out, all[typ])
			}
			return out
		},
		Log: lg,
	})

	sinks := publisher.Fanout{latest, hub}
	var stops []func()

	if m := cfg.Publish.MQTT; m.Enabled {
		bridge := mqtt.New(mqtt.Config{
			Broker:      m.Broker,
			ClientID:    m.ClientID,
			Username:    m.Username,
			Password:    m.Password,
			TopicPrefix: m.TopicPrefix,
			QoS:         m.QoS,
			Retain:      m.Retain,
			Timeout:     time.Duration(m.TimeoutMs) * time.Millisecond,
			Commands:    m.Commands,
			Table:       table,
			Log:         lg,
		}, corr)
		if err := bridge.Connect(); err != nil {
			lg.Fatalf("%v", err)
		}
		q := publisher.NewAsync("mqtt", bridge, asyncQueue, lg)
		sinks = append(sinks, q)
		stops = append(stops, q.Stop, bridge.Close)
	}

	if len(cfg.Publish.Mirror.Targets) != 0 {
		mw, closeMirror, err := mirror.Build(cfg.Publish.Mirror, table)
		if err != nil {
			lg.Fatalf("mirror: %v", err)
		}
		q := publisher.NewAsync("mirror", mw, asyncQueue, lg)
		sinks = append(sinks, q)
		stops = append(stops, q.Stop, func() { _ = closeMirror() })
	}

	minInterval := make(map[string]time.Duration, len(cfg.Publish.MinIntervalMs))
	for typ, ms := range cfg.Publish.MinIntervalMs {
		minInterval[typ] = time.Duration(ms) * time.Millisecond
	}
	relay := publisher.NewRelay(publisher.NewThrottled(sinks, minInterval), tracker, prof.Rocks, lg)
	relay.Announce()

	// --------------------
	// HTTP
	// --------------------

	srv := api.New(api.Config{
		Latest:      latest,
		Tracker:     tracker,
		Setter:      corr,
		Table:       table,
		WS:          hub,
		AllowOrigin: cfg.Publish.HTTP.AllowOrigin,
		Log:         lg,
	})
	if _, err := srv.Start(cfg.Publish.HTTP.Listen); err != nil {
		lg.Fatalf("%v", err)
	}

	// --------------------
	// Pollers
	// --------------------

	pollers, err := poller.BuildAll(cfg.Pollers, prof, table, corr, lg)
	if err != nil {
		lg.Fatalf("pollers: %v", err)
	}
	for _, p := range pollers {
		p.Start(relay.HandleResult)
		lg.Infof("poller %s: every %v", p.Name(), p.Interval())
	}

	sdnotify(lg, daemon.SdNotifyReady)

	// --------------------
	// Run until signal or dead link
	// --------------------

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	secTicker := time.NewTicker(time.Second)
	exitCode := 0
loop:
	for {
		select {
		case <-secTicker.C:
			relay.Tick()
		case s := <-sigs:
			lg.Infof("signal %v, stopping", s)
			break loop
		case err := <-corr.Fatal():
			lg.Errorf("tss link lost: %v", err)
			exitCode = 1
			break loop
		}
	}
	secTicker.Stop()

	// --------------------
	// Shutdown (reverse order)
	// --------------------

	sdnotify(lg, daemon.SdNotifyStopping)

	for _, p := range pollers {
		p.Stop()
	}
	relay.Shutdown()
	for _, stop := range stops {
		stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	if err := srv.Shutdown(ctx); err != nil {
		lg.Errorf("api shutdown: %v", err)
	}
	cancel()
	hub.Close()
	_ = corr.Close()

	lg.Infof("stopped: %s", stat)
	os.Exit(exitCode)
}

func sdnotify(lg *logging.Log, s string) {
	ok, err := daemon.SdNotify(false, s)
	if err != nil {
		lg.Errorf("sd_notify %s: %v", s, err)
	} else if ok {
		lg.Debugf("sd_notify %s", s)
	}
}
