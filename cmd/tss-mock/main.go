// cmd/tss-mock/main.go
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/tamzrod/tss-relay/internal/command"
	"github.com/tamzrod/tss-relay/internal/logging"
	"github.com/tamzrod/tss-relay/internal/tssmock"
)

func main() {
	listen := flag.String("listen", ":14141", "UDP address to answer on")
	profile := flag.String("profile", command.ProfileTSS2025, "command numbering")
	values := flag.String("values", "", "YAML file of field values (name: value)")
	level := flag.String("log", "info", "error | info | debug")
	flag.Parse()

	lv, err := logging.ParseLevel(*level)
	if err != nil {
		log.Fatalf("%v", err)
	}
	lg := logging.NewStderr(lv)

	prof, err := command.LoadProfile(*profile)
	if err != nil {
		lg.Fatalf("%v", err)
	}

	srv, err := tssmock.Listen(*listen, prof.Table, lg)
	if err != nil {
		lg.Fatalf("%v", err)
	}
	if *values != "" {
		if err := srv.LoadValues(*values); err != nil {
			lg.Fatalf("%v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigs
		lg.Infof("signal %v, stopping", s)
		cancel()
	}()

	lg.Infof("tss-mock: %s profile=%s commands=%d", srv.Addr(), prof.Name, prof.Table.Len())
	if err := srv.Serve(ctx); err != nil {
		lg.Fatalf("%v", err)
	}
}
