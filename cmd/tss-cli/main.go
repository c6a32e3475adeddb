// cmd/tss-cli/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/juju/errors"

	"github.com/tamzrod/tss-relay/internal/command"
	"github.com/tamzrod/tss-relay/internal/config"
	"github.com/tamzrod/tss-relay/internal/correlator"
	"github.com/tamzrod/tss-relay/internal/logging"
)

const usage = `usage: tss-cli [flags] get <id|name>...
       tss-cli [flags] set <id|name> <value>
       tss-cli [flags] list`

func main() {
	endpoint := flag.String("endpoint", "", "TSS host:port (default from TSS_IP/TSS_PORT)")
	profile := flag.String("profile", command.ProfileTSS2025, "command numbering")
	timeout := flag.Duration("timeout", correlator.DefaultTimeout, "per command timeout")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	level := logging.LError
	if *verbose {
		level = logging.LDebug
	}
	lg := logging.NewStderr(level)

	prof, err := command.LoadProfile(*profile)
	if err != nil {
		log.Fatalf("%v", err)
	}
	table := prof.Table

	if args[0] == "list" {
		for _, id := range table.IDs() {
			e, _ := table.Lookup(id)
			fmt.Printf("%4d  %-10s %s\n", id, e.Kind, e.Name)
		}
		return
	}

	cfg := &config.Config{TSS: config.TSSConfig{Endpoint: *endpoint}}
	if err := config.ApplyEnv(cfg, os.LookupEnv); err != nil {
		log.Fatalf("%v", err)
	}
	config.Normalize(cfg)

	tr, err := correlator.DialUDP(cfg.TSS.Endpoint, "")
	if err != nil {
		log.Fatalf("%v", err)
	}
	corr := correlator.New(correlator.Config{Table: table, Timeout: *timeout, Log: lg}, tr)

	ctx := context.Background()
	code := 0

	switch args[0] {
	case "get":
		if len(args) < 2 {
			flag.Usage()
			os.Exit(2)
		}
		for _, a := range args[1:] {
			id, err := resolve(table, a)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", a, err)
				code = 1
				continue
			}
			v, err := corr.Request(ctx, id, 0)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", a, err)
				code = 1
				continue
			}
			fmt.Printf("%s = %s\n", label(table, id), v)
		}

	case "set":
		if len(args) != 3 {
			flag.Usage()
			os.Exit(2)
		}
		id, err := resolve(table, args[1])
		if err != nil {
			log.Fatalf("%s: %v", args[1], err)
		}
		f, err := strconv.ParseFloat(args[2], 32)
		if err != nil {
			log.Fatalf("value %q: %v", args[2], err)
		}
		start := time.Now()
		v, err := corr.Set(ctx, id, float32(f), 0)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", args[1], err)
			code = 1
			break
		}
		fmt.Printf("%s = %s (%v)\n", label(table, id), v, time.Since(start).Round(time.Millisecond))

	default:
		flag.Usage()
		code = 2
	}

	_ = corr.Close()
	os.Exit(code)
}

// resolve accepts a numeric id or a field name.
func resolve(t *command.Table, s string) (uint32, error) {
	if n, err := strconv.ParseUint(s, 10, 32); err == nil {
		return uint32(n), nil
	}
	id, ok := t.IDByName(s)
	if !ok {
		return 0, errors.NotFoundf("field %q", s)
	}
	return id, nil
}

func label(t *command.Table, id uint32) string {
	if e, ok := t.Lookup(id); ok && e.Name != "" {
		return fmt.Sprintf("%s(%d)", e.Name, id)
	}
	return strconv.Itoa(int(id))
}
