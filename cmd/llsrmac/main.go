// Command llsrmac runs one LLSR MAC node, joining a UDP multicast group as
// its radio medium and, on the sink, exposing the external-client protocol
// on a Unix domain socket (or TCP, per configuration).
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/go-envparse"
	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/pflag"

	"github.com/llsrnet/llsrmac/pkg/llsrnode"
	"github.com/llsrnet/llsrmac/pkg/mgmtagent"
)

var opt struct {
	Help bool
}

func init() {
	pflag.BoolVarP(&opt.Help, "help", "h", false, "Show this help text")
}

func main() {
	pflag.Parse()

	if pflag.NArg() > 1 || opt.Help {
		fmt.Printf("usage: %s [options] [env_file]\n\noptions:\n%s\nnote: if env_file is provided, config from the environment is ignored\n", os.Args[0], pflag.CommandLine.FlagUsages())
		if opt.Help {
			os.Exit(2)
		}
		os.Exit(0)
	}

	var e []string
	if pflag.NArg() == 0 {
		e = os.Environ()
	} else {
		x, err := readEnv(pflag.Arg(0))
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: read env file: %v\n", err)
			os.Exit(1)
		}
		e = x
	}

	var cfg llsrnode.Config
	if err := cfg.UnmarshalEnv(e); err != nil {
		fmt.Fprintf(os.Stderr, "error: parse config: %v\n", err)
		os.Exit(1)
	}

	radioGroup, _ := getEnvList("LLSR_RADIO_GROUP", e, os.Environ())
	if radioGroup == "" {
		radioGroup = "239.0.0.1:9999"
	}
	radio, err := newUDPRadio(radioGroup)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: set up radio transport: %v\n", err)
		os.Exit(1)
	}
	defer radio.Close()

	mib := mgmtagent.MIB{
		NodeAddr:          cfg.Addr,
		MaxAttempts:       clampUint8(cfg.MaxAttempts),
		BroadcastInterval: clampUint8(int(cfg.BroadcastInterval / time.Second)),
		MgmtMode:          0,
	}

	node, err := llsrnode.New(cfg, mib, radio, nil, radio.Frames(), nil, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: initialize node: %v\n", err)
		os.Exit(1)
	}
	defer node.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := node.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "error: run node: %v\n", err)
		os.Exit(1)
	}
}

func clampUint8(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

func getEnvList(k string, e ...[]string) (string, bool) {
	for _, l := range e {
		for _, x := range l {
			if xk, xv, ok := strings.Cut(x, "="); ok && xk == k {
				return xv, true
			}
		}
	}
	return "", false
}

func readEnv(name string) ([]string, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := envparse.Parse(f)
	if err != nil {
		return nil, err
	}

	var r []string
	for k, v := range m {
		r = append(r, k+"="+v)
	}
	return r, nil
}
