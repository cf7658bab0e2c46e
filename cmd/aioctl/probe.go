// File: cmd/aioctl/probe.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/google/subcommands"

	"github.com/momentics/hioload-aio/executor"
	"github.com/momentics/hioload-aio/facade"
	"github.com/momentics/hioload-aio/reactor"
)

type probeCmd struct {
	nops int
}

func (*probeCmd) Name() string     { return "probe" }
func (*probeCmd) Synopsis() string { return "report supported backends and driver state" }
func (*probeCmd) Usage() string {
	return `probe [-nops N]:
  Opens an executor with the configured backend, times N no-op round trips
  and prints every debug probe.
`
}

func (p *probeCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&p.nops, "nops", 1000, "number of no-op round trips to time")
}

func (p *probeCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, err := global.config()
	if err != nil {
		fmt.Fprintf(os.Stderr, "probe: %v\n", err)
		return subcommands.ExitUsageError
	}
	h, err := facade.New(&cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "probe: %v\n", err)
		return subcommands.ExitFailure
	}
	err = probe(os.Stdout, h, p.nops)
	if serr := h.Shutdown(); err == nil {
		err = serr
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "probe: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// probe times nops no-op submissions on h and writes the probe dump to w.
func probe(w io.Writer, h *facade.HioloadAIO, nops int) error {
	fmt.Fprintf(w, "available: %v\n", reactor.Available())
	start := time.Now()
	err := h.Run(func(task *executor.Task) error {
		for i := 0; i < nops; i++ {
			if err := executor.Nop(task); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if nops > 0 {
		fmt.Fprintf(w, "nop.round_trip: %v\n", time.Since(start)/time.Duration(nops))
	}
	state := h.GetDebugProbes().DumpState()
	for k, v := range h.GetMetrics().GetSnapshot() {
		state[k] = v
	}
	keys := make([]string, 0, len(state))
	for k := range state {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%s: %v\n", k, state[k])
	}
	return nil
}
