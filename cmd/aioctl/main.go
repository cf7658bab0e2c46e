// File: cmd/aioctl/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// aioctl exercises the completion drivers from the command line: it reports
// what the host supports, copies files through the executor and serves a
// multi-executor TCP echo.

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/google/subcommands"

	"github.com/momentics/hioload-aio/api"
	"github.com/momentics/hioload-aio/control"
)

// globalFlags apply to every subcommand.
type globalFlags struct {
	configPath string
	backend    string
	logLevel   string
	cpu        int
}

var global globalFlags

// config loads the config file if one was given and applies flag overrides.
func (g *globalFlags) config() (control.Config, error) {
	cfg := control.DefaultConfig()
	if g.configPath != "" {
		var err error
		if cfg, err = control.LoadConfig(g.configPath); err != nil {
			return control.Config{}, err
		}
	}
	if g.backend != "" {
		kind, err := api.ParseBackendKind(g.backend)
		if err != nil {
			return control.Config{}, err
		}
		cfg.Backend = kind
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	if g.cpu >= 0 {
		cfg.CPU = g.cpu
	}
	return cfg, cfg.Validate()
}

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(&probeCmd{}, "")
	subcommands.Register(&copyCmd{}, "")
	subcommands.Register(&echoCmd{}, "")

	flag.StringVar(&global.configPath, "config", "", "path to a TOML config file")
	flag.StringVar(&global.backend, "backend", "", "override the backend: auto, uring, iocp or poll")
	flag.StringVar(&global.logLevel, "log-level", "", "override the log level")
	flag.IntVar(&global.cpu, "cpu", -1, "pin executor threads starting at this CPU")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := subcommands.Execute(ctx)
	stop()
	os.Exit(int(code))
}
