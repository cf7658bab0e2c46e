package control

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/momentics/hioload-aio/api"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(DefaultConfig(), cfg); diff != "" {
		t.Fatalf("Validate changed defaults (-want +got):\n%s", diff)
	}
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig(`
backend = "poll"
capacity = 100
timer_resolution = "5ms"
log_level = "debug"
`)
	if err != nil {
		t.Fatal(err)
	}
	want := Config{
		Backend:         api.BackendPoll,
		Capacity:        128,
		TimerResolution: 5 * time.Millisecond,
		CPU:             -1,
		LogLevel:        "debug",
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestParseConfigRejects(t *testing.T) {
	tests := map[string]string{
		"unknown key":     `backend = "poll"` + "\n" + `queue = 3`,
		"unknown backend": `backend = "kqueue"`,
		"huge capacity":   `capacity = 1000000`,
		"cpu too high":    `cpu = 100000`,
	}
	for name, text := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseConfig(text); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestParseConfigUnknownKeyIsInvalidArgument(t *testing.T) {
	_, err := ParseConfig("bogus = 1")
	if !errors.Is(err, api.ErrInvalidArgument) {
		t.Fatalf("err = %v, want ErrInvalidArgument", err)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aio.toml")
	if err := os.WriteFile(path, []byte("capacity = 64\ncpu = 0\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Capacity != 64 || cfg.CPU != 0 || cfg.Backend != api.BackendAuto {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestNewLogger(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = "warn"
	l, err := cfg.NewLogger()
	if err != nil {
		t.Fatal(err)
	}
	if l.Core().Enabled(-1) {
		t.Fatal("debug enabled at warn level")
	}
	cfg.LogLevel = "loud"
	if _, err := cfg.NewLogger(); err == nil {
		t.Fatal("expected error for bad level")
	}
}

func TestMetricsRegistry(t *testing.T) {
	mr := NewMetricsRegistry()
	mr.Add(MetricSubmitted, 2)
	mr.Add(MetricSubmitted, 3)
	mr.Add(MetricCompleted, 0)
	mr.Set(MetricTasks, 4)
	if got := mr.Counter(MetricSubmitted); got != 5 {
		t.Fatalf("counter = %d, want 5", got)
	}
	want := map[string]any{MetricSubmitted: uint64(5), MetricTasks: 4}
	if diff := cmp.Diff(want, mr.GetSnapshot()); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}
	if mr.Updated().IsZero() {
		t.Fatal("Updated not recorded")
	}
}

func TestDebugProbes(t *testing.T) {
	dp := NewDebugProbes()
	RegisterPlatformProbes(dp)
	dp.RegisterProbe(ProbeBackend, func() any { return "poll" })
	state := dp.DumpState()
	if state["platform.cpus"] != runtime.NumCPU() {
		t.Fatalf("platform.cpus = %v", state["platform.cpus"])
	}
	if state[ProbeBackend] != "poll" {
		t.Fatalf("backend probe = %v", state[ProbeBackend])
	}
	dp.UnregisterProbe(ProbeBackend)
	for _, n := range dp.Names() {
		if n == ProbeBackend {
			t.Fatal("probe not removed")
		}
	}
}
