// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Typed executor and driver configuration with TOML loading.

package control

import (
	"fmt"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/momentics/hioload-aio/api"
)

// Config controls one executor and the driver it owns.
type Config struct {
	// Backend selects the kernel facility: auto, uring, iocp or poll.
	Backend api.BackendKind `toml:"backend"`
	// Capacity is the submission queue depth, rounded up to a power of two.
	Capacity int `toml:"capacity"`
	// TimerResolution is the granularity timer deadlines are rounded up to.
	TimerResolution time.Duration `toml:"timer_resolution"`
	// CPU pins the executor thread when >= 0.
	CPU int `toml:"cpu"`
	// LogLevel is a zap level name.
	LogLevel string `toml:"log_level"`
}

// DefaultConfig returns the configuration used when nothing is specified.
func DefaultConfig() Config {
	return Config{
		Backend:         api.BackendAuto,
		Capacity:        1024,
		TimerResolution: time.Millisecond,
		CPU:             -1,
		LogLevel:        "info",
	}
}

// LoadConfig reads a TOML file on top of DefaultConfig. Unknown keys are
// rejected.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return finish(cfg, md)
}

// ParseConfig decodes TOML text on top of DefaultConfig.
func ParseConfig(text string) (Config, error) {
	cfg := DefaultConfig()
	md, err := toml.Decode(text, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return finish(cfg, md)
}

func finish(cfg Config, md toml.MetaData) (Config, error) {
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return Config{}, api.NewError(api.ErrCodeInvalidArgument, "unknown config keys").
			WithContext("keys", strings.Join(keys, ","))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate normalizes c in place and rejects values that cannot be used.
func (c *Config) Validate() error {
	if c.Capacity <= 0 {
		c.Capacity = DefaultConfig().Capacity
	}
	if c.Capacity > 1<<15 {
		return api.NewError(api.ErrCodeInvalidArgument, "capacity too large").
			WithContext("capacity", c.Capacity)
	}
	size := 2
	for size < c.Capacity {
		size <<= 1
	}
	c.Capacity = size
	if c.TimerResolution <= 0 {
		c.TimerResolution = DefaultConfig().TimerResolution
	}
	if c.CPU >= runtime.NumCPU() {
		return api.NewError(api.ErrCodeInvalidArgument, "cpu out of range").
			WithContext("cpu", c.CPU).
			WithContext("cpus", runtime.NumCPU())
	}
	if c.CPU < -1 {
		c.CPU = -1
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultConfig().LogLevel
	}
	return nil
}
