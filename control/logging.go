// control/logging.go
// Author: momentics <momentics@gmail.com>
//
// Logger construction from configuration.

package control

import (
	"fmt"

	"go.uber.org/zap"
)

// NewLogger builds a production logger at c.LogLevel. Level "debug" switches
// to the development encoder.
func (c Config) NewLogger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", c.LogLevel, err)
	}
	zc := zap.NewProductionConfig()
	if c.LogLevel == "debug" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}
