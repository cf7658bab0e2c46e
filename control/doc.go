// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration, runtime metrics and debug introspection for hioload-aio.
//
// Provides:
//   - Typed executor/driver configuration loaded from TOML files
//   - Logger construction from the configured level
//   - Metrics telemetry updated by the executor loop
//   - State export through registered debug probes
//
// This package is cross-platform and build-tag-partitioned as needed.
package control
