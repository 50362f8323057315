// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics, debug introspection and reload hooks for the engine.
//
// Provides concurrent-safe primitives including:
//   - Prometheus metrics for channels, loops and pipelines
//   - Named debug probes exported as JSON over HTTP
//   - Reload hooks run when the process configuration changes
//
// This package is cross-platform and build-tag-partitioned as needed.
package control
