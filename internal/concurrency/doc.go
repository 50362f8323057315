// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Serialized execution primitives for hioload-pipeline: the reactor-driven
// event loop, fixed-size loop groups with pluggable selection, optional CPU
// pinning of loop threads, and a countdown latch for coordinating callers
// with loop-side completions.
package concurrency
