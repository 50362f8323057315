// File: internal/transport/doc.go
// Package transport
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Raw non-blocking TCP sockets for the channel layer. Every call returns
// immediately: operations that cannot make progress report ErrWouldBlock and
// the caller waits for readiness on its event loop. Addresses cross the
// package boundary as netip.AddrPort so callers stay platform neutral;
// implementations are strictly separated by build tags.

package transport
