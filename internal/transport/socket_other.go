//go:build !linux
// +build !linux

// Author: momentics <momentics@gmail.com>
//
// Stub sockets for platforms without a reactor backend.

package transport

import (
	"fmt"
	"net/netip"
	"runtime"

	"github.com/momentics/hioload-pipeline/api"
)

// Socket is unavailable on this platform.
type Socket struct{}

var errUnsupported = fmt.Errorf("sockets on %s: %w", runtime.GOOS, api.ErrNotSupported)

func Listen(netip.AddrPort, ListenConfig) (*Socket, error) { return nil, errUnsupported }
func Dial(netip.AddrPort) (*Socket, bool, error)           { return nil, false, errUnsupported }
func (s *Socket) Fd() int                                  { return -1 }
func (s *Socket) Accept() (*Socket, netip.AddrPort, error) { return nil, netip.AddrPort{}, errUnsupported }
func (s *Socket) Read([]byte) (int, error)                 { return 0, errUnsupported }
func (s *Socket) Write([]byte) (int, error)                { return 0, errUnsupported }
func (s *Socket) ConnectError() error                      { return errUnsupported }
func (s *Socket) LocalAddr() (netip.AddrPort, error)       { return netip.AddrPort{}, errUnsupported }
func (s *Socket) RemoteAddr() (netip.AddrPort, error)      { return netip.AddrPort{}, errUnsupported }
func (s *Socket) CloseWrite() error                        { return errUnsupported }
func (s *Socket) Close() error                             { return nil }
func IsConnReset(error) bool                               { return false }
