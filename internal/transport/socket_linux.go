// internal/transport/socket_linux.go
//go:build linux
// +build linux

//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Linux TCP sockets on golang.org/x/sys/unix.

package transport

import (
	"errors"
	"fmt"
	"io"
	"net/netip"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Socket is a non-blocking TCP socket descriptor.
type Socket struct {
	fd      int
	noDelay bool
	closed  atomic.Bool
}

func toSockaddr(ap netip.AddrPort) (unix.Sockaddr, int) {
	addr := ap.Addr().Unmap()
	if addr.Is4() {
		return &unix.SockaddrInet4{Port: int(ap.Port()), Addr: addr.As4()}, unix.AF_INET
	}
	return &unix.SockaddrInet6{Port: int(ap.Port()), Addr: addr.As16()}, unix.AF_INET6
}

func fromSockaddr(sa unix.Sockaddr) netip.AddrPort {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(v.Addr), uint16(v.Port))
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(v.Addr), uint16(v.Port))
	}
	return netip.AddrPort{}
}

func newSocket(family int) (int, error) {
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, fmt.Errorf("socket create: %w", err)
	}
	return fd, nil
}

// Listen creates a listening socket bound to ap.
func Listen(ap netip.AddrPort, cfg ListenConfig) (*Socket, error) {
	sa, family := toSockaddr(ap)
	fd, err := newSocket(family)
	if err != nil {
		return nil, err
	}
	if cfg.ReuseAddr {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
		}
	}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bind %s: %w", ap, err)
	}
	backlog := cfg.Backlog
	if backlog <= 0 {
		backlog = unix.SOMAXCONN
	}
	if err := unix.Listen(fd, backlog); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("listen %s: %w", ap, err)
	}
	return &Socket{fd: fd, noDelay: cfg.NoDelay}, nil
}

// Dial starts a connection to ap. When pending is true the handshake is
// still in flight: wait for writability, then check ConnectError.
func Dial(ap netip.AddrPort) (s *Socket, pending bool, err error) {
	sa, family := toSockaddr(ap)
	fd, err := newSocket(family)
	if err != nil {
		return nil, false, err
	}
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	switch err := unix.Connect(fd, sa); {
	case err == nil:
		return &Socket{fd: fd}, false, nil
	case errors.Is(err, unix.EINPROGRESS), errors.Is(err, unix.EINTR):
		return &Socket{fd: fd}, true, nil
	default:
		_ = unix.Close(fd)
		return nil, false, fmt.Errorf("connect %s: %w", ap, err)
	}
}

// Fd returns the descriptor for readiness registration.
func (s *Socket) Fd() int { return s.fd }

// Accept takes one pending connection off the listen queue.
func (s *Socket) Accept() (*Socket, netip.AddrPort, error) {
	for {
		nfd, sa, err := unix.Accept4(s.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		switch {
		case err == nil:
			if s.noDelay {
				_ = unix.SetsockoptInt(nfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
			}
			return &Socket{fd: nfd}, fromSockaddr(sa), nil
		case errors.Is(err, unix.EINTR), errors.Is(err, unix.ECONNABORTED):
			continue
		case errors.Is(err, unix.EAGAIN):
			return nil, netip.AddrPort{}, ErrWouldBlock
		default:
			return nil, netip.AddrPort{}, fmt.Errorf("accept: %w", err)
		}
	}
}

// Read reads available bytes. It returns io.EOF once the peer has closed
// its side and ErrWouldBlock when nothing is buffered.
func (s *Socket) Read(p []byte) (int, error) {
	for {
		n, err := unix.Read(s.fd, p)
		switch {
		case err == nil:
			if n == 0 && len(p) > 0 {
				return 0, io.EOF
			}
			return n, nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return 0, ErrWouldBlock
		default:
			return 0, fmt.Errorf("read: %w", err)
		}
	}
}

// Write sends as much of p as the kernel accepts without blocking.
// A short count with ErrWouldBlock means the rest must wait for writability.
func (s *Socket) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n, err := unix.SendmsgN(s.fd, p[written:], nil, nil, unix.MSG_NOSIGNAL)
		switch {
		case err == nil:
			written += n
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return written, ErrWouldBlock
		default:
			return written, fmt.Errorf("write: %w", err)
		}
	}
	return written, nil
}

// ConnectError reports the outcome of a pending Dial.
func (s *Socket) ConnectError() error {
	errno, err := unix.GetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return fmt.Errorf("getsockopt SO_ERROR: %w", err)
	}
	if errno != 0 {
		return fmt.Errorf("connect: %w", unix.Errno(errno))
	}
	return nil
}

// LocalAddr returns the bound address.
func (s *Socket) LocalAddr() (netip.AddrPort, error) {
	sa, err := unix.Getsockname(s.fd)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("getsockname: %w", err)
	}
	return fromSockaddr(sa), nil
}

// RemoteAddr returns the peer address of a connected socket.
func (s *Socket) RemoteAddr() (netip.AddrPort, error) {
	sa, err := unix.Getpeername(s.fd)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("getpeername: %w", err)
	}
	return fromSockaddr(sa), nil
}

// CloseWrite half-closes the connection.
func (s *Socket) CloseWrite() error {
	if err := unix.Shutdown(s.fd, unix.SHUT_WR); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Close releases the descriptor. Subsequent calls are no-ops.
func (s *Socket) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return unix.Close(s.fd)
}

// IsConnReset reports errors after which the connection is unusable.
func IsConnReset(err error) bool {
	return errors.Is(err, unix.ECONNRESET) || errors.Is(err, unix.EPIPE)
}
