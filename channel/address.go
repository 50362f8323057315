// File: channel/address.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package channel

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strconv"

	"github.com/momentics/hioload-pipeline/api"
)

// SocketAddress is a TCP endpoint given by host and port. An empty host
// denotes the IPv4 wildcard address.
type SocketAddress struct {
	host string
	port int
}

var _ api.Address = (*SocketAddress)(nil)

// NewSocketAddress returns the wildcard address on port.
func NewSocketAddress(port int) *SocketAddress {
	return &SocketAddress{port: port}
}

// NewHostAddress returns host:port. host may be an IP literal or a name.
func NewHostAddress(host string, port int) *SocketAddress {
	return &SocketAddress{host: host, port: port}
}

// FromAddrPort converts a resolved endpoint.
func FromAddrPort(ap netip.AddrPort) *SocketAddress {
	return &SocketAddress{host: ap.Addr().Unmap().String(), port: int(ap.Port())}
}

// Host returns the host part; empty for the wildcard address.
func (a *SocketAddress) Host() string { return a.host }

// Port reports the port, or false when it lies outside 0..65535.
func (a *SocketAddress) Port() (int, bool) {
	if a.port < 0 || a.port > 65535 {
		return 0, false
	}
	return a.port, true
}

func (a *SocketAddress) String() string {
	return net.JoinHostPort(a.host, strconv.Itoa(a.port))
}

// literal returns the endpoint when it needs no name lookup.
func (a *SocketAddress) literal() (netip.AddrPort, bool) {
	port, ok := a.Port()
	if !ok {
		return netip.AddrPort{}, false
	}
	if a.host == "" {
		return netip.AddrPortFrom(netip.IPv4Unspecified(), uint16(port)), true
	}
	ip, err := netip.ParseAddr(a.host)
	if err != nil {
		return netip.AddrPort{}, false
	}
	return netip.AddrPortFrom(ip, uint16(port)), true
}

// Resolve returns the endpoint to bind or dial. Host names go through the
// system resolver and the first IPv4 result is preferred.
func (a *SocketAddress) Resolve(ctx context.Context) (netip.AddrPort, error) {
	port, ok := a.Port()
	if !ok {
		return netip.AddrPort{}, fmt.Errorf("port %d: %w", a.port, api.ErrInvalidArgument)
	}
	if ap, ok := a.literal(); ok {
		return ap, nil
	}
	ips, err := net.DefaultResolver.LookupNetIP(ctx, "ip", a.host)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("resolve %s: %w", a.host, err)
	}
	if len(ips) == 0 {
		return netip.AddrPort{}, fmt.Errorf("resolve %s: no addresses", a.host)
	}
	best := ips[0]
	for _, ip := range ips {
		if ip.Unmap().Is4() {
			best = ip
			break
		}
	}
	return netip.AddrPortFrom(best.Unmap(), uint16(port)), nil
}
