// Package remap defines the address-remapping collaborator (pxremap in the
// original source): it knows which guest-visible addresses correspond to
// which host-visible ones, and vice versa. pxping only consumes this
// interface; remapping policy itself is out of scope for the proxy core.
package remap

import "net"

// Flag reports what a remap operation did to an address.
type Flag int

// Values for Flag.
const (
	// AsIs means the address was passed through unchanged.
	AsIs Flag = iota
	// Mapped means a different, host-visible address was substituted.
	Mapped
	// Failed means the address could not be translated at all; the caller
	// must drop the packet.
	Failed
)

func (f Flag) String() string {
	switch f {
	case AsIs:
		return "as-is"
	case Mapped:
		return "mapped"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Remapper translates guest-visible addresses to host-visible ones
// (outbound, when the guest is the one initiating the echo) and back
// (inbound, when a host-side reply arrives and needs to be attributed to a
// guest-visible address).
type Remapper interface {
	// OutboundV4 resolves the physical host-side peer for a guest-written
	// IPv4 destination.
	OutboundV4(guestDst net.IP) (peer net.IP, flag Flag)
	// InboundV4 resolves the guest-visible address for a physical IPv4
	// source seen on the host socket.
	InboundV4(hostSrc net.IP) (unmapped net.IP, flag Flag)
	// OutboundV6 is the IPv6 analogue of OutboundV4.
	OutboundV6(guestDst net.IP) (peer net.IP, flag Flag)
	// InboundV6 is the IPv6 analogue of InboundV4.
	InboundV6(hostSrc net.IP) (unmapped net.IP, flag Flag)
}

// Static is a Remapper backed by a fixed guest-address -> host-address
// table, plus a pass-through default. It's meant for tests and for simple
// deployments where the mapped set is small and known ahead of time; a real
// NAT-integrated remapper would consult live port/address allocation state
// instead.
type Static struct {
	// V4 and V6 map a guest-visible destination to the host-visible address
	// that should actually be dialed. Entries are consulted in both
	// directions: outbound by key, inbound by value.
	V4 map[string]string
	V6 map[string]string
}

var _ Remapper = (*Static)(nil)

// NewStatic creates an empty Static remapper; every address passes through
// unchanged until entries are added to V4/V6.
func NewStatic() *Static {
	return &Static{V4: make(map[string]string), V6: make(map[string]string)}
}

// OutboundV4 implements Remapper.
func (s *Static) OutboundV4(guestDst net.IP) (net.IP, Flag) {
	if host, ok := s.V4[guestDst.String()]; ok {
		ip := net.ParseIP(host)
		if ip == nil {
			return nil, Failed
		}
		return ip, Mapped
	}
	return guestDst, AsIs
}

// InboundV4 implements Remapper.
func (s *Static) InboundV4(hostSrc net.IP) (net.IP, Flag) {
	for guest, host := range s.V4 {
		if host == hostSrc.String() {
			ip := net.ParseIP(guest)
			if ip == nil {
				return nil, Failed
			}
			return ip, Mapped
		}
	}
	return hostSrc, AsIs
}

// OutboundV6 implements Remapper.
func (s *Static) OutboundV6(guestDst net.IP) (net.IP, Flag) {
	if host, ok := s.V6[guestDst.String()]; ok {
		ip := net.ParseIP(host)
		if ip == nil {
			return nil, Failed
		}
		return ip, Mapped
	}
	return guestDst, AsIs
}

// InboundV6 implements Remapper.
func (s *Static) InboundV6(hostSrc net.IP) (net.IP, Flag) {
	for guest, host := range s.V6 {
		if host == hostSrc.String() {
			ip := net.ParseIP(guest)
			if ip == nil {
				return nil, Failed
			}
			return ip, Mapped
		}
	}
	return hostSrc, AsIs
}
