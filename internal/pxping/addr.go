// Package pxping implements the ICMP echo proxy core: PCB tracking, the
// timeout wheel, guest- and host-side ingress handling, and the incremental
// checksum primitives that let both sides see well-formed traffic.
//
// The TCP/IP stack, the poll manager, and the address remapper are external
// collaborators, consumed here only through the interfaces in
// [github.com/pxping/pxping/internal/netstack] and
// [github.com/pxping/pxping/internal/remap].
package pxping

import (
	"fmt"
	"net"
)

// Family is an IP address family.
type Family byte

// Values for Family.
const (
	FamilyV4 Family = 4
	FamilyV6 Family = 6
)

func (f Family) String() string {
	switch f {
	case FamilyV4:
		return "IPv4"
	case FamilyV6:
		return "IPv6"
	default:
		return fmt.Sprintf("(unknown:%d)", byte(f))
	}
}

// Addr is a tagged union large enough to hold either an IPv4 or IPv6
// address. Comparison and copy take Family explicitly so a v4-mapped address
// is never confused with a true v4 one; see spec.md §3, "Address family
// note".
type Addr struct {
	Family Family
	bytes  [16]byte
}

// NewAddrV4 builds an Addr from a 4-byte IPv4 address.
func NewAddrV4(ip net.IP) Addr {
	a := Addr{Family: FamilyV4}
	v4 := ip.To4()
	copy(a.bytes[:4], v4)
	return a
}

// NewAddrV6 builds an Addr from a 16-byte IPv6 address.
func NewAddrV6(ip net.IP) Addr {
	a := Addr{Family: FamilyV6}
	v6 := ip.To16()
	copy(a.bytes[:16], v6)
	return a
}

// IP returns the address as a net.IP in its own family's form.
func (a Addr) IP() net.IP {
	switch a.Family {
	case FamilyV4:
		ip := make(net.IP, 4)
		copy(ip, a.bytes[:4])
		return ip
	case FamilyV6:
		ip := make(net.IP, 16)
		copy(ip, a.bytes[:16])
		return ip
	default:
		return nil
	}
}

// V4Bytes returns the 4 raw address bytes. Only valid when Family == FamilyV4.
func (a Addr) V4Bytes() [4]byte {
	var b [4]byte
	copy(b[:], a.bytes[:4])
	return b
}

// V6Bytes returns the 16 raw address bytes. Only valid when Family == FamilyV6.
func (a Addr) V6Bytes() [16]byte {
	return a.bytes
}

// Equal reports whether a and b are the same address within the same
// family. Two Addrs of different families are never equal, even if one is a
// v4-mapped encoding of the other.
func (a Addr) Equal(b Addr) bool {
	if a.Family != b.Family {
		return false
	}
	switch a.Family {
	case FamilyV4:
		return a.V4Bytes() == b.V4Bytes()
	case FamilyV6:
		return a.bytes == b.bytes
	default:
		return false
	}
}

func (a Addr) String() string {
	ip := a.IP()
	if ip == nil {
		return "<invalid>"
	}
	return ip.String()
}
