package pxping

import (
	"encoding/binary"
	"net"
)

// Hand-rolled IPv4/ICMP packet builders for tests. Mirrors the byte-offset
// approach the production code itself uses (host_v4.go, guest_v4.go)
// instead of going through golang.org/x/net/ipv4.Header.Marshal, so tests
// exercise the exact wire layout the proxy core reads and writes.

func buildIPv4Header(src, dst net.IP, ttl, proto byte, totalLen int) []byte {
	b := make([]byte, 20)
	b[0] = 0x45 // version 4, IHL 5 (no options)
	b[1] = 0    // TOS
	binary.BigEndian.PutUint16(b[2:4], uint16(totalLen))
	binary.BigEndian.PutUint16(b[4:6], 0) // id
	binary.BigEndian.PutUint16(b[6:8], 0) // flags/fragoff
	b[8] = ttl
	b[9] = proto
	binary.BigEndian.PutUint16(b[10:12], 0) // checksum placeholder
	copy(b[12:16], src.To4())
	copy(b[16:20], dst.To4())
	binary.BigEndian.PutUint16(b[10:12], ^FullChecksum16(b))
	return b
}

func buildICMPEcho(typ, code byte, id, seq uint16, payload []byte) []byte {
	b := make([]byte, 8+len(payload))
	b[0] = typ
	b[1] = code
	binary.BigEndian.PutUint16(b[2:4], 0) // checksum placeholder
	binary.BigEndian.PutUint16(b[4:6], id)
	binary.BigEndian.PutUint16(b[6:8], seq)
	copy(b[8:], payload)
	binary.BigEndian.PutUint16(b[2:4], ^FullChecksum16(b))
	return b
}

func buildIPv4Echo(src, dst net.IP, ttl byte, typ byte, id, seq uint16, payload []byte) []byte {
	icmp := buildICMPEcho(typ, 0, id, seq, payload)
	iph := buildIPv4Header(src, dst, ttl, 1, 20+len(icmp))
	return append(iph, icmp...)
}

// buildICMPError builds a complete ICMPv4 error message (8-byte header plus
// the quoted datagram), with a correct checksum over the whole message.
func buildICMPError(typ, code byte, quoted []byte) []byte {
	b := make([]byte, 8+len(quoted))
	b[0] = typ
	b[1] = code
	binary.BigEndian.PutUint16(b[2:4], 0)
	copy(b[8:], quoted)
	binary.BigEndian.PutUint16(b[2:4], ^FullChecksum16(b))
	return b
}

// buildIPv4ErrorDatagram wraps an ICMP error message (as built by
// buildICMPError) in an outer IPv4 header.
func buildIPv4ErrorDatagram(routerSrc, hostDst net.IP, ttl byte, icmpError []byte) []byte {
	iph := buildIPv4Header(routerSrc, hostDst, ttl, 1, 20+len(icmpError))
	return append(iph, icmpError...)
}

// ipChecksumValid reports whether the 20-byte IPv4 header at the start of
// buf has a consistent checksum, and icmpChecksumValid does the same for a
// whole ICMP message, per spec.md §8 invariant 5: summing all 16-bit words
// of a correctly-checksummed region (no final complement) yields 0xFFFF.
func ipChecksumValid(buf []byte) bool {
	return FullChecksum16(buf[:20]) == 0xFFFF
}

func icmpChecksumValid(icmp []byte) bool {
	return FullChecksum16(icmp) == 0xFFFF
}

// buildIPv6Header lays out the 40-byte fixed IPv6 header by hand, the same
// way icmppkt_test.go's ipHeader helper does for the teacher's own IPv6
// tests: x/net/ipv6 doesn't marshal headers, only parses them.
func buildIPv6Header(src, dst net.IP, hopLimit, nextHeader byte, payloadLen int) []byte {
	b := make([]byte, 40)
	b[0] = 6 << 4
	binary.BigEndian.PutUint16(b[4:6], uint16(payloadLen))
	b[6] = nextHeader
	b[7] = hopLimit
	copy(b[8:24], src.To16())
	copy(b[24:40], dst.To16())
	return b
}

// icmpv6PseudoCombined builds the RFC 8200 §8.1 pseudo-header (source,
// destination, upper-layer length, zero-padded next-header) concatenated
// with the ICMPv6 message itself, for use as an independent checksum oracle:
// the ICMPv6 checksum covers this combined region, never the message alone.
func icmpv6PseudoCombined(src, dst [16]byte, icmpMsg []byte) []byte {
	b := make([]byte, 40+len(icmpMsg))
	copy(b[0:16], src[:])
	copy(b[16:32], dst[:])
	binary.BigEndian.PutUint32(b[32:36], uint32(len(icmpMsg)))
	b[39] = 58 // ICMPv6
	copy(b[40:], icmpMsg)
	return b
}

// buildICMPv6Echo builds a complete ICMPv6 echo message with a real
// pseudo-header checksum, given the source/destination the message will
// travel between.
func buildICMPv6Echo(src, dst [16]byte, typ, code byte, id, seq uint16, payload []byte) []byte {
	b := make([]byte, 8+len(payload))
	b[0] = typ
	b[1] = code
	binary.BigEndian.PutUint16(b[2:4], 0)
	binary.BigEndian.PutUint16(b[4:6], id)
	binary.BigEndian.PutUint16(b[6:8], seq)
	copy(b[8:], payload)
	binary.BigEndian.PutUint16(b[2:4], ^FullChecksum16(icmpv6PseudoCombined(src, dst, b)))
	return b
}

// buildIPv6Echo wraps buildICMPv6Echo in a full 40-byte IPv6 header, for
// feeding to GuestIngressV6 (which, unlike v4, never touches the ICMP
// checksum itself, so a self-consistent pseudo-header checksum isn't even
// required there -- but building one anyway keeps fixtures uniform).
func buildIPv6Echo(src, dst net.IP, hopLimit byte, typ byte, id, seq uint16, payload []byte) []byte {
	var srcB, dstB [16]byte
	copy(srcB[:], src.To16())
	copy(dstB[:], dst.To16())
	icmp := buildICMPv6Echo(srcB, dstB, typ, 0, id, seq, payload)
	iph := buildIPv6Header(src, dst, hopLimit, 58, len(icmp))
	return append(iph, icmp...)
}

// icmpv6ChecksumValid is the IPv6 analogue of icmpChecksumValid: the
// checksum covers the pseudo-header, not just the message, so src/dst must
// be supplied.
func icmpv6ChecksumValid(src, dst [16]byte, icmpMsg []byte) bool {
	return FullChecksum16(icmpv6PseudoCombined(src, dst, icmpMsg)) == 0xFFFF
}
