package pxping

import (
	"context"
	"encoding/binary"
	"fmt"

	"golang.org/x/net/ipv4"

	"github.com/pxping/pxping/internal/remap"
)

// IPv4 header field byte offsets pxping rewrites in place (RFC 791).
const (
	ipv4TTLOffset      = 8
	ipv4ChecksumOffset = 10
	ipv4SrcOffset      = 12
	ipv4DstOffset      = 16
)

// HostIngressV4 validates and dispatches one datagram read off the raw
// ICMPv4 host socket, per spec.md §4.5. buf is exactly what recvfrom(2)
// returned (IP header included); HostIngressV4 may be called concurrently
// with any TCP/IP task activity, and only ever touches the PcbTable through
// LookupForReply, which takes its own lock.
//
// Non-Echo-Reply/Destination-Unreachable/Time-Exceeded datagrams, and
// fragmented, option-bearing, non-ICMP or TTL==1 ones, are silently ignored
// (nil error) — matching pxping_pmgr_icmp4's behavior of not spamming logs
// for every stray ICMP datagram a raw socket sees. A truncated or
// unparsable datagram, a non-4 version, or a declared length that does not
// fit the read returns an error.
func (ps *ProxyState) HostIngressV4(ctx context.Context, buf []byte) error {
	if len(buf) < ipv4.HeaderLen {
		return fmt.Errorf("pxping: read %d bytes, IP header truncated", len(buf))
	}

	iph, err := ipv4.ParseHeader(buf)
	if err != nil {
		return fmt.Errorf("pxping: parse IPv4 header: %w", err)
	}
	if iph.Version != 4 {
		return fmt.Errorf("pxping: unexpected IP version %d", iph.Version)
	}
	if iph.Flags&ipv4.MoreFragments != 0 || iph.FragOff != 0 {
		return nil // dropping fragmented datagram
	}
	if iph.Len != ipv4.HeaderLen {
		return nil // dropping datagram with options
	}
	if iph.Protocol != 1 { // IPPROTO_ICMP
		return nil
	}
	if iph.TTL == 1 {
		// TODO: not for loopback.
		return nil
	}

	iplen := iph.TotalLen
	if len(buf) < iplen {
		return fmt.Errorf("pxping: read %d bytes but total length is %d bytes", len(buf), iplen)
	}
	if iplen < iph.Len+icmpEchoHdrLen {
		return fmt.Errorf("pxping: IP length %d bytes, ICMP header truncated", iplen)
	}
	buf = buf[:iplen]

	icmpType := ipv4.ICMPType(buf[iph.Len+icmpTypeOffset])
	switch icmpType {
	case ipv4.ICMPTypeEchoReply:
		ps.handleEcho4(ctx, buf, iph)
	case ipv4.ICMPTypeDestinationUnreachable, ipv4.ICMPTypeTimeExceeded:
		ps.handleError4(ctx, buf, iph)
	}
	return nil
}

// handleEcho4 checks whether buf is an echo reply to one of our own pings
// and, if so, rewrites it for the guest and forwards it. Ports
// pxping_pmgr_icmp4_echo.
func (ps *ProxyState) handleEcho4(ctx context.Context, buf []byte, iph *ipv4.Header) {
	icmp := buf[iph.Len:]
	id := binary.BigEndian.Uint16(icmp[icmpEchoIDOffset : icmpEchoIDOffset+2])

	unmappedTarget, flag := ps.remapper.InboundV4(iph.Src)
	if flag == remap.Failed {
		ps.metrics.dropsRemapFailed.Add(1)
		return
	}

	pcb, ok := ps.table.LookupForReply(FamilyV4, NewAddrV4(unmappedTarget), id)
	if !ok {
		ps.metrics.dropsNoMatch.Add(1)
		return
	}
	guestIP := pcb.Src.IP()
	guestID := pcb.GuestID

	cs := NewChecksummer()
	oldICMPChecksum := binary.BigEndian.Uint16(icmp[icmpChecksumOffset : icmpChecksumOffset+2])
	cs.Replace16(icmp, icmpEchoIDOffset, guestID)
	binary.BigEndian.PutUint16(icmp[icmpChecksumOffset:icmpChecksumOffset+2], cs.Finish(oldICMPChecksum))

	ipcs := NewChecksummer()
	oldIPChecksum := binary.BigEndian.Uint16(buf[ipv4ChecksumOffset : ipv4ChecksumOffset+2])
	ipcs.Replace32(buf, ipv4DstOffset, binary.BigEndian.Uint32(guestIP.To4()))
	if flag == remap.Mapped {
		ipcs.Replace32(buf, ipv4SrcOffset, binary.BigEndian.Uint32(unmappedTarget.To4()))
	} else {
		buf[ipv4TTLOffset]--
		ipcs.AddTTLDecrement()
	}
	binary.BigEndian.PutUint16(buf[ipv4ChecksumOffset:ipv4ChecksumOffset+2], ipcs.Finish(oldIPChecksum))

	ps.ForwardInbound(ctx, append([]byte(nil), buf...))
}

// handleError4 checks whether buf is an ICMP error (destination unreachable
// or time exceeded) about one of our own pings and, if so, rewrites the
// quoted inner headers plus the outer header and forwards it. Ports
// pxping_pmgr_icmp4_error, including its two documented inconsistencies
// (spec.md §9, Open Questions 1-2): the lookup below matches on the inner
// datagram's *destination* with no inbound-remap step, and a mapped inner
// destination is never rewritten even though the inner source is.
func (ps *ProxyState) handleError4(ctx context.Context, buf []byte, iph *ipv4.Header) {
	oipoff := iph.Len + icmpEchoHdrLen
	if len(buf) < oipoff+ipv4.HeaderLen {
		return
	}
	oiplen := len(buf) - oipoff // truncated length, not the original's own declared TotalLen

	oiph, err := ipv4.ParseHeader(buf[oipoff:])
	if err != nil || oiph.Version != 4 {
		return
	}
	if oiph.FragOff != 0 {
		return // can't match fragments except the first one
	}
	if oiph.Protocol != 1 {
		return
	}
	if oiplen < oiph.Len+icmpEchoHdrLen {
		return
	}

	oicmp := buf[oipoff+oiph.Len:]
	if oicmp[icmpTypeOffset] != byte(ipv4.ICMPTypeEcho) {
		return
	}
	id := binary.BigEndian.Uint16(oicmp[icmpEchoIDOffset : icmpEchoIDOffset+2])

	// NB: oiph.Dst is used directly, with no InboundV4 remap call, exactly
	// as the original does — see the Open Question this preserves.
	pcb, ok := ps.table.LookupForReply(FamilyV4, NewAddrV4(oiph.Dst), id)
	if !ok {
		ps.metrics.dropsNoMatch.Add(1)
		return
	}
	mapped := pcb.IsMapped
	pcbSrc := pcb.Src.IP()
	guestID := pcb.GuestID

	// Outer checksum is unaffected by changes to the inner (quoted)
	// headers; only the inner checksum needs its own fixup.
	icmpCs := NewChecksummer()
	oldInnerICMPChecksum := binary.BigEndian.Uint16(oicmp[icmpChecksumOffset : icmpChecksumOffset+2])
	icmpCs.Replace16(oicmp, icmpEchoIDOffset, guestID)
	binary.BigEndian.PutUint16(oicmp[icmpChecksumOffset:icmpChecksumOffset+2], icmpCs.Finish(oldInnerICMPChecksum))

	innerIPOff := oipoff
	innerIPCs := NewChecksummer()
	oldInnerIPChecksum := binary.BigEndian.Uint16(buf[innerIPOff+ipv4ChecksumOffset : innerIPOff+ipv4ChecksumOffset+2])
	innerIPCs.Replace32(buf, innerIPOff+ipv4SrcOffset, binary.BigEndian.Uint32(pcbSrc.To4()))
	// XXX: FIXME: the inner destination is never rewritten even when mapped.
	binary.BigEndian.PutUint16(buf[innerIPOff+ipv4ChecksumOffset:innerIPOff+ipv4ChecksumOffset+2], innerIPCs.Finish(oldInnerIPChecksum))

	outerIPCs := NewChecksummer()
	oldOuterIPChecksum := binary.BigEndian.Uint16(buf[ipv4ChecksumOffset : ipv4ChecksumOffset+2])
	outerIPCs.Replace32(buf, ipv4DstOffset, binary.BigEndian.Uint32(pcbSrc.To4()))
	if !mapped { // XXX: FIXME: the error may have come from somewhere else entirely.
		buf[ipv4TTLOffset]--
		outerIPCs.AddTTLDecrement()
	}
	binary.BigEndian.PutUint16(buf[ipv4ChecksumOffset:ipv4ChecksumOffset+2], outerIPCs.Finish(oldOuterIPChecksum))

	ps.ForwardInbound(ctx, append([]byte(nil), buf...))
}
