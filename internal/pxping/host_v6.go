package pxping

import (
	"context"
	"encoding/binary"

	"golang.org/x/net/ipv6"

	"github.com/pxping/pxping/internal/remap"
)

// RecvMsg6 carries what recvmsg(2) on a raw ICMPv6 socket delivers beyond
// the bare payload: the peer address and whatever IPV6_PKTINFO /
// IPV6_HOPLIMIT control messages the kernel attached. The rawsock package
// is expected to populate this directly from cmsg data; see
// pxping_pmgr_icmp6's CMSG_FIRSTHDR/CMSG_NXTHDR loop.
type RecvMsg6 struct {
	Peer [16]byte

	HavePktinfoDst bool
	PktinfoDst     [16]byte

	HaveHopLimit bool
	HopLimit     int
}

// HostIngressV6 validates and dispatches one ICMPv6 datagram read off the
// raw host socket, per spec.md §4.6. Only Echo Reply is proxied; ICMP
// errors (destination unreachable, packet too big, time exceeded, parameter
// problem) are logged and dropped, left unimplemented exactly as
// pxping_pmgr_icmp6_echo/pxping_pmgr_icmp6_error are empty stubs in the
// original (spec.md §9, Open Question 3).
func (ps *ProxyState) HostIngressV6(ctx context.Context, mh RecvMsg6, payload []byte) error {
	if len(payload) < icmpEchoHdrLen {
		return nil
	}
	if typ := payload[icmpTypeOffset]; ipv6.ICMPType(typ) != ipv6.ICMPTypeEchoReply {
		// Echo requests, and every ICMPv6 error type, are not proxied.
		if typ < 128 { // ICMPv6 error messages use types 0-127 (RFC 4443)
			ps.logf("pxping: ICMPv6 error type %d not proxied, dropping", typ)
		}
		return nil
	}

	if !mh.HavePktinfoDst {
		// Without the destination from IPV6_PKTINFO we have no way to
		// recompute the pseudo-header checksum once the destination is
		// rewritten to the guest's address: ip6_output_if doesn't do that
		// for us, unlike IPv4's kernel-computed checksum.
		ps.logf("pxping: ICMPv6 reply with no pktinfo, dropping")
		return nil
	}

	id := binary.BigEndian.Uint16(payload[icmpEchoIDOffset : icmpEchoIDOffset+2])

	targetIP := make([]byte, 16)
	copy(targetIP, mh.Peer[:])
	unmappedTarget, flag := ps.remapper.InboundV6(targetIP)
	if flag == remap.Failed {
		ps.metrics.dropsRemapFailed.Add(1)
		return nil
	}
	var unmappedTargetBytes [16]byte
	copy(unmappedTargetBytes[:], unmappedTarget.To16())

	pcb, ok := ps.table.LookupForReply(FamilyV6, NewAddrV6(unmappedTarget), id)
	if !ok {
		ps.metrics.dropsNoMatch.Add(1)
		return nil
	}
	guestAddr := pcb.Src.V6Bytes()
	guestID := pcb.GuestID

	out := append([]byte(nil), payload...)

	cs := NewChecksummer()
	oldChecksum := binary.BigEndian.Uint16(out[icmpChecksumOffset : icmpChecksumOffset+2])
	cs.Replace16(out, icmpEchoIDOffset, guestID)
	cs.AddAddr6Delta(mh.PktinfoDst, guestAddr)
	if flag == remap.Mapped {
		cs.AddAddr6Delta(mh.Peer, unmappedTargetBytes)
	}
	binary.BigEndian.PutUint16(out[icmpChecksumOffset:icmpChecksumOffset+2], cs.Finish(oldChecksum))

	hopLimit := ipv6DefaultHopLimit
	if mh.HaveHopLimit {
		hopLimit = mh.HopLimit
		if flag != remap.Mapped {
			if hopLimit == 1 {
				return nil
			}
			hopLimit--
		}
	}

	ps.ForwardInbound6(ctx, unmappedTargetBytes, guestAddr, uint8(hopLimit), 0, out)
	return nil
}

// ipv6DefaultHopLimit is used when the kernel didn't supply IPV6_HOPLIMIT
// (LWIP_ICMP6_HL in the original source).
const ipv6DefaultHopLimit = 64
