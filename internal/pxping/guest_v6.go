package pxping

import (
	"context"
	"encoding/binary"
	"fmt"

	"golang.org/x/net/ipv6"
)

// GuestIngressV6 proxies one ICMPv6 Echo Request datagram from the guest
// toward the host, per spec.md §4.4. Unlike v4, the echo header's checksum
// is never touched here: it covers the IPv6 pseudo-header (source,
// destination, next-header), and the kernel recomputes it for us on send
// once it picks the outgoing source address — see pxping.c's comment above
// pxping_recv6's id rewrite.
func (ps *ProxyState) GuestIngressV6(ctx context.Context, datagram []byte) error {
	iph, err := ipv6.ParseHeader(datagram)
	if err != nil {
		ps.metrics.dropsMalformed.Add(1)
		return fmt.Errorf("pxping: parse IPv6 header: %w", err)
	}
	if len(datagram) < ipv6.HeaderLen+icmpEchoHdrLen {
		ps.metrics.dropsMalformed.Add(1)
		return fmt.Errorf("pxping: truncated ICMPv6 echo request")
	}
	icmpPayload := datagram[ipv6.HeaderLen:]
	if icmpPayload[icmpTypeOffset] != byte(ipv6.ICMPTypeEchoRequest) {
		return fmt.Errorf("pxping: GuestIngressV6 called on non-echo-request (type %d)", icmpPayload[icmpTypeOffset])
	}

	guestID := binary.BigEndian.Uint16(icmpPayload[icmpEchoIDOffset : icmpEchoIDOffset+2])
	src := NewAddrV6(iph.Src)
	dst := NewAddrV6(iph.Dst)

	pcb, ok := ps.lookupOrCreate(FamilyV6, src, dst, guestID)
	if !ok {
		return nil
	}

	hopLimit := iph.HopLimit
	if !pcb.IsMapped {
		if hopLimit == 1 {
			if ps.errGen == nil {
				return nil
			}
			return ps.errGen.ICMPv6TimeExceeded(ctx, datagram)
		}
		hopLimit--
	}

	binary.BigEndian.PutUint16(icmpPayload[icmpEchoIDOffset:icmpEchoIDOffset+2], pcb.HostID)

	if ps.sock6 == nil {
		return fmt.Errorf("pxping: no IPv6 host socket configured")
	}
	if !ps.haveHL || hopLimit != ps.cachedHL {
		if err := ps.sock6.SetHopLimit(hopLimit); err != nil {
			ps.logf("pxping: SetHopLimit(%d): %v", hopLimit, err)
		} else {
			ps.cachedHL, ps.haveHL = hopLimit, true
		}
	}

	return ps.sock6.SendTo(icmpPayload, pcb.Peer)
}
