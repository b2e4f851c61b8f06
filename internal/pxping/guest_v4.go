package pxping

import (
	"context"
	"encoding/binary"
	"fmt"

	"golang.org/x/net/ipv4"
)

// ICMP echo header layout, shared by v4 and v6 (type, code, checksum, id,
// seq — RFC 792/4443): offsets of the three fields pxping ever touches.
const (
	icmpTypeOffset     = 0
	icmpChecksumOffset = 2
	icmpEchoIDOffset   = 4
)

const icmpEchoHdrLen = 8

// GuestIngressV4 proxies one ICMPv4 Echo Request datagram from the guest
// toward the host, per spec.md §4.3. datagram is the complete IPv4
// datagram (header included) exactly as the guest's TCP/IP stack captured
// it; GuestIngressV4 does not take ownership beyond the call — any bytes it
// needs to keep (for the eventual host-side reply) live in the Pcb, not in
// datagram itself.
func (ps *ProxyState) GuestIngressV4(ctx context.Context, datagram []byte) error {
	iph, err := ipv4.ParseHeader(datagram)
	if err != nil {
		ps.metrics.dropsMalformed.Add(1)
		return fmt.Errorf("pxping: parse IPv4 header: %w", err)
	}
	if len(datagram) < iph.Len+icmpEchoHdrLen {
		ps.metrics.dropsMalformed.Add(1)
		return fmt.Errorf("pxping: truncated ICMP echo request")
	}
	icmpPayload := datagram[iph.Len:]
	if icmpPayload[icmpTypeOffset] != byte(ipv4.ICMPTypeEcho) {
		return fmt.Errorf("pxping: GuestIngressV4 called on non-echo-request (type %d)", icmpPayload[icmpTypeOffset])
	}

	guestID := binary.BigEndian.Uint16(icmpPayload[icmpEchoIDOffset : icmpEchoIDOffset+2])
	src := NewAddrV4(iph.Src)
	dst := NewAddrV4(iph.Dst)

	pcb, ok := ps.lookupOrCreate(FamilyV4, src, dst, guestID)
	if !ok {
		return nil
	}

	ttl := iph.TTL
	if !pcb.IsMapped {
		if ttl == 1 {
			if ps.errGen == nil {
				return nil
			}
			return ps.errGen.ICMPTimeExceeded(ctx, datagram)
		}
		ttl--
	}

	cs := NewChecksummer()
	oldChecksum := binary.BigEndian.Uint16(icmpPayload[icmpChecksumOffset : icmpChecksumOffset+2])
	cs.Replace16(icmpPayload, icmpEchoIDOffset, pcb.HostID)
	binary.BigEndian.PutUint16(icmpPayload[icmpChecksumOffset:icmpChecksumOffset+2], cs.Finish(oldChecksum))

	if ps.sock4 == nil {
		return fmt.Errorf("pxping: no IPv4 host socket configured")
	}
	if !ps.haveTTL || ttl != ps.cachedTTL {
		if err := ps.sock4.SetTTL(ttl); err != nil {
			ps.logf("pxping: SetTTL(%d): %v", ttl, err)
		} else {
			ps.cachedTTL, ps.haveTTL = ttl, true
		}
	}
	tos := iph.TOS
	if !ps.haveTOS || tos != ps.cachedTOS {
		if err := ps.sock4.SetTOS(tos); err != nil {
			ps.logf("pxping: SetTOS(%d): %v", tos, err)
		} else {
			ps.cachedTOS, ps.haveTOS = tos, true
		}
	}

	return ps.sock4.SendTo(icmpPayload, pcb.Peer)
}
