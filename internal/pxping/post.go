package pxping

import (
	"context"
)

// CrossThreadPost hands an already-patched datagram from the poll-manager
// thread to the TCP/IP task for output, per spec.md §4.8. The PcbTable is
// not consulted again here — by the time HostIngress calls this, every byte
// that needed a PCB lookup has already been rewritten; the Pcb itself may
// expire before the posted closure runs, and that's fine, since nothing
// below reads it again.
//
// Ownership of datagram transfers to the posted closure: the caller must not
// touch it again after calling ForwardInbound. If NetIf.OutputRaw fails the
// datagram is simply dropped — CrossThreadPost never retries, matching
// pxping_pcb_forward_inbound's pbuf_free-on-error and no-retry behavior.
func (ps *ProxyState) ForwardInbound(ctx context.Context, datagram []byte) {
	ps.task.Post(func() {
		if err := ps.netIf.OutputRaw(ctx, datagram); err != nil {
			ps.logf("pxping: OutputRaw: %v", err)
		}
	})
}

// ForwardInbound6 is the IPv6 analogue of ForwardInbound: src/dst/hopLimit/
// trafficClass are passed alongside the bare ICMPv6 payload since IPv6
// datagrams can't be forwarded "raw" the way IPv4 ones can (the caller has
// already adjusted the ICMPv6 checksum for the new pseudo-header, and the
// stack needs explicit routing parameters to build its own IPv6 header).
func (ps *ProxyState) ForwardInbound6(ctx context.Context, src, dst [16]byte, hopLimit, trafficClass uint8, payload []byte) {
	ps.task.Post(func() {
		if err := ps.netIf.OutputV6(ctx, src, dst, hopLimit, trafficClass, payload); err != nil {
			ps.logf("pxping: OutputV6: %v", err)
		}
	})
}
