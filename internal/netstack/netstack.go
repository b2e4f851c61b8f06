// Package netstack defines the interfaces pxping consumes from the
// user-space TCP/IP stack: packet buffers, the virtual network interface
// packets are injected into, the cooperative single-threaded task that owns
// all stack state, and the ability to synthesize an ICMP error back to the
// guest. The stack implementation itself — lwIP, gVisor's netstack,
// whatever — is out of scope for pxping; this package only pins down the
// shape it must expose.
package netstack

import "context"

// Pbuf is an opaque packet buffer owned by the TCP/IP stack. pxping treats
// it as an appendable/truncatable byte-holder; the real stack may chain
// buffers internally, but nothing here needs to know that.
type Pbuf interface {
	// Bytes returns the buffer's current contents.
	Bytes() []byte
	// SetBytes replaces the buffer's contents in place.
	SetBytes([]byte)
}

// NetIf is the virtual network interface inbound packets are injected into.
type NetIf interface {
	// OutputRaw injects a complete IPv4 datagram (header included) as read
	// from the wire. The stack is expected to route it to the guest based
	// on the embedded header, exactly as ip_output_if(p, NULL, ...) does in
	// the original lwIP-based source.
	OutputRaw(ctx context.Context, datagram []byte) error

	// OutputV6 injects an ICMPv6 payload (no IP header) with explicit
	// routing parameters, since IPv6 can't easily be sent "raw" the way v4
	// can.
	OutputV6(ctx context.Context, src, dst [16]byte, hopLimit, trafficClass uint8, payload []byte) error
}

// ErrorGenerator lets pxping ask the stack to synthesize an ICMP error
// reply back to the guest (used for the TTL==1 / hop-limit==1 case in
// GuestIngress). pxping never builds these packets itself; it only asks.
type ErrorGenerator interface {
	// ICMPTimeExceeded sends an ICMPv4 Time Exceeded (TTL exceeded in
	// transit) for the original datagram back to the guest.
	ICMPTimeExceeded(ctx context.Context, originalDatagram []byte) error
	// ICMPv6TimeExceeded is the IPv6 analogue.
	ICMPv6TimeExceeded(ctx context.Context, originalDatagram []byte) error
}

// Task is the cooperative, single-threaded run-to-completion execution
// context that owns all TCP/IP stack state and all Pcb mutation (spec.md
// §5). Work submitted via Post runs to completion before the next posted
// function starts; Post never blocks the calling (poll-manager) goroutine
// waiting for that work to finish — it only waits for the message to be
// enqueued.
type Task interface {
	// Post enqueues fn to run on the task's own goroutine. Ownership of any
	// packet data closed over by fn transfers to the task: the poster must
	// not touch it again after Post returns.
	Post(fn func())
}
