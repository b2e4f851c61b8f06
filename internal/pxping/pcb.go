package pxping

import "fmt"

// noTimeoutSlot marks a Pcb not currently linked into any wheel bucket.
const noTimeoutSlot = -1

// Pcb is a quasi protocol-control-block: bookkeeping for one ICMP echo
// conversation, not a real transport PCB. See spec.md §3.
type Pcb struct {
	Family Family
	Src    Addr // guest-side source, as the guest wrote it
	Dst    Addr // guest-side destination; may be a virtual remapped address
	// Peer, the physical host-side socket address, is resolved from Dst by
	// the remapper at creation time. Stored as an Addr; the port/proto
	// implied by Family is supplied by the caller (ICMP has no ports).
	Peer Addr

	GuestID uint16 // ICMP echo ID as the guest chose it, opaque, network order
	HostID  uint16 // ICMP echo ID chosen by us, uniform random 0..65535

	IsMapped bool // true if Dst was remapped to a different host-visible peer

	// timeoutSlot is the wheel bucket this Pcb wants to next expire in. It's
	// updated eagerly on every refresh, but relinking the wheel's bucket
	// chains happens lazily — only when the wheel visits the Pcb's current
	// bucket. See Wheel.
	timeoutSlot int

	// Wheel bucket doubly-linked list.
	prevInBucket *Pcb
	nextInBucket *Pcb

	// Global table singly-linked list.
	nextInTable *Pcb
}

func (p *Pcb) String() string {
	return fmt.Sprintf("ping %p: %v -> %v id %04x->%04x", p, p.Src, p.Dst, p.GuestID, p.HostID)
}
