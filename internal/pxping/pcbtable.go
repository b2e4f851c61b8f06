package pxping

import (
	"math/rand"
	"sync"

	"github.com/pxping/pxping/internal/remap"
)

// MaxPcbs is N, the hard cap on simultaneously active Pcbs (spec.md §4.1).
// This is a deliberate non-goal of industrial ping throughput: a short
// linked list is enough, and a full table simply fails new echoes silently.
const MaxPcbs = 8

// Table is the PcbTable: it maps (family, src, dst, guest_id) to
// (family, dst, host_id) for active echo flows, and owns the TimeoutWheel
// that expires them.
//
// Mutation (create, register, deregister, wheel ticks) happens only on the
// TCP/IP task. The poll-manager thread only calls LookupForReply, which
// takes mu for the duration of the scan and releases it before the caller
// does any further work — keeping the critical section O(table size), per
// spec.md §5.
type Table struct {
	mu    sync.Mutex
	pcbs  *Pcb // singly-linked global list head
	n     int
	wheel *Wheel

	remapper remap.Remapper
	randSrc  *rand.Rand
}

// NewTable creates an empty PcbTable bound to remapper for resolving
// outbound (and later inbound) host-visible peers.
func NewTable(remapper remap.Remapper) *Table {
	return &Table{
		wheel:    NewWheel(),
		remapper: remapper,
		randSrc:  rand.New(rand.NewSource(rand.Int63())),
	}
}

// Len returns the number of currently registered Pcbs.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.n
}

// Wheel exposes the table's timeout wheel so the owning task can drive ticks.
func (t *Table) Wheel() *Wheel { return t.wheel }

// findByRequestKey scans the global list for a Pcb matching the given
// request key. It takes no lock: its caller, Lookup, runs only on the TCP/IP
// task, which is the only mutator and so needs no lock to read the list,
// matching pxping_pcb_for_request in the original source.
func findByRequestKey(pcbs *Pcb, family Family, src, dst Addr, guestID uint16) *Pcb {
	for p := pcbs; p != nil; p = p.nextInTable {
		if p.Family == family && p.GuestID == guestID && p.Dst.Equal(dst) && p.Src.Equal(src) {
			return p
		}
	}
	return nil
}

func findByReplyKey(pcbs *Pcb, family Family, dst Addr, hostID uint16) *Pcb {
	for p := pcbs; p != nil; p = p.nextInTable {
		// Broadcast/multicast echoes are never matched: dst must resolve to
		// a concrete stored Dst (spec.md §4.1).
		if p.Family == family && p.HostID == hostID && p.Dst.Equal(dst) {
			return p
		}
	}
	return nil
}

// Lookup returns the existing Pcb for (family, src, dst, guestID), if any,
// bumping its desired wheel slot. The second return is false when no such
// Pcb exists yet. Called only from the TCP/IP task.
func (t *Table) Lookup(family Family, src, dst Addr, guestID uint16) (*Pcb, bool) {
	pcb := findByRequestKey(t.pcbs, family, src, dst, guestID)
	if pcb == nil {
		return nil, false
	}
	// Just bump the desired expiry slot; relinking is lazy (see Wheel.Tick).
	t.wheel.Refresh(pcb)
	return pcb, true
}

// LookupOrCreateForRequest returns the existing Pcb for (family, src, dst,
// guestID), refreshing its wheel slot, or allocates a new one if none
// exists. It returns (nil, false) if the table is full or the remapper
// refuses to produce a physical peer address for dst. Called only from the
// TCP/IP task.
func (t *Table) LookupOrCreateForRequest(family Family, src, dst Addr, guestID uint16) (*Pcb, bool) {
	if pcb, ok := t.Lookup(family, src, dst, guestID); ok {
		return pcb, true
	}
	return t.Create(family, src, dst, guestID)
}

// Create allocates a brand new Pcb for (family, src, dst, guestID), assuming
// the caller has already confirmed none exists. Returns (nil, false) if the
// table is full or the remapper refuses to produce a physical peer address.
func (t *Table) Create(family Family, src, dst Addr, guestID uint16) (*Pcb, bool) {
	t.mu.Lock()
	if t.n >= MaxPcbs {
		t.mu.Unlock()
		return nil, false
	}
	t.mu.Unlock()

	peer, isMapped, ok := t.resolvePeer(family, dst)
	if !ok {
		return nil, false
	}

	pcb := &Pcb{
		Family:      family,
		Src:         src,
		Dst:         dst,
		Peer:        peer,
		GuestID:     guestID,
		HostID:      uint16(t.randSrc.Intn(1 << 16)),
		IsMapped:    isMapped,
		timeoutSlot: noTimeoutSlot,
	}

	t.mu.Lock()
	t.register(pcb)
	t.mu.Unlock()

	return pcb, true
}

func (t *Table) resolvePeer(family Family, dst Addr) (Addr, bool, bool) {
	switch family {
	case FamilyV4:
		peer, flag := t.remapper.OutboundV4(dst.IP())
		if flag == remap.Failed {
			return Addr{}, false, false
		}
		return NewAddrV4(peer), flag == remap.Mapped, true
	case FamilyV6:
		peer, flag := t.remapper.OutboundV6(dst.IP())
		if flag == remap.Failed {
			return Addr{}, false, false
		}
		return NewAddrV6(peer), flag == remap.Mapped, true
	default:
		return Addr{}, false, false
	}
}

// LookupForReply matches a host-side reply to the Pcb that requested it, by
// (family, dst, hostID). Safe for concurrent use by the poll-manager thread;
// takes mu only for the scan itself.
func (t *Table) LookupForReply(family Family, dst Addr, hostID uint16) (*Pcb, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pcb := findByReplyKey(t.pcbs, family, dst, hostID)
	return pcb, pcb != nil
}

// register links pcb into the global list and the wheel. Callers must hold
// mu.
func (t *Table) register(pcb *Pcb) {
	pcb.nextInTable = t.pcbs
	t.pcbs = pcb
	t.n++
	t.wheel.add(pcb)
}

// unlinkFromList removes pcb from the global singly-linked list. Callers
// must hold mu.
func (t *Table) unlinkFromList(pcb *Pcb) {
	for p := &t.pcbs; *p != nil; p = &(*p).nextInTable {
		if *p == pcb {
			*p = pcb.nextInTable
			break
		}
	}
	pcb.nextInTable = nil
	t.n--
}

// deregister removes pcb from both the global list and the wheel bucket it's
// linked into. Callers must hold mu; linkedSlot is the bucket pcb is
// currently chained into (which may differ from pcb.timeoutSlot after a lazy
// refresh).
func (t *Table) deregister(pcb *Pcb, linkedSlot int) {
	t.unlinkFromList(pcb)
	t.wheel.del(pcb, linkedSlot)
}

// Tick advances the timeout wheel by one second, deregistering and deleting
// any Pcb that has gone WheelBuckets seconds without a refresh. Called only
// from the TCP/IP task, typically from a timer driven by the netstack's
// scheduling API.
func (t *Table) Tick() {
	t.mu.Lock()
	defer t.mu.Unlock()

	expired := t.wheel.Tick()
	for _, pcb := range expired {
		t.unlinkFromList(pcb)
	}
}

// ArmWheelIfNeeded reports whether the caller should schedule the next
// one-second tick: true only when at least one Pcb is registered and no
// tick is currently pending.
func (t *Table) ArmWheelIfNeeded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.wheel.ArmIfNeeded(t.n > 0)
}
