package pxping

// WheelBuckets is T, the number of one-second buckets in the timeout wheel
// (spec.md §4.2).
const WheelBuckets = 5

// Wheel is a fixed-size ring of WheelBuckets buckets, one tick per second,
// used to expire idle Pcbs. Pcb.timeoutSlot records the bucket a Pcb *wants*
// to expire in; relinking into that bucket is deferred until the wheel next
// visits the Pcb's current bucket (lazy refresh, ported from
// pxping_timeout_add/pxping_timeout_del/pxping_timer in pxping.c).
//
// All mutation happens on the single owning goroutine (the "TCP/IP task"
// role); see spec.md §5.
type Wheel struct {
	current int
	buckets [WheelBuckets]*Pcb // doubly-linked chains, head pointers

	active bool // timer_active: a tick has been scheduled and hasn't fired yet
}

// NewWheel creates a wheel with all buckets empty.
func NewWheel() *Wheel {
	return &Wheel{}
}

// CurrentSlot returns the slot a newly created or refreshed Pcb should
// record as its desired expiry slot (the wheel's current position).
func (w *Wheel) CurrentSlot() int {
	return w.current
}

// insert links pcb into bucket slot. pcb must not already be linked.
func (w *Wheel) insert(pcb *Pcb, slot int) {
	head := w.buckets[slot]
	pcb.prevInBucket = nil
	pcb.nextInBucket = head
	if head != nil {
		head.prevInBucket = pcb
	}
	w.buckets[slot] = pcb
	pcb.timeoutSlot = slot
}

// remove unlinks pcb from whichever bucket chain it's currently in.
func (w *Wheel) remove(pcb *Pcb, slot int) {
	if pcb.prevInBucket != nil {
		pcb.prevInBucket.nextInBucket = pcb.nextInBucket
	} else {
		w.buckets[slot] = pcb.nextInBucket
	}
	if pcb.nextInBucket != nil {
		pcb.nextInBucket.prevInBucket = pcb.prevInBucket
	}
	pcb.prevInBucket = nil
	pcb.nextInBucket = nil
}

// add links a freshly created pcb into the bucket matching the wheel's
// current slot.
func (w *Wheel) add(pcb *Pcb) {
	w.insert(pcb, w.current)
}

// del removes pcb from the bucket it's currently linked into. The slot it
// was linked under may differ from pcb.timeoutSlot if a refresh bumped the
// desired slot without yet relinking.
func (w *Wheel) del(pcb *Pcb, linkedSlot int) {
	w.remove(pcb, linkedSlot)
}

// Refresh records that pcb should now expire at the wheel's current slot.
// Per spec.md §4.2, this does NOT relink the bucket chains immediately;
// relinking is deferred to the next Tick that visits pcb's current bucket.
func (w *Wheel) Refresh(pcb *Pcb) {
	pcb.timeoutSlot = w.current
}

// Tick advances the wheel by one second. For every Pcb found in the newly
// current bucket: if its desired timeoutSlot equals the new current slot, it
// has genuinely gone untouched for WheelBuckets seconds and is expired
// (removed from the bucket and returned to the caller for table
// deregistration and deletion). Otherwise it was refreshed since it was last
// linked, and is lazily relinked into its desired bucket.
//
// Returns the Pcbs that expired this tick.
func (w *Wheel) Tick() []*Pcb {
	w.active = false
	w.current = (w.current + 1) % WheelBuckets

	var expired []*Pcb
	pcb := w.buckets[w.current]
	for pcb != nil {
		next := pcb.nextInBucket
		if pcb.timeoutSlot == w.current {
			w.remove(pcb, w.current)
			expired = append(expired, pcb)
		} else {
			w.remove(pcb, w.current)
			w.insert(pcb, pcb.timeoutSlot)
		}
		pcb = next
	}
	return expired
}

// ArmIfNeeded reports whether a tick timer should be (re)armed: the wheel
// isn't already waiting on one, and at least one Pcb exists. Mirrors
// pxping_timer_needed's arm-only-when-non-empty / self-disarming behavior.
func (w *Wheel) ArmIfNeeded(haveAnyPcb bool) bool {
	if w.active || !haveAnyPcb {
		return false
	}
	w.active = true
	return true
}
