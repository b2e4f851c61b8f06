package pxping

import (
	"fmt"

	"golang.org/x/time/rate"

	"github.com/pxping/pxping/internal/netstack"
	"github.com/pxping/pxping/internal/remap"
)

// maxPcbCreatesPerSecond bounds how fast new Pcbs may be minted, smoothing
// out a burst of distinct echo requests that would otherwise all race to
// grab the 8 table slots at once. This generalizes the teacher's
// per-connection echo rate limiter (icmpbase.Conn.limiter) to the shared PCB
// table; there is no per-flow limiter here since ICMP echo has no transport
// handshake to protect.
const maxPcbCreatesPerSecond = 20

// Options configures a ProxyState. At least one of SocketV4/SocketV6 must be
// set, matching pxping_init's requirement that sock4 and sock6 not both be
// INVALID_SOCKET.
type Options struct {
	NetIf    netstack.NetIf
	ErrorGen netstack.ErrorGenerator
	Task     netstack.Task
	Remapper remap.Remapper

	SocketV4 SocketV4 // nil to run IPv4-only disabled
	SocketV6 SocketV6 // nil to run IPv6-only disabled

	// Logf receives debug-level trace lines (Pcb created/expired/refreshed,
	// drops). Defaults to a no-op. The teacher's DPRINTF2 macros were
	// compiled out in production; here that's a runtime choice instead.
	Logf func(format string, args ...any)
}

// ProxyState is the process-wide singleton described in spec.md §2: one
// instance owns the PcbTable, the host sockets, and the cached TTL/TOS
// sockopt state. Per the Design Notes, it is not hidden behind package-level
// globals — callers construct one with New and pass it explicitly to every
// operation.
type ProxyState struct {
	table    *Table
	netIf    netstack.NetIf
	errGen   netstack.ErrorGenerator
	task     netstack.Task
	remapper remap.Remapper

	sock4 SocketV4
	sock6 SocketV6

	// Cached sockopt state, updated only on a successful setsockopt — if
	// the call fails the cache is left stale and the next packet retries
	// (spec.md §9, Open Question 5).
	cachedTTL int
	cachedTOS int
	haveTTL   bool
	haveTOS   bool
	cachedHL  int
	haveHL    bool

	createLimiter *rate.Limiter
	metrics       *Metrics
	logf          func(format string, args ...any)
}

// New constructs a ProxyState. ProxyState has no Close or other shutdown
// method: it owns no timer and no background goroutine (ticks are driven by
// the caller via Tick, per spec.md's "cooperative task" model), and the
// sockets and task it is given stay owned by the caller.
func New(opts Options) (*ProxyState, error) {
	if opts.SocketV4 == nil && opts.SocketV6 == nil {
		return nil, fmt.Errorf("pxping: at least one of SocketV4/SocketV6 is required")
	}
	if opts.Remapper == nil {
		return nil, fmt.Errorf("pxping: Remapper is required")
	}
	if opts.NetIf == nil || opts.Task == nil {
		return nil, fmt.Errorf("pxping: NetIf and Task are required")
	}
	logf := opts.Logf
	if logf == nil {
		logf = func(string, ...any) {}
	}

	ps := &ProxyState{
		table:         NewTable(opts.Remapper),
		netIf:         opts.NetIf,
		errGen:        opts.ErrorGen,
		task:          opts.Task,
		remapper:      opts.Remapper,
		sock4:         opts.SocketV4,
		sock6:         opts.SocketV6,
		createLimiter: rate.NewLimiter(rate.Limit(maxPcbCreatesPerSecond), maxPcbCreatesPerSecond),
		logf:          logf,
	}
	ps.metrics = newMetrics(ps)
	return ps, nil
}

// Table returns the underlying PcbTable, mainly for tests and metrics.
func (ps *ProxyState) Table() *Table { return ps.table }

// Metrics returns a prometheus.Collector reporting PCB table occupancy and
// drop counters; see metrics.go.
func (ps *ProxyState) Metrics() *Metrics { return ps.metrics }

// Tick drives one second of the timeout wheel. Callers should invoke this
// from whatever timer facility the TCP/IP task exposes (sys_timeout in the
// original), only ever from the task's own goroutine.
func (ps *ProxyState) Tick() {
	ps.table.Tick()
	ps.metrics.tickCount.Add(1)
	if ps.table.ArmWheelIfNeeded() {
		// The caller (cmd/pxpingd's task wiring, or a test) is expected to
		// schedule the next Tick one second from now; pxping itself doesn't
		// own a timer facility, since that's the netstack's job.
	}
}

// lookupOrCreate wraps Table.Lookup/Create with the PCB-creation rate
// limiter (which only ever gates actual creation, never a refresh of an
// existing flow) and debug tracing.
func (ps *ProxyState) lookupOrCreate(family Family, src, dst Addr, guestID uint16) (*Pcb, bool) {
	if pcb, ok := ps.table.Lookup(family, src, dst, guestID); ok {
		ps.logf("%v - slot %d", pcb, ps.table.wheel.CurrentSlot())
		return pcb, true
	}

	if !ps.createLimiter.Allow() {
		ps.metrics.dropsRateLimited.Add(1)
		ps.logf("pxping: PCB creation rate limit exceeded, dropping request from %v", src)
		return nil, false
	}

	pcb, ok := ps.table.Create(family, src, dst, guestID)
	if !ok {
		ps.metrics.dropsTableFull.Add(1)
		return nil, false
	}
	ps.logf("%v - created", pcb)
	if ps.table.ArmWheelIfNeeded() {
		ps.logf("pxping: arming timeout wheel timer")
	}
	return pcb, true
}

