package pxping

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/pxping/pxping/internal/remap"
)

// TestGuestIngressV6_UnmappedDecrementsHopLimit covers the unmapped branch of
// GuestIngressV6: hop limit is decremented by one, the ICMP id is rewritten
// to the host id, and the rewritten echo is sent to the (unmapped) peer.
func TestGuestIngressV6_UnmappedDecrementsHopLimit(t *testing.T) {
	sock6 := &fakeSocket6{}
	ps := newTestProxyState(t, nil, nil, sock6)

	guestSrc := mustParseIP("fe80::1")
	target := mustParseIP("2001:4860:4860::8888")
	const guestID = uint16(0xAAAA)
	const origHopLimit = byte(64)

	datagram := buildIPv6Echo(guestSrc, target, origHopLimit, 128 /* echo request */, guestID, 1, nil)
	if err := ps.GuestIngressV6(context.Background(), datagram); err != nil {
		t.Fatalf("GuestIngressV6: %v", err)
	}

	pcb, ok := ps.table.Lookup(FamilyV6, NewAddrV6(guestSrc), NewAddrV6(target), guestID)
	if !ok {
		t.Fatalf("no pcb registered after GuestIngressV6")
	}
	if pcb.IsMapped {
		t.Errorf("IsMapped = true, want false for an unremapped target")
	}

	if len(sock6.sentPayload) != 8 {
		t.Fatalf("sent payload len = %d, want 8", len(sock6.sentPayload))
	}
	if got := binary.BigEndian.Uint16(sock6.sentPayload[4:6]); got != pcb.HostID {
		t.Errorf("sent ICMP id = %#04x, want host id %#04x", got, pcb.HostID)
	}
	if len(sock6.hopLimitCalls) == 0 || sock6.hopLimitCalls[len(sock6.hopLimitCalls)-1] != int(origHopLimit)-1 {
		t.Errorf("hopLimitCalls = %v, want last entry %d", sock6.hopLimitCalls, origHopLimit-1)
	}
	if want := NewAddrV6(target); !sock6.sentPeer.Equal(want) {
		t.Errorf("sentPeer = %v, want %v", sock6.sentPeer, want)
	}
}

// TestGuestIngressV6_UnmappedHopLimitOneGeneratesTimeExceeded covers the
// hop-limit==1 branch for an unmapped flow: a synthetic ICMPv6 Time Exceeded
// is generated instead of a host send.
func TestGuestIngressV6_UnmappedHopLimitOneGeneratesTimeExceeded(t *testing.T) {
	sock6 := &fakeSocket6{}
	ps := newTestProxyState(t, nil, nil, sock6)
	errGen := ps.errGen.(*fakeErrorGen)

	datagram := buildIPv6Echo(mustParseIP("fe80::1"), mustParseIP("2001:4860:4860::8888"), 1, 128, 0x1234, 1, nil)
	if err := ps.GuestIngressV6(context.Background(), datagram); err != nil {
		t.Fatalf("GuestIngressV6: %v", err)
	}

	if errGen.v6Datagram == nil {
		t.Errorf("no synthetic ICMPv6 Time Exceeded generated")
	}
	if sock6.sentPayload != nil {
		t.Errorf("unexpected host send for a hop-limit=1 unmapped echo: %v", sock6.sentPayload)
	}
}

// TestGuestIngressV6_MappedHopLimitOnePassesThrough covers the mapped branch:
// hop limit 1 is sent through unchanged (no decrement, no Time Exceeded),
// since the hop-limit==1 rule only applies when !pcb.IsMapped.
func TestGuestIngressV6_MappedHopLimitOnePassesThrough(t *testing.T) {
	const virtual = "2001:db8::50"
	const physical = "2001:4860:4860::8888"
	r := remap.NewStatic()
	r.V6[virtual] = physical

	sock6 := &fakeSocket6{}
	ps := newTestProxyState(t, r, nil, sock6)
	errGen := ps.errGen.(*fakeErrorGen)

	guestSrc := mustParseIP("fe80::1")
	const guestID = uint16(0x7777)
	datagram := buildIPv6Echo(guestSrc, mustParseIP(virtual), 1, 128, guestID, 1, nil)
	if err := ps.GuestIngressV6(context.Background(), datagram); err != nil {
		t.Fatalf("GuestIngressV6: %v", err)
	}

	pcb, ok := ps.table.Lookup(FamilyV6, NewAddrV6(guestSrc), NewAddrV6(mustParseIP(virtual)), guestID)
	if !ok {
		t.Fatalf("no pcb registered")
	}
	if !pcb.IsMapped {
		t.Fatalf("IsMapped = false, want true")
	}
	if errGen.v6Datagram != nil {
		t.Errorf("Time Exceeded generated for a mapped flow with hop limit 1; mapped flows should pass through unchanged")
	}
	if len(sock6.hopLimitCalls) == 0 || sock6.hopLimitCalls[len(sock6.hopLimitCalls)-1] != 1 {
		t.Errorf("hopLimitCalls = %v, want last entry 1 (unchanged)", sock6.hopLimitCalls)
	}
	if len(sock6.sentPayload) != 8 {
		t.Fatalf("sent payload len = %d, want 8", len(sock6.sentPayload))
	}
}
