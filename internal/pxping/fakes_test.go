package pxping

import (
	"context"
	"net"
)

// syncTask runs posted work immediately on the calling goroutine. Valid for
// tests: ProxyState only cares that Post eventually runs fn to completion,
// never how that's scheduled (netstack.Task's doc comment).
type syncTask struct{}

func (syncTask) Post(fn func()) { fn() }

// fakeNetIf records every injected datagram instead of routing it anywhere.
type fakeNetIf struct {
	raw []byte

	v6Src, v6Dst               [16]byte
	v6HopLimit, v6TrafficClass uint8
	v6Payload                  []byte
	v6Called                   bool
}

func (f *fakeNetIf) OutputRaw(ctx context.Context, datagram []byte) error {
	f.raw = append([]byte(nil), datagram...)
	return nil
}

func (f *fakeNetIf) OutputV6(ctx context.Context, src, dst [16]byte, hopLimit, trafficClass uint8, payload []byte) error {
	f.v6Called = true
	f.v6Src, f.v6Dst = src, dst
	f.v6HopLimit, f.v6TrafficClass = hopLimit, trafficClass
	f.v6Payload = append([]byte(nil), payload...)
	return nil
}

// fakeErrorGen records calls instead of synthesizing real ICMP errors.
type fakeErrorGen struct {
	v4Datagram []byte
	v6Datagram []byte
}

func (f *fakeErrorGen) ICMPTimeExceeded(ctx context.Context, originalDatagram []byte) error {
	f.v4Datagram = append([]byte(nil), originalDatagram...)
	return nil
}

func (f *fakeErrorGen) ICMPv6TimeExceeded(ctx context.Context, originalDatagram []byte) error {
	f.v6Datagram = append([]byte(nil), originalDatagram...)
	return nil
}

// fakeSocket4 records outgoing sends and sockopt calls in place of a real
// raw socket.
type fakeSocket4 struct {
	ttlCalls, tosCalls []int
	sentPayload        []byte
	sentPeer           Addr
	setErr             error
}

func (f *fakeSocket4) SetTTL(ttl int) error {
	f.ttlCalls = append(f.ttlCalls, ttl)
	return f.setErr
}

func (f *fakeSocket4) SetTOS(tos int) error {
	f.tosCalls = append(f.tosCalls, tos)
	return f.setErr
}

func (f *fakeSocket4) SendTo(payload []byte, peer Addr) error {
	f.sentPayload = append([]byte(nil), payload...)
	f.sentPeer = peer
	return nil
}

// fakeSocket6 is the IPv6 analogue of fakeSocket4.
type fakeSocket6 struct {
	hopLimitCalls []int
	sentPayload   []byte
	sentPeer      Addr
}

func (f *fakeSocket6) SetHopLimit(hops int) error {
	f.hopLimitCalls = append(f.hopLimitCalls, hops)
	return nil
}

func (f *fakeSocket6) SendTo(payload []byte, peer Addr) error {
	f.sentPayload = append([]byte(nil), payload...)
	f.sentPeer = peer
	return nil
}

func mustParseIP(s string) net.IP {
	ip := net.ParseIP(s)
	if ip == nil {
		panic("bad test IP literal: " + s)
	}
	return ip
}
