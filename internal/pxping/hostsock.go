package pxping

// SocketV4 is the host-side raw ICMPv4 socket collaborator. Sending and the
// TTL/TOS sockopts are all that pxping needs from it; reading is driven by
// the poll manager, which hands bytes to HostIngressV4 directly rather than
// pulling them through this interface.
type SocketV4 interface {
	// SetTTL applies IP_TTL. Implementations need not be idempotent; the
	// caller (ProxyState) caches the last value actually applied and only
	// calls again when it changes.
	SetTTL(ttl int) error
	// SetTOS applies IP_TOS.
	SetTOS(tos int) error
	// SendTo writes an ICMP payload (no IP header — the host kernel builds
	// one) to peer.
	SendTo(payload []byte, peer Addr) error
}

// SocketV6 is the host-side raw ICMPv6 socket collaborator.
type SocketV6 interface {
	// SetHopLimit applies IPV6_UNICAST_HOPS.
	SetHopLimit(hops int) error
	// SendTo writes an ICMPv6 payload to peer.
	SendTo(payload []byte, peer Addr) error
}
