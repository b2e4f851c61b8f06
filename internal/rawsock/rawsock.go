// Package rawsock is the real host-OS implementation of the socket
// collaborators pxping.ProxyState consumes (pxping.SocketV4/SocketV6), plus
// the raw-read side the poll manager drives. It's grounded on the teacher's
// icmpbase.Conn: golang.org/x/net/icmp for the raw "ip4:icmp"/
// "ip6:ipv6-icmp" packet connections, golang.org/x/net/ipv4 and ipv6 for the
// TTL/TOS/hop-limit sockopts and (on the v6 side) the IPV6_RECVPKTINFO /
// IPV6_RECVHOPLIMIT control messages pxping.RecvMsg6 needs.
//
// Like icmpbase.New, opening either socket requires CAP_NET_RAW (or root);
// callers are expected to have already acquired that privilege, the way
// graphping_rawsock.go and internal/privsep do for the teacher's CLI.
package rawsock

import (
	"fmt"
	"net"
	"syscall"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/pxping/pxping/internal/pxping"
)

// V4 is a raw ICMPv4 socket implementing pxping.SocketV4, plus the raw-read
// path HostIngressV4 expects.
type V4 struct {
	conn *icmp.PacketConn
	p4   *ipv4.PacketConn
}

// OpenV4 opens a raw ICMPv4 socket.
func OpenV4() (*V4, error) {
	conn, err := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	if err != nil {
		return nil, fmt.Errorf("rawsock: open ICMPv4 socket: %w", err)
	}
	return &V4{conn: conn, p4: conn.IPv4PacketConn()}, nil
}

// SetTTL implements pxping.SocketV4.
func (s *V4) SetTTL(ttl int) error { return s.p4.SetTTL(ttl) }

// SetTOS implements pxping.SocketV4.
func (s *V4) SetTOS(tos int) error { return s.p4.SetTOS(tos) }

// SendTo implements pxping.SocketV4. payload is the complete ICMPv4 message
// (header, including a correct checksum, plus data) with no IP header; the
// kernel builds that.
func (s *V4) SendTo(payload []byte, peer pxping.Addr) error {
	_, err := s.conn.WriteTo(payload, &net.IPAddr{IP: peer.IP()})
	return err
}

// ReadRaw blocks until a complete IPv4 datagram (header included) arrives
// and returns it in buf[:n]. The poll manager passes n bytes of buf
// straight to ProxyState.HostIngressV4. A raw IPPROTO_ICMP socket on Linux
// delivers the IP header on every read even though IP_HDRINCL was never set
// for writes; see pxping_pmgr_icmp4's comment to the same effect. The read
// goes to the file descriptor directly, because net.IPConn's ReadFrom (used
// by icmp.PacketConn) strips that header.
func (s *V4) ReadRaw(buf []byte) (n int, err error) {
	sc, err := s.conn.SyscallConn()
	if err != nil {
		return 0, err
	}
	var rerr error
	cerr := sc.Read(func(fd uintptr) bool {
		n, rerr = syscall.Read(int(fd), buf)
		return rerr != syscall.EAGAIN
	})
	if cerr != nil {
		return 0, cerr
	}
	return n, rerr
}

// Fd exposes the underlying file descriptor for the poll manager to
// register for readability.
func (s *V4) Fd() (uintptr, error) {
	sc, err := s.conn.SyscallConn()
	if err != nil {
		return 0, err
	}
	var fd uintptr
	cerr := sc.Control(func(f uintptr) { fd = f })
	if cerr != nil {
		return 0, cerr
	}
	return fd, err
}

// Close closes the socket.
func (s *V4) Close() error { return s.conn.Close() }

// V6 is a raw ICMPv6 socket implementing pxping.SocketV6, plus the
// recvmsg-based raw-read path HostIngressV6 expects.
type V6 struct {
	conn *icmp.PacketConn
	p6   *ipv6.PacketConn
}

// OpenV6 opens a raw ICMPv6 socket and arms IPV6_RECVPKTINFO /
// IPV6_RECVHOPLIMIT so every read carries the control messages
// HostIngressV6 needs.
func OpenV6() (*V6, error) {
	conn, err := icmp.ListenPacket("ip6:ipv6-icmp", "::")
	if err != nil {
		return nil, fmt.Errorf("rawsock: open ICMPv6 socket: %w", err)
	}
	p6 := conn.IPv6PacketConn()
	if err := p6.SetControlMessage(ipv6.FlagDst|ipv6.FlagHopLimit, true); err != nil {
		conn.Close()
		return nil, fmt.Errorf("rawsock: enable IPv6 control messages: %w", err)
	}
	return &V6{conn: conn, p6: p6}, nil
}

// SetHopLimit implements pxping.SocketV6.
func (s *V6) SetHopLimit(hops int) error { return s.p6.SetHopLimit(hops) }

// SendTo implements pxping.SocketV6.
func (s *V6) SendTo(payload []byte, peer pxping.Addr) error {
	_, err := s.conn.WriteTo(payload, &net.IPAddr{IP: peer.IP()})
	return err
}

// ReadMsg blocks for the next ICMPv6 datagram and returns its payload along
// with the pxping.RecvMsg6 the control messages carried.
func (s *V6) ReadMsg(buf []byte) (pxping.RecvMsg6, int, error) {
	n, cm, peer, err := s.p6.ReadFrom(buf)
	if err != nil {
		return pxping.RecvMsg6{}, 0, err
	}

	var mh pxping.RecvMsg6
	if ua, ok := peer.(*net.IPAddr); ok && ua.IP != nil {
		copy(mh.Peer[:], ua.IP.To16())
	}
	if cm != nil {
		if cm.Dst != nil {
			mh.HavePktinfoDst = true
			copy(mh.PktinfoDst[:], cm.Dst.To16())
		}
		mh.HaveHopLimit = true
		mh.HopLimit = cm.HopLimit
	}
	return mh, n, nil
}

// Fd exposes the underlying file descriptor for the poll manager to
// register for readability.
func (s *V6) Fd() (uintptr, error) {
	sc, err := s.conn.SyscallConn()
	if err != nil {
		return 0, err
	}
	var fd uintptr
	cerr := sc.Control(func(f uintptr) { fd = f })
	if cerr != nil {
		return 0, cerr
	}
	return fd, err
}

// Close closes the socket.
func (s *V6) Close() error { return s.conn.Close() }
