// Package pollmgr is a reference implementation of the poll-manager thread
// role described in spec.md §5: a dedicated goroutine that blocks in
// unix.Poll on the host raw sockets and, for each readable one, reads a
// datagram and hands it to a HostIngress callback — never touching the
// guest-facing TCP/IP stack directly. The real pxping.c poll manager is a
// whole separate thread inside VBox's NAT service driving many proxies at
// once; this is the minimal piece of that needed to exercise
// ProxyState.HostIngressV4/V6 outside of tests.
package pollmgr

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/pxping/pxping/internal/pxping"
)

// udpbufSize mirrors pollmgr_udpbuf in the original source: one
// recv-sized scratch buffer, reused for every read.
const udpbufSize = 9200

// Reader is a single registered host socket: something with a file
// descriptor to poll and a way to deliver a freshly read datagram.
type Reader interface {
	Fd() (uintptr, error)
}

// V4Reader is the IPv4 raw-socket half of Reader.
type V4Reader interface {
	Reader
	ReadRaw(buf []byte) (n int, err error)
}

// V6Reader is the IPv6 raw-socket half of Reader.
type V6Reader interface {
	Reader
	ReadMsg(buf []byte) (mh pxping.RecvMsg6, n int, err error)
}

// Manager polls a fixed set of host sockets and dispatches readable
// datagrams to the supplied callbacks. It owns no pxping state directly —
// spec.md's external-collaborator boundary is enforced by Manager knowing
// nothing about Pcbs, only about bytes and file descriptors.
type Manager struct {
	v4     V4Reader
	v6     V6Reader
	onV4   func(ctx context.Context, buf []byte) error
	onV6   func(ctx context.Context, mh pxping.RecvMsg6, payload []byte) error
	logf   func(format string, args ...any)
	stopCh chan struct{}
}

// Options configures a Manager. Either V4 or V6 (or both) may be set; a nil
// reader/callback pair is simply never polled.
type Options struct {
	V4   V4Reader
	OnV4 func(ctx context.Context, buf []byte) error

	V6   V6Reader
	OnV6 func(ctx context.Context, mh pxping.RecvMsg6, payload []byte) error

	Logf func(format string, args ...any)
}

// New constructs a Manager from opts.
func New(opts Options) *Manager {
	logf := opts.Logf
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Manager{
		v4:     opts.V4,
		v6:     opts.V6,
		onV4:   opts.OnV4,
		onV6:   opts.OnV6,
		logf:   logf,
		stopCh: make(chan struct{}),
	}
}

// Stop causes a running Run call to return at its next poll timeout.
func (m *Manager) Stop() { close(m.stopCh) }

// Run blocks, servicing readable sockets, until ctx is canceled or Stop is
// called. pollTimeoutMillis bounds how promptly Stop/ctx cancellation is
// noticed.
func (m *Manager) Run(ctx context.Context, pollTimeoutMillis int) error {
	var fds []unix.PollFd
	var indexV4, indexV6 = -1, -1

	if m.v4 != nil {
		fd, err := m.v4.Fd()
		if err != nil {
			return fmt.Errorf("pollmgr: v4 Fd: %w", err)
		}
		indexV4 = len(fds)
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
	}
	if m.v6 != nil {
		fd, err := m.v6.Fd()
		if err != nil {
			return fmt.Errorf("pollmgr: v6 Fd: %w", err)
		}
		indexV6 = len(fds)
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
	}
	if len(fds) == 0 {
		return fmt.Errorf("pollmgr: no sockets registered")
	}

	buf := make([]byte, udpbufSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.stopCh:
			return nil
		default:
		}

		n, err := unix.Poll(fds, pollTimeoutMillis)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("pollmgr: poll: %w", err)
		}
		if n == 0 {
			continue
		}

		if indexV4 >= 0 && fds[indexV4].Revents&unix.POLLIN != 0 {
			nread, err := m.v4.ReadRaw(buf)
			if err != nil {
				m.logf("pollmgr: ReadRaw: %v", err)
			} else if err := m.onV4(ctx, append([]byte(nil), buf[:nread]...)); err != nil {
				m.logf("pollmgr: HostIngressV4: %v", err)
			}
		}
		if indexV6 >= 0 && fds[indexV6].Revents&unix.POLLIN != 0 {
			mh, nread, err := m.v6.ReadMsg(buf)
			if err != nil {
				m.logf("pollmgr: ReadMsg: %v", err)
			} else if err := m.onV6(ctx, mh, append([]byte(nil), buf[:nread]...)); err != nil {
				m.logf("pollmgr: HostIngressV6: %v", err)
			}
		}
	}
}
