// Command pxpingd is a minimal standalone host for the pxping proxy core:
// it opens the host-side raw ICMP sockets, runs the poll manager that
// services them on the main goroutine, and drives a cooperative "TCP/IP task" goroutine that
// stands in for the real guest-side stack. It exists to exercise
// internal/pxping end to end and as a template for wiring the library into
// a real netstack; production use would replace netIf below with the
// user-space stack's actual injection API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/pxping/pxping/internal/netstack"
	"github.com/pxping/pxping/internal/pollmgr"
	"github.com/pxping/pxping/internal/pxping"
	"github.com/pxping/pxping/internal/rawsock"
	"github.com/pxping/pxping/internal/remap"
)

var Version = "(unknown)" // Set via -ldflags

var (
	enableV4     = pflag.Bool("v4", true, "Enable the IPv4 echo proxy.")
	enableV6     = pflag.Bool("v6", true, "Enable the IPv6 echo proxy.")
	mapV4        = pflag.StringToStringP("map4", "m", nil, "guest=host IPv4 address remaps, e.g. 10.0.2.3=8.8.8.8.")
	mapV6        = pflag.StringToString("map6", nil, "guest=host IPv6 address remaps.")
	metricsAddr  = pflag.String("metrics_addr", "", "If set, serve Prometheus metrics on this address (e.g. :9300).")
	pollTimeout  = pflag.Int("poll_timeout_ms", 1000, "Poll manager timeout between liveness checks, in milliseconds.")
	printVersion = pflag.BoolP("version", "v", false, "Output the version number.")
)

func main() {
	pflag.Parse()
	if *printVersion {
		printVersionInfo()
		os.Exit(0)
	}
	if !*enableV4 && !*enableV6 {
		fmt.Fprintln(os.Stderr, "at least one of --v4/--v6 must be enabled")
		os.Exit(1)
	}

	remapper := remap.NewStatic()
	for guest, host := range *mapV4 {
		remapper.V4[guest] = host
	}
	for guest, host := range *mapV6 {
		remapper.V6[guest] = host
	}

	var sock4 *rawsock.V4
	var sock6 *rawsock.V6
	var err error
	if *enableV4 {
		sock4, err = rawsock.OpenV4()
		if err != nil {
			log.Fatalf("pxpingd: %v", err)
		}
		defer sock4.Close()
	}
	if *enableV6 {
		sock6, err = rawsock.OpenV6()
		if err != nil {
			log.Fatalf("pxpingd: %v", err)
		}
		defer sock6.Close()
	}

	task := netstack.NewSerialTask(64)
	defer task.Close()

	ps, err := pxping.New(pxping.Options{
		NetIf:    loopbackNetIf{},
		ErrorGen: nil, // a real stack supplies its own ICMP error synthesis.
		Task:     task,
		Remapper: remapper,
		SocketV4: wrapSocketV4(sock4),
		SocketV6: wrapSocketV6(sock6),
		Logf:     log.Printf,
	})
	if err != nil {
		log.Fatalf("pxpingd: %v", err)
	}

	if *metricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(ps.Metrics())
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			log.Printf("pxpingd: serving metrics on %s", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.Printf("pxpingd: metrics server: %v", err)
			}
		}()
	}

	var v4Reader pollmgr.V4Reader
	if sock4 != nil {
		v4Reader = sock4
	}
	var v6Reader pollmgr.V6Reader
	if sock6 != nil {
		v6Reader = sock6
	}
	mgr := pollmgr.New(pollmgr.Options{
		V4: v4Reader, OnV4: ps.HostIngressV4,
		V6: v6Reader, OnV6: ps.HostIngressV6,
		Logf: log.Printf,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go runWheelTicker(ctx, task, ps)

	log.Printf("pxpingd: running (v4=%v v6=%v)", sock4 != nil, sock6 != nil)
	if err := mgr.Run(ctx, *pollTimeout); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("pxpingd: %v", err)
	}
}

// runWheelTicker stands in for the real netstack's own timer facility: it
// posts a Tick onto the TCP/IP task once a second for as long as the table
// holds at least one Pcb, mirroring pxping_timer's self-rearming behavior
// (spec.md §4.2, §9). Posting rather than calling Tick directly keeps all
// Pcb mutation on the single task goroutine.
func runWheelTicker(ctx context.Context, task *netstack.SerialTask, ps *pxping.ProxyState) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ps.Table().Len() > 0 {
				task.Post(ps.Tick)
			}
		}
	}
}

// loopbackNetIf is a placeholder NetIf that drops everything; a real
// integration replaces this with the guest-facing stack's packet injection
// call.
type loopbackNetIf struct{}

func (loopbackNetIf) OutputRaw(ctx context.Context, datagram []byte) error {
	return fmt.Errorf("pxpingd: no netstack wired, dropping %d-byte IPv4 datagram", len(datagram))
}

func (loopbackNetIf) OutputV6(ctx context.Context, src, dst [16]byte, hopLimit, trafficClass uint8, payload []byte) error {
	return fmt.Errorf("pxpingd: no netstack wired, dropping %d-byte IPv6 payload from %v to %v",
		len(payload), net.IP(src[:]), net.IP(dst[:]))
}

func wrapSocketV4(s *rawsock.V4) pxping.SocketV4 {
	if s == nil {
		return nil
	}
	return s
}

func wrapSocketV6(s *rawsock.V6) pxping.SocketV6 {
	if s == nil {
		return nil
	}
	return s
}

func printVersionInfo() {
	inf, ok := debug.ReadBuildInfo()
	if !ok {
		fmt.Println("pxpingd: unknown version")
		return
	}
	fmt.Printf("%s %s\nbuilt with %s\n", path.Base(inf.Path), Version, inf.GoVersion)
}
