package pxping

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_ReportsPcbCountAndDrops(t *testing.T) {
	ps := newTestProxyState(t, nil, &fakeSocket4{}, &fakeSocket6{})

	src := NewAddrV4(mustParseIP("10.0.2.15"))
	dst := NewAddrV4(mustParseIP("8.8.8.8"))
	_, ok := ps.table.LookupOrCreateForRequest(FamilyV4, src, dst, 1)
	require.True(t, ok, "LookupOrCreateForRequest should admit the first flow")

	ps.Tick()
	ps.metrics.dropsNoMatch.Add(3)
	ps.metrics.dropsMalformed.Add(1)

	const want = `
		# HELP pxping_pcb_count Number of active ping PCBs.
		# TYPE pxping_pcb_count gauge
		pxping_pcb_count 1
	`
	require.NoError(t, testutil.CollectAndCompare(ps.metrics, strings.NewReader(want), "pxping_pcb_count"))

	if got := ps.metrics.dropsNoMatch.Load(); got != 3 {
		t.Errorf("dropsNoMatch = %d, want 3", got)
	}
	if got := ps.metrics.dropsMalformed.Load(); got != 1 {
		t.Errorf("dropsMalformed = %d, want 1", got)
	}
	if got := ps.metrics.tickCount.Load(); got != 1 {
		t.Errorf("tickCount = %d, want 1", got)
	}
}
