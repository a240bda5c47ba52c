package telemetry

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecorders(t *testing.T) {
	before := testutil.ToFloat64(roundsTotal.WithLabelValues("agent", "replaced"))
	RecordRound("agent", "replaced")
	require.Equal(t, before+1, testutil.ToFloat64(roundsTotal.WithLabelValues("agent", "replaced")))

	RecordEvaluation("config", "timeout", 2*time.Second)
	require.GreaterOrEqual(t, testutil.ToFloat64(evaluationsTotal.WithLabelValues("config", "timeout")), 1.0)

	RecordLive("agent", -1.25)
	require.Equal(t, -1.25, testutil.ToFloat64(bestAvgReturn.WithLabelValues("agent")))

	RecordRollback("agent", false)
	require.GreaterOrEqual(t, testutil.ToFloat64(rollbacksTotal.WithLabelValues("agent", "failed")), 1.0)

	RecordAdvisorCall("gpt-4o-mini", 100, 50, 0.01)
	require.GreaterOrEqual(t, testutil.ToFloat64(advisorTokens.WithLabelValues("gpt-4o-mini", "completion")), 50.0)
}

func TestServeExposesMetrics(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, ln) }()

	RecordRound("config", "retained")
	resp, err := http.Get("http://" + ln.Addr().String() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.True(t, strings.Contains(string(body), "ratchet_rounds_total"), "metrics body lacks rounds counter")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}
