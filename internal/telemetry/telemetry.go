// Package telemetry exports round and evaluation metrics to Prometheus.
package telemetry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Labels: track (agent, config), outcome (retained, replaced, fatal)
	roundsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ratchet",
		Name:      "rounds_total",
		Help:      "Rounds finished by track and outcome",
	}, []string{"track", "outcome"})

	// Labels: track, status (ok, failed, timeout, crashed, malformed, error)
	evaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ratchet",
		Name:      "evaluations_total",
		Help:      "Isolated evaluations by track and status",
	}, []string{"track", "status"})

	evaluationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ratchet",
		Name:      "evaluation_duration_seconds",
		Help:      "Wall-clock time of one isolated evaluation",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
	}, []string{"track"})

	bestAvgReturn = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "ratchet",
		Name:      "live_avg_return",
		Help:      "Average return of the live artifact at the end of the last round",
	}, []string{"track"})

	rollbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ratchet",
		Name:      "rollbacks_total",
		Help:      "Rollbacks by track and result (ok, failed)",
	}, []string{"track", "result"})

	// Labels: model, kind (prompt, completion)
	advisorTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ratchet",
		Subsystem: "advisor",
		Name:      "tokens_total",
		Help:      "Tokens used by advisor calls",
	}, []string{"model", "kind"})

	advisorCost = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ratchet",
		Subsystem: "advisor",
		Name:      "cost_usd_total",
		Help:      "Estimated advisor spend in USD",
	}, []string{"model"})
)

func RecordRound(track, outcome string) {
	roundsTotal.WithLabelValues(track, outcome).Inc()
}

func RecordEvaluation(track, status string, d time.Duration) {
	evaluationsTotal.WithLabelValues(track, status).Inc()
	evaluationDuration.WithLabelValues(track).Observe(d.Seconds())
}

func RecordLive(track string, avgReturn float64) {
	bestAvgReturn.WithLabelValues(track).Set(avgReturn)
}

func RecordRollback(track string, ok bool) {
	r := "ok"
	if !ok {
		r = "failed"
	}
	rollbacksTotal.WithLabelValues(track, r).Inc()
}

func RecordAdvisorCall(model string, promptTokens, completionTokens int, costUSD float64) {
	advisorTokens.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	advisorTokens.WithLabelValues(model, "completion").Add(float64(completionTokens))
	advisorCost.WithLabelValues(model).Add(costUSD)
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return serve(ctx, ln)
}

func serve(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
