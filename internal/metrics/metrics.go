// Package metrics provides Prometheus metrics for the sync client.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Connection metrics
	connectionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "projectsync_connection_state",
			Help: "1 for the session's current connection state, 0 otherwise",
		},
		[]string{"state"},
	)

	connectAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "projectsync_connect_attempts_total",
			Help: "Total connection attempts by result",
		},
		[]string{"result"},
	)

	reconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "projectsync_reconnects_total",
			Help: "Total reconnections scheduled after abnormal closure",
		},
	)

	closesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "projectsync_closes_total",
			Help: "Total channel closures by close code",
		},
		[]string{"code"},
	)

	authTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "projectsync_auth_total",
			Help: "Authentication handshakes by result",
		},
		[]string{"result"},
	)

	// Protocol metrics
	framesReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "projectsync_frames_received_total",
			Help: "Decoded inbound frames by kind",
		},
		[]string{"kind"},
	)

	framesSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "projectsync_frames_sent_total",
			Help: "Outbound frames by kind",
		},
		[]string{"kind"},
	)

	decodeErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "projectsync_decode_errors_total",
			Help: "Inbound frames dropped because they could not be decoded",
		},
	)

	staleResponsesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "projectsync_stale_responses_total",
			Help: "Responses discarded because their path is no longer of interest",
		},
	)

	sendQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "projectsync_send_queue_depth",
			Help: "Requests waiting for the channel to become ready",
		},
	)

	// State metrics
	treeSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "projectsync_tree_size",
			Help: "Number of files/directories in the synced tree",
		},
	)

	streamLinesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "projectsync_stream_lines_total",
			Help: "Streamed lines applied to content buffers",
		},
	)

	statusEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "projectsync_status_entries",
			Help: "Entries in the generation status log",
		},
	)

	// HTTP tree fetch metrics
	treeFetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "projectsync_tree_fetch_total",
			Help: "HTTP tree fetches by result",
		},
		[]string{"result"},
	)

	treeFetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "projectsync_tree_fetch_duration_seconds",
			Help:    "HTTP tree fetch duration in seconds, including retries",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// SetConnectionState marks current as the active state among all states.
func SetConnectionState(all []string, current string) {
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		connectionState.WithLabelValues(s).Set(v)
	}
}

// RecordConnectAttempt records a dial result.
func RecordConnectAttempt(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	connectAttemptsTotal.WithLabelValues(result).Inc()
}

// RecordReconnect records a scheduled reconnection.
func RecordReconnect() {
	reconnectsTotal.Inc()
}

// RecordClose records a channel closure.
func RecordClose(code int) {
	closesTotal.WithLabelValues(strconv.Itoa(code)).Inc()
}

// RecordAuth records a handshake outcome: ok, rejected or timeout.
func RecordAuth(result string) {
	authTotal.WithLabelValues(result).Inc()
}

// RecordFrameReceived records a decoded inbound frame.
func RecordFrameReceived(kind string) {
	framesReceivedTotal.WithLabelValues(kind).Inc()
}

// RecordFrameSent records an outbound frame.
func RecordFrameSent(kind string) {
	framesSentTotal.WithLabelValues(kind).Inc()
}

// RecordDecodeError records a dropped malformed frame.
func RecordDecodeError() {
	decodeErrorsTotal.Inc()
}

// RecordStaleResponse records a discarded response.
func RecordStaleResponse() {
	staleResponsesTotal.Inc()
}

// SetSendQueueDepth sets the pending request count.
func SetSendQueueDepth(n int) {
	sendQueueDepth.Set(float64(n))
}

// SetTreeSize sets the synced tree size.
func SetTreeSize(n int) {
	treeSize.Set(float64(n))
}

// RecordStreamLine records one applied stream chunk.
func RecordStreamLine() {
	streamLinesTotal.Inc()
}

// SetStatusEntries sets the status log length.
func SetStatusEntries(n int) {
	statusEntries.Set(float64(n))
}

// RecordTreeFetch records an HTTP tree fetch.
func RecordTreeFetch(success bool, duration time.Duration) {
	result := "success"
	if !success {
		result = "failure"
	}
	treeFetchTotal.WithLabelValues(result).Inc()
	treeFetchDuration.Observe(duration.Seconds())
}
