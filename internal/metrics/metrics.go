// Package metrics exposes the miner's Prometheus collectors. Every
// increment here is non-blocking, so nothing on the mining or transport
// hot path can stall waiting on a scrape.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SharesAccepted counts shares the pool accepted.
	SharesAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "btcminer_shares_accepted_total",
		Help: "Total shares accepted by the pool.",
	})

	// SharesRejected counts shares the pool rejected, by error code.
	SharesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "btcminer_shares_rejected_total",
		Help: "Total shares rejected by the pool, labeled by error code.",
	}, []string{"code"})

	// JobsStarted counts mining.notify-triggered Job creations.
	JobsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "btcminer_jobs_started_total",
		Help: "Total Jobs created from mining.notify.",
	})

	// Hashrate is the most recently observed hashes/second.
	Hashrate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "btcminer_hashrate",
		Help: "Current hasher throughput in hashes per second.",
	})

	// Difficulty is the pool-assigned difficulty currently in effect.
	Difficulty = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "btcminer_difficulty",
		Help: "Current pool-assigned difficulty.",
	})

	// ConnectionUptimeSeconds is seconds since the transport connected.
	ConnectionUptimeSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "btcminer_connection_uptime_seconds",
		Help: "Seconds since the pool connection was established.",
	})

	// BlocksFound counts solo-mined blocks accepted by submitblock.
	BlocksFound = promauto.NewCounter(prometheus.CounterOpts{
		Name: "btcminer_blocks_found_total",
		Help: "Total blocks found and accepted via solo mining.",
	})
)

// Handler returns the HTTP handler a CLI-optional /metrics listener
// should serve.
func Handler() http.Handler {
	return promhttp.Handler()
}
