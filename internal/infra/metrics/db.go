package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(storePoolConns) }

// storePoolConns tracks the pgx pool behind the activation code store.
var storePoolConns = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "activation_store_pool_connections",
		Help: "Connections held by the activation code store pool, by state.",
	},
	[]string{"state"}, // 'open', 'idle', 'acquired'
)

// SetStorePoolStats publishes one pool snapshot. Acquired connections are the
// ones serving a bind, validate or admin query at that instant.
func SetStorePoolStats(open, idle, acquired int32) {
	storePoolConns.WithLabelValues("open").Set(float64(open))
	storePoolConns.WithLabelValues("idle").Set(float64(idle))
	storePoolConns.WithLabelValues("acquired").Set(float64(acquired))
}
