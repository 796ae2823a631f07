package metrics

import (
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(serviceInfo) }

var serviceInfo = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "activation_service_build_info",
		Help: "Always 1; labels identify the running activation service build.",
	},
	[]string{"version", "commit", "go_version"},
)

// SetBuildInfo is called once from main with the ldflags-injected values.
func SetBuildInfo(version, commit string) {
	if version == "" {
		version = "dev"
	}
	if commit == "" {
		commit = "unknown"
	}
	serviceInfo.WithLabelValues(version, commit, runtime.Version()).Set(1)
}
