package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(codesGeneratedTotal, bindsTotal, validationsTotal, lifecycleTotal)
}

var (
	codesGeneratedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activation_codes_generated_total",
			Help: "Activation codes persisted, by issuance path.",
		},
		[]string{"path"}, // 'single', 'bulk'
	)

	bindsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activation_code_binds_total",
			Help: "Bind attempts by outcome.",
		},
		[]string{"result"},
	)

	validationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activation_code_validations_total",
			Help: "Validation attempts by outcome; rejections carry their reason.",
		},
		[]string{"result"},
	)

	lifecycleTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activation_code_lifecycle_total",
			Help: "Revoke, unbind and delete operations by outcome.",
		},
		[]string{"op", "result"},
	)
)

func IncCodesGenerated(path string, n int) {
	codesGeneratedTotal.WithLabelValues(norm(path)).Add(float64(n))
}

func IncBind(result string) {
	bindsTotal.WithLabelValues(norm(result)).Inc()
}

func IncValidation(result string) {
	validationsTotal.WithLabelValues(norm(result)).Inc()
}

func IncLifecycle(op, result string) {
	lifecycleTotal.WithLabelValues(norm(op), norm(result)).Inc()
}
