package session

import "github.com/prometheus/client_golang/prometheus"

var notificationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "nutripublic_session_notifications_total",
		Help: "Identity provider notifications processed, by kind.",
	},
	[]string{"kind"},
)

func init() {
	prometheus.MustRegister(notificationsTotal)
}

// RegisterStateGauges registers gauges reporting the gate state and whether a
// session is present.
func RegisterStateGauges(store *Store, gate *Gate) {
	prometheus.MustRegister(
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "nutripublic_session_initialized",
				Help: "1 once the first identity notification has been processed.",
			},
			func() float64 { return boolGauge(gate.Settled()) },
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "nutripublic_session_authenticated",
				Help: "1 while a user is signed in.",
			},
			func() float64 { return boolGauge(store.IsAuthenticated()) },
		),
	)
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
