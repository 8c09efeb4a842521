package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/deskpulse/internal/subscription"
)

// RegisterSubscriptionGauges exports registry sizes, sampled at scrape time.
func RegisterSubscriptionGauges(reg prometheus.Registerer, stats func() subscription.Stats) {
	gauge := func(name, help string, pick func(subscription.Stats) int) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "subscriptions",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(pick(stats())) })
	}

	reg.MustRegister(
		gauge("topics", "Number of topics with at least one local subscriber.",
			func(s subscription.Stats) int { return s.Topics }),
		gauge("memberships", "Number of topic memberships held by local connections.",
			func(s subscription.Stats) int { return s.Subscriptions }),
		gauge("connections", "Number of connections attached to the registry.",
			func(s subscription.Stats) int { return s.Connections }),
	)
}
