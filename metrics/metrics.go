// Package metrics exposes Prometheus collectors for publish, confirmation
// and delivery outcomes. Collectors are not registered automatically; call
// Register with the registry of your choice.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "rabbitline"

var (
	PublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "published_total",
			Help:      "The total number of messages published, by exchange.",
		},
		[]string{"exchange"},
	)

	ConfirmTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "confirm_total",
			Help:      "The total number of publish confirmation outcomes.",
		},
		[]string{"outcome"},
	)

	ConfirmDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "confirm_duration_seconds",
			Help:      "The time spent waiting for publish confirmations.",
		},
	)

	ReturnedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "returned_total",
			Help:      "The total number of undeliverable publishes returned by the broker.",
		},
		[]string{"exchange"},
	)

	DeliveredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivered_total",
			Help:      "The total number of messages delivered to subscribers, by queue.",
		},
		[]string{"queue"},
	)

	GetTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "get_total",
			Help:      "The total number of synchronous fetches, by outcome.",
		},
		[]string{"outcome"},
	)

	AckedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acked_total",
			Help:      "The total number of acknowledged deliveries.",
		},
	)

	NackedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nacked_total",
			Help:      "The total number of rejected deliveries.",
		},
	)
)

// Register registers all collectors with the given registerer.
func Register(r prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		PublishedTotal,
		ConfirmTotal,
		ConfirmDuration,
		ReturnedTotal,
		DeliveredTotal,
		GetTotal,
		AckedTotal,
		NackedTotal,
	} {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}
