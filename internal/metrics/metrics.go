// Package metrics collects and exposes Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector records the service's operational counters.
type Collector struct {
	registry *prometheus.Registry

	shiftsCreated      prometheus.Counter
	shiftsDeleted      prometheus.Counter
	capacityRejections prometheus.Counter
	gateAttempts       *prometheus.CounterVec
	liveSubscribers    prometheus.Gauge
	snapshotsDelivered prometheus.Counter
}

// NewCollector creates a Collector with its own registry.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	c := &Collector{
		registry: registry,
		shiftsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "guardiaswap_shifts_created_total",
			Help: "Shifts created.",
		}),
		shiftsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "guardiaswap_shifts_deleted_total",
			Help: "Shifts deleted.",
		}),
		capacityRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "guardiaswap_capacity_rejections_total",
			Help: "Creates rejected by the per-date capacity check.",
		}),
		gateAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guardiaswap_gate_attempts_total",
			Help: "Access gate attempts by outcome.",
		}, []string{"outcome"}),
		liveSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "guardiaswap_live_subscribers",
			Help: "Currently open live snapshot subscriptions.",
		}),
		snapshotsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "guardiaswap_snapshots_delivered_total",
			Help: "Full snapshots delivered over the stream endpoint.",
		}),
	}

	registry.MustRegister(
		c.shiftsCreated,
		c.shiftsDeleted,
		c.capacityRejections,
		c.gateAttempts,
		c.liveSubscribers,
		c.snapshotsDelivered,
	)
	return c
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) RecordShiftCreated()      { c.shiftsCreated.Inc() }
func (c *Collector) RecordShiftDeleted()      { c.shiftsDeleted.Inc() }
func (c *Collector) RecordCapacityRejection() { c.capacityRejections.Inc() }

// RecordGateAttempt counts one gate attempt; outcome is "granted",
// "rejected", or "throttled".
func (c *Collector) RecordGateAttempt(outcome string) {
	c.gateAttempts.WithLabelValues(outcome).Inc()
}

func (c *Collector) SubscriberConnected()     { c.liveSubscribers.Inc() }
func (c *Collector) SubscriberDisconnected()  { c.liveSubscribers.Dec() }
func (c *Collector) RecordSnapshotDelivered() { c.snapshotsDelivered.Inc() }
