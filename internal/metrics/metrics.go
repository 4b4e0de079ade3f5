// Package metrics exposes download lifecycle counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/battlewithbytes/modstore/internal/downloads"
)

// Collector holds the download metrics. Its methods match the Dispatcher
// observer and Registry subscriber signatures.
type Collector struct {
	// EventsTotal counts dispatched backend events by type and outcome
	EventsTotal *prometheus.CounterVec

	// Active is the number of non-terminal downloads
	Active prometheus.Gauge

	// Records is the number of records held per set
	Records *prometheus.GaugeVec

	// APIRequestsTotal counts API requests by route and status code
	APIRequestsTotal *prometheus.CounterVec
}

// New creates an unregistered Collector.
func New() *Collector {
	return &Collector{
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "downloads_events_total",
				Help: "Total number of backend lifecycle events by outcome",
			},
			[]string{"type", "outcome"},
		),
		Active: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "downloads_active",
				Help: "Number of downloads that have not finished",
			},
		),
		Records: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "downloads_records",
				Help: "Number of download records held, by set",
			},
			[]string{"set"},
		),
		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "modstore_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"route", "code"},
		),
	}
}

// Register registers every metric with reg.
func (c *Collector) Register(reg prometheus.Registerer) error {
	for _, col := range []prometheus.Collector{c.EventsTotal, c.Active, c.Records, c.APIRequestsTotal} {
		if err := reg.Register(col); err != nil {
			return err
		}
	}
	return nil
}

// ObserveEvent counts a dispatched event.
func (c *Collector) ObserveEvent(ev downloads.Event, outcome downloads.Outcome) {
	c.EventsTotal.WithLabelValues(string(ev.Type), string(outcome)).Inc()
}

// ObserveSnapshot updates the gauges from a Registry snapshot.
func (c *Collector) ObserveSnapshot(s downloads.Snapshot) {
	c.Active.Set(float64(s.ActiveCount))
	c.Records.WithLabelValues("active").Set(float64(len(s.Active)))
	c.Records.WithLabelValues("completed").Set(float64(len(s.Completed)))
	c.Records.WithLabelValues("cancelled").Set(float64(len(s.Cancelled)))
}
