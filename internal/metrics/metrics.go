// Package metrics exposes the Prometheus instruments of the booking engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ticketing"

// Metrics groups the engine instruments. The zero value is not usable; call
// New or NewNop.
type Metrics struct {
	registry *prometheus.Registry

	bookingOutcomes *prometheus.CounterVec
	ticketsSold     prometheus.Counter
	ticketsReleased prometheus.Counter
	criticalSection *prometheus.HistogramVec
	outboxMessages  *prometheus.CounterVec
	outboxLag       prometheus.Histogram
}

// New registers the instruments on a fresh registry together with the Go
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return newWithRegistry(reg)
}

// NewNop returns metrics bound to a private registry that is never served.
func NewNop() *Metrics {
	return newWithRegistry(prometheus.NewRegistry())
}

func newWithRegistry(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		bookingOutcomes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "booking_operations_total",
				Help:      "Reservation and cancellation attempts by outcome code",
			},
			[]string{"operation", "code"},
		),
		ticketsSold: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tickets_sold_total",
			Help:      "Tickets committed by successful reservations",
		}),
		ticketsReleased: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tickets_released_total",
			Help:      "Tickets returned to inventory by cancellations",
		}),
		criticalSection: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "critical_section_duration_seconds",
				Help:      "Time spent inside the locked booking transaction, lock waits included",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
			},
			[]string{"operation"},
		),
		outboxMessages: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outbox_messages_total",
				Help:      "Outbox messages handled by the relay by result",
			},
			[]string{"result"},
		),
		outboxLag: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "outbox_publish_lag_seconds",
			Help:      "Delay between an outbox message being written and published",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}
}

// Operations.
const (
	OpReserve = "reserve"
	OpCancel  = "cancel"
)

// ObserveBooking records the outcome of one engine operation.
func (m *Metrics) ObserveBooking(op, code string) {
	m.bookingOutcomes.WithLabelValues(op, code).Inc()
}

// ObserveCriticalSection records how long the locked transaction of op took.
func (m *Metrics) ObserveCriticalSection(op string, d time.Duration) {
	m.criticalSection.WithLabelValues(op).Observe(d.Seconds())
}

// AddTicketsSold counts tickets committed by a reservation.
func (m *Metrics) AddTicketsSold(n int) {
	m.ticketsSold.Add(float64(n))
}

// AddTicketsReleased counts tickets released by a cancellation.
func (m *Metrics) AddTicketsReleased(n int) {
	m.ticketsReleased.Add(float64(n))
}

// ObserveOutbox records one relay result: published, retry or failed.
func (m *Metrics) ObserveOutbox(result string) {
	m.outboxMessages.WithLabelValues(result).Inc()
}

// ObserveOutboxLag records the write-to-publish delay of one message.
func (m *Metrics) ObserveOutboxLag(d time.Duration) {
	m.outboxLag.Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
