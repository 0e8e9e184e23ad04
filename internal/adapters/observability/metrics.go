package observability

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "tourbook", Name: "http_requests_total", Help: "HTTP requests."},
		[]string{"route", "method", "status"},
	)
	HTTPLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tourbook", Name: "http_request_duration_seconds",
			Help:    "HTTP request duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
	ExternalRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "tourbook", Name: "external_requests_total", Help: "Calls to storage and brokers."},
		[]string{"service", "op", "status"},
	)
	ExternalLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tourbook", Name: "external_request_duration_seconds",
			Help:    "Storage and broker call duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "op"},
	)
	CacheEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "tourbook", Name: "cache_events_total", Help: "Cache hits/misses/sets/dels."},
		[]string{"cache", "event"}, // event: hit|miss|set|del|error
	)
	BookingTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "tourbook", Name: "booking_transitions_total", Help: "Booking lifecycle transitions."},
		[]string{"transition"},
	)
	PaymentEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "tourbook", Name: "payment_events_total", Help: "Payment webhook events by outcome."},
		[]string{"type", "outcome"},
	)
	TicketValidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "tourbook", Name: "ticket_validations_total", Help: "Ticket scans by outcome."},
		[]string{"outcome"},
	)
	GeoAssignments = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "tourbook", Name: "geo_assignments_total", Help: "Hotels processed by the assignment engine."},
		[]string{"outcome"}, // updated|unchanged|cleared|skipped|error
	)
)

// Serve exposes /metrics on its own listener. Empty addr disables it.
func Serve(addr string, reg *prometheus.Registry) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", MetricsHandler(reg))

	go func() {
		srv := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		log.Info().Str("addr", addr).Msg("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
}

func InitRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		HTTPRequests, HTTPLatency,
		ExternalRequests, ExternalLatency,
		CacheEvents,
		BookingTransitions, PaymentEvents, TicketValidations, GeoAssignments,
	)
	return reg
}

func MetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func ObserveHTTP(route, method string, status int, dur time.Duration) {
	HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	HTTPLatency.WithLabelValues(route, method).Observe(dur.Seconds())
}

// ObserveExternal records one storage or broker call. status is "ok" or an
// error label from LabelErr.
func ObserveExternal(service, op, status string, dur time.Duration) {
	ExternalRequests.WithLabelValues(service, op, status).Inc()
	ExternalLatency.WithLabelValues(service, op).Observe(dur.Seconds())
}

func ObserveCache(cache, event string) {
	CacheEvents.WithLabelValues(cache, event).Inc()
}

func ObserveBooking(transition string) {
	BookingTransitions.WithLabelValues(transition).Inc()
}

func ObservePaymentEvent(eventType, outcome string) {
	PaymentEvents.WithLabelValues(eventType, outcome).Inc()
}

func ObserveTicket(outcome string) {
	TicketValidations.WithLabelValues(outcome).Inc()
}

func ObserveGeo(outcome string, n int) {
	if n <= 0 {
		return
	}
	GeoAssignments.WithLabelValues(outcome).Add(float64(n))
}

func LabelErr(err error) string {
	if err == nil {
		return "ok"
	}
	return fmt.Sprintf("%T", err)
}
