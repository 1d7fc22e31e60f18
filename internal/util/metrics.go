package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BookingsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookings_created_total",
		Help: "Total number of bookings created",
	}, []string{"mode"})

	BookingsConfirmedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookings_confirmed_total",
		Help: "Total number of bookings confirmed with an access code",
	})

	BookingsPendingCodeTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookings_pending_code_total",
		Help: "Total number of paid bookings left waiting for an access code",
	})

	BookingsCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookings_completed_total",
		Help: "Total number of completed rentals",
	})

	BookingsCancelledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookings_cancelled_total",
		Help: "Total number of cancelled bookings",
	}, []string{"reason"})

	BookingsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookings_failed_total",
		Help: "Total number of failed bookings",
	}, []string{"reason"})

	AvailabilityConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "availability_conflicts_total",
		Help: "Total number of booking attempts rejected for overlapping dates",
	})

	AccessCodeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "access_code_latency_seconds",
		Help:    "Latency of lock vendor calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	AccessCodeFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "access_code_failures_total",
		Help: "Total number of failed lock vendor calls",
	}, []string{"op"})

	PaymentIntentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_intents_total",
		Help: "Total number of payment intent creations",
	}, []string{"result"})

	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Total number of payment webhook events",
	}, []string{"type", "result"})

	WebhookProcessingLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "webhook_processing_latency_seconds",
		Help:    "Latency of payment webhook fulfillment",
		Buckets: prometheus.DefBuckets,
	})

	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_total",
		Help: "Total number of confirmation emails attempted",
	}, []string{"result"})

	IntegrityViolationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "integrity_violations_total",
		Help: "Total number of detected booking integrity violations",
	}, []string{"op"})

	DeadLetteredMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dead_lettered_messages_total",
		Help: "Total number of kafka messages moved to the dead-letter topic",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
