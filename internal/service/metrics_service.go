package service

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the enrollment
// and attendance flows plus HTTP request timing.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	enrollmentsTotal   *prometheus.CounterVec
	waitlistPromotions prometheus.Counter
	checkinsTotal      *prometheus.CounterVec
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	enrollmentsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "enrollments_total",
		Help: "Enrollment attempts by outcome",
	}, []string{"outcome"})

	waitlistPromotions := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "waitlist_promotions_total",
		Help: "Students promoted off a waitlist into a freed seat",
	})

	checkinsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkins_total",
		Help: "Attendance code check-ins by resulting status",
	}, []string{"status"})

	registry.MustRegister(requestDuration, requestTotal, enrollmentsTotal, waitlistPromotions, checkinsTotal)

	return &MetricsService{
		registry:           registry,
		handler:            promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:    requestDuration,
		requestTotal:       requestTotal,
		enrollmentsTotal:   enrollmentsTotal,
		waitlistPromotions: waitlistPromotions,
		checkinsTotal:      checkinsTotal,
	}
}

// Handler exposes the Prometheus scrape endpoint.
func (s *MetricsService) Handler() http.Handler {
	return s.handler
}

// ObserveHTTPRequest records duration and count for a completed request.
func (s *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	labels := []string{method, path, strconv.Itoa(status)}
	s.requestDuration.WithLabelValues(labels...).Observe(duration.Seconds())
	s.requestTotal.WithLabelValues(labels...).Inc()
}

// RecordEnrollment counts an enrollment attempt by outcome.
func (s *MetricsService) RecordEnrollment(outcome string) {
	s.enrollmentsTotal.WithLabelValues(outcome).Inc()
}

// RecordPromotion counts a waitlist promotion.
func (s *MetricsService) RecordPromotion() {
	s.waitlistPromotions.Inc()
}

// RecordCheckIn counts a check-in by classified status.
func (s *MetricsService) RecordCheckIn(status string) {
	s.checkinsTotal.WithLabelValues(status).Inc()
}
