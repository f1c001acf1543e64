package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "classbook"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	bookingTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_transitions_total",
			Help:      "Booking status changes by target status.",
		},
		[]string{"status"},
	)

	waitlistJoins = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "waitlist_joins_total",
			Help:      "Successful waitlist joins.",
		},
	)

	waitlistPromotions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "waitlist_promotions_total",
			Help:      "Waitlist entries promoted to a held seat.",
		},
	)

	waitlistExpirations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "waitlist_hold_expirations_total",
			Help:      "Promoted holds that expired before the user acted.",
		},
	)

	reschedules = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reschedule_requests_total",
			Help:      "Reschedule requests by resulting status.",
		},
		[]string{"status"},
	)

	policyEvaluations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_evaluations_total",
			Help:      "Cancellation policy evaluations by selected policy.",
		},
		[]string{"policy"},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification delivery attempts by result.",
		},
		[]string{"result"},
	)

	botUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bot_updates_total",
			Help:      "Telegram updates handled by the member bot, by kind.",
		},
		[]string{"kind"},
	)

	botUpdateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bot_update_duration_seconds",
			Help:      "Time spent handling one Telegram update.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	invariantViolations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invariant_violations_total",
			Help:      "Rolled back operations caused by capacity or state machine violations.",
		},
		[]string{"operation"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			bookingTransitions,
			waitlistJoins,
			waitlistPromotions,
			waitlistExpirations,
			reschedules,
			policyEvaluations,
			notifications,
			invariantViolations,
			botUpdates,
			botUpdateDuration,
		)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

func IncBookingTransition(status string) {
	bookingTransitions.WithLabelValues(status).Inc()
}

func IncWaitlistJoin() {
	waitlistJoins.Inc()
}

func IncPromotion() {
	waitlistPromotions.Inc()
}

func IncHoldExpired() {
	waitlistExpirations.Inc()
}

func IncReschedule(status string) {
	reschedules.WithLabelValues(status).Inc()
}

func IncPolicyEvaluation(policy string) {
	policyEvaluations.WithLabelValues(policy).Inc()
}

func IncNotification(result string) {
	notifications.WithLabelValues(result).Inc()
}

func IncInvariantViolation(operation string) {
	invariantViolations.WithLabelValues(operation).Inc()
}

func IncBotUpdate(kind string) {
	botUpdates.WithLabelValues(kind).Inc()
}

func ObserveBotUpdate(seconds float64) {
	botUpdateDuration.Observe(seconds)
}
