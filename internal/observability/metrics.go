package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce            sync.Once
	messagesSentTotal       *prometheus.CounterVec
	duplicatesSuppressed    *prometheus.CounterVec
	emitsDroppedTotal       prometheus.Counter
	reconnectsTotal         prometheus.Counter
	pushEventsTotal         *prometheus.CounterVec
	notificationPullsFailed *prometheus.CounterVec
	notificationsPushed     *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the sync core.
func RegisterMetrics() {
	registerOnce.Do(func() {
		messagesSentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sync_messages_sent_total",
			Help: "Total number of messages confirmed by the durable write path.",
		}, []string{"room_id"})

		duplicatesSuppressed = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sync_duplicates_suppressed_total",
			Help: "Total number of inserts skipped because the identity was already present.",
		}, []string{"source"})

		emitsDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sync_emits_dropped_total",
			Help: "Total number of push emits dropped while disconnected.",
		})

		reconnectsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sync_reconnects_total",
			Help: "Total number of successful push channel reconnections.",
		})

		pushEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sync_push_events_total",
			Help: "Total number of inbound push events dispatched to handlers.",
		}, []string{"event"})

		notificationPullsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sync_notification_pull_failures_total",
			Help: "Total number of failed notification pulls by failure class.",
		}, []string{"class"})

		notificationsPushed = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sync_notifications_pushed_total",
			Help: "Total number of push-delivered notifications merged into the feed.",
		}, []string{"type"})

		prometheus.MustRegister(
			messagesSentTotal,
			duplicatesSuppressed,
			emitsDroppedTotal,
			reconnectsTotal,
			pushEventsTotal,
			notificationPullsFailed,
			notificationsPushed,
		)
	})
}

// MessagesSent exposes the counter for confirmed message sends.
func MessagesSent() *prometheus.CounterVec {
	RegisterMetrics()
	return messagesSentTotal
}

// DuplicatesSuppressed exposes the counter for identity dedup hits.
func DuplicatesSuppressed() *prometheus.CounterVec {
	RegisterMetrics()
	return duplicatesSuppressed
}

// EmitsDropped exposes the counter for dropped fire-and-forget emits.
func EmitsDropped() prometheus.Counter {
	RegisterMetrics()
	return emitsDroppedTotal
}

// Reconnects exposes the counter for push channel reconnections.
func Reconnects() prometheus.Counter {
	RegisterMetrics()
	return reconnectsTotal
}

// PushEvents exposes the counter for dispatched inbound events.
func PushEvents() *prometheus.CounterVec {
	RegisterMetrics()
	return pushEventsTotal
}

// NotificationPullFailures exposes the counter for failed pulls.
func NotificationPullFailures() *prometheus.CounterVec {
	RegisterMetrics()
	return notificationPullsFailed
}

// NotificationsPushed exposes the counter for push-delivered notifications.
func NotificationsPushed() *prometheus.CounterVec {
	RegisterMetrics()
	return notificationsPushed
}
