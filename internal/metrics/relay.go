package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Local atomic counters mirror the prometheus series so the status API
// can read current values without scraping the registry.
var (
	activeConnectionsCount int64
	activeSessionsCount    int64
	messagesReceivedCount  int64
	messagesSentCount      int64
	errorCount             int64
)

// GetActiveConnectionsCount returns the current number of active WebSocket connections
func GetActiveConnectionsCount() int64 {
	return atomic.LoadInt64(&activeConnectionsCount)
}

// IncrementActiveConnections increments both the prometheus gauge and our local counter
func IncrementActiveConnections() {
	ActiveConnections.Inc()
	atomic.AddInt64(&activeConnectionsCount, 1)
}

// DecrementActiveConnections decrements both the prometheus gauge and our local counter
func DecrementActiveConnections() {
	ActiveConnections.Dec()
	atomic.AddInt64(&activeConnectionsCount, -1)
}

// GetActiveSessionsCount returns the current number of live relay sessions
func GetActiveSessionsCount() int64 {
	return atomic.LoadInt64(&activeSessionsCount)
}

// IncrementActiveSessions increments the session gauge and local counter
func IncrementActiveSessions() {
	ActiveSessions.Inc()
	atomic.AddInt64(&activeSessionsCount, 1)
}

// DecrementActiveSessions decrements the session gauge and local counter
func DecrementActiveSessions() {
	ActiveSessions.Dec()
	atomic.AddInt64(&activeSessionsCount, -1)
}

// IncrementMessagesReceived counts one inbound wire message by type
func IncrementMessagesReceived(msgType string) {
	MessagesReceived.WithLabelValues(msgType).Inc()
	atomic.AddInt64(&messagesReceivedCount, 1)
}

// IncrementMessagesSent counts one outbound wire message
func IncrementMessagesSent() {
	MessagesSent.Inc()
	atomic.AddInt64(&messagesSentCount, 1)
}

// GetMessagesReceivedCount returns the number of inbound messages since start
func GetMessagesReceivedCount() int64 {
	return atomic.LoadInt64(&messagesReceivedCount)
}

// GetMessagesSentCount returns the number of outbound messages since start
func GetMessagesSentCount() int64 {
	return atomic.LoadInt64(&messagesSentCount)
}

// IncrementErrorCount increments the error counter
func IncrementErrorCount() {
	atomic.AddInt64(&errorCount, 1)
}

// GetErrorCount returns the current error count
func GetErrorCount() int64 {
	return atomic.LoadInt64(&errorCount)
}

var (
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lumiport_relay_active_connections",
		Help: "The number of active WebSocket connections",
	})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lumiport_relay_active_sessions",
		Help: "The number of live relay sessions",
	})

	MessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lumiport_relay_messages_received_total",
		Help: "The total number of wire messages received by type",
	}, []string{"type"})

	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lumiport_relay_messages_sent_total",
		Help: "The total number of wire messages sent",
	})

	RelayedBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lumiport_relay_relayed_bytes_total",
		Help: "Bytes relayed between participants by payload class",
	}, []string{"class"}) // "signal", "data", "media", "broadcast"

	AuthOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lumiport_relay_auth_outcomes_total",
		Help: "Authentication attempts by outcome",
	}, []string{"outcome"}) // "granted", "denied", "timeout"

	ProbeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lumiport_relay_probe_duration_seconds",
		Help:    "Duration of directory health probes",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 11), // 5ms .. ~5s
	})

	ServerHealth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lumiport_relay_server_online",
		Help: "Last known health per directory server (1 online, 0 otherwise)",
	}, []string{"url"})

	ReportsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lumiport_relay_reports_submitted_total",
		Help: "Host reports forwarded to the trust registry",
	})

	HTTPRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lumiport_relay_http_requests_total",
		Help: "The total number of HTTP requests",
	})

	ErrorsCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lumiport_relay_errors_total",
		Help: "The total number of errors by type",
	}, []string{"type"})
)

// RegisterMetrics pre-registers common label values with Prometheus
func RegisterMetrics() {
	messageTypes := []string{
		"authenticate", "create-session", "join-session", "leave-session",
		"signal", "relay-data", "relay-media", "broadcast", "unknown",
	}
	for _, msgType := range messageTypes {
		MessagesReceived.WithLabelValues(msgType)
	}

	for _, class := range []string{"signal", "data", "media", "broadcast"} {
		RelayedBytes.WithLabelValues(class)
	}

	for _, outcome := range []string{"granted", "denied", "timeout"} {
		AuthOutcomes.WithLabelValues(outcome)
	}

	errorTypes := []string{
		"parse", "resolution", "health_check", "auth",
		"protocol", "registry", "storage", "network", "internal",
	}
	for _, errType := range errorTypes {
		ErrorsCount.WithLabelValues(errType)
	}
}
