// Package metrics provides Prometheus instrumentation for the chat server.
// It exposes gauges for connection and presence counts, counters for message
// and friend-request throughput, and a histogram for delivery latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// OnlineUsers tracks the current number of users with a registered
	// connection on this instance.
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_online_users",
		Help: "Current number of users registered as online on this instance",
	})

	// MessagesTotal counts chat messages processed, labeled by outcome:
	// "delivered", "stored_only", or "rejected".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_total",
		Help: "Total number of chat messages processed",
	}, []string{"outcome"})

	// FriendRequestsTotal counts friend request events, labeled by outcome:
	// "created", "duplicate", or "accepted".
	FriendRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_friend_requests_total",
		Help: "Total number of friend request events processed",
	}, []string{"outcome"})

	// DeliveryLatency records the time from event receipt to outbound push in
	// seconds.
	DeliveryLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chat_delivery_latency_seconds",
		Help:    "Time from event receipt to outbound push in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		OnlineUsers,
		MessagesTotal,
		FriendRequestsTotal,
		DeliveryLatency,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
