// Package metrics exposes Prometheus instrumentation for the sync
// engine and server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MessagesSent counts messages accepted into the log.
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatsync",
		Name:      "messages_sent_total",
		Help:      "Messages accepted into the message log.",
	})

	// FanoutDelivered counts envelopes published to user topics.
	FanoutDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatsync",
		Name:      "fanout_delivered_total",
		Help:      "Envelopes fanned out to member streams.",
	})

	// FeedEvents counts change-feed notifications received.
	FeedEvents = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatsync",
		Name:      "feed_events_total",
		Help:      "Change feed events received by the listener.",
	})

	// DuplicatesDropped counts second-channel copies collapsed by
	// dedup windows.
	DuplicatesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatsync",
		Name:      "duplicates_dropped_total",
		Help:      "Duplicate deliveries collapsed by dedup windows.",
	})

	// OnlineUsers tracks users currently considered online.
	OnlineUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chatsync",
		Name:      "online_users",
		Help:      "Users currently online per the presence tracker.",
	})
)

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
