package chat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricConnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "moviesquad_chat_connects_total",
		Help: "Successful authenticated chat connections, including reconnects.",
	})
	metricReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "moviesquad_chat_reconnect_attempts_total",
		Help: "Reconnect attempts after transport loss.",
	})
	metricMessagesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "moviesquad_chat_messages_received_total",
		Help: "Live messages received over the chat channel.",
	})
	metricMessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "moviesquad_chat_messages_sent_total",
		Help: "Messages accepted for sending over the chat channel.",
	})
	metricDroppedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "moviesquad_chat_dropped_frames_total",
		Help: "Inbound frames dropped as malformed or unrecognized.",
	})
	metricConnectionState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "moviesquad_chat_connection_state",
		Help: "Current connection state (0 disconnected, 1 connecting, 2 connected, 3 auth error).",
	})
)
