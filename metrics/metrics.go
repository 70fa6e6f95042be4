package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Transport metrics
	ConnectionsAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatwire_connections_accepted_total",
			Help: "Total accepted client connections",
		},
	)

	ConnectionsClosed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatwire_connections_closed_total",
			Help: "Total closed client connections",
		},
	)

	FramesRead = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatwire_frames_read_total",
			Help: "Total frames read from clients",
		},
	)

	FramesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatwire_frames_written_total",
			Help: "Total frames written to clients",
		},
	)

	DecodeFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatwire_decode_failures_total",
			Help: "Total frames dropped as malformed",
		},
	)

	// Business metrics
	OnlineUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatwire_online_users",
			Help: "Users currently bound to a connection",
		},
	)

	MessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatwire_messages_sent_total",
			Help: "Total messages accepted for delivery",
		},
	)

	MessagesPushed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatwire_messages_pushed_total",
			Help: "Messages pushed to an online recipient",
		},
	)

	MessagesQueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatwire_messages_queued_total",
			Help: "Messages queued unread for an offline recipient",
		},
	)
)
