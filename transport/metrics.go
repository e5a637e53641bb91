package transport

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sipdialog_peer_messages_sent_total",
		Help: "SIP messages sent, by transport.",
	}, []string{"transport"})

	messagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sipdialog_peer_messages_received_total",
		Help: "SIP messages received, by transport.",
	}, []string{"transport"})

	bytesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sipdialog_peer_bytes_sent_total",
		Help: "Bytes sent, by transport.",
	}, []string{"transport"})

	bytesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sipdialog_peer_bytes_received_total",
		Help: "Bytes received, by transport.",
	}, []string{"transport"})

	connections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sipdialog_peer_connections",
		Help: "Live connection-oriented peers, by transport.",
	}, []string{"transport"})
)
