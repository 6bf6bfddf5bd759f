package signal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectedPeers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "peerlink",
		Subsystem: "hub",
		Name:      "connected_peers",
		Help:      "Number of currently registered peers.",
	})

	framesForwarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "peerlink",
		Subsystem: "hub",
		Name:      "frames_forwarded_total",
		Help:      "Frames forwarded between peers, by envelope type.",
	}, []string{"type"})

	framesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "peerlink",
		Subsystem: "hub",
		Name:      "frames_dropped_total",
		Help:      "Outbound frames dropped because a peer's send queue was full.",
	})

	framesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "peerlink",
		Subsystem: "hub",
		Name:      "frames_rejected_total",
		Help:      "Inbound frames rejected with an error envelope, by reason.",
	}, []string{"reason"})

	relayDataBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "peerlink",
		Subsystem: "hub",
		Name:      "relay_data_bytes_total",
		Help:      "Total relay_data payload bytes forwarded.",
	})

	activeRelayPairs = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "peerlink",
		Subsystem: "hub",
		Name:      "active_relay_pairs",
		Help:      "Number of active relay pairs.",
	})
)
