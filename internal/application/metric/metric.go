package metric

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	channelReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "channel_reconnects_total",
			Help: "Number of event channel reconnect attempts",
		},
	)

	channelEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "channel_events_total",
			Help: "Number of channel events received by type",
		},
		[]string{"type"},
	)

	activeCalls = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_calls",
			Help: "Number of call sessions currently alive",
		},
	)

	bufferedCandidates = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "buffered_ice_candidates",
			Help: "Remote ICE candidates waiting for a remote description",
		},
	)

	dedupedMessagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deduped_messages_total",
			Help: "Channel echoes reconciled with an optimistic local message",
		},
	)

	remoteMediaPacketsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "remote_media_packets_total",
			Help: "RTP packets read from remote tracks",
		},
	)
)

func IncrementChannelReconnects() {
	channelReconnectsTotal.Inc()
}

func RecordChannelEvent(eventType string) {
	channelEventsTotal.WithLabelValues(eventType).Inc()
}

func IncrementActiveCalls() {
	activeCalls.Inc()
}

func DecrementActiveCalls() {
	activeCalls.Dec()
}

func AddBufferedCandidates(n int) {
	bufferedCandidates.Add(float64(n))
}

func IncrementDedupedMessages() {
	dedupedMessagesTotal.Inc()
}

func AddRemoteMediaPackets(n int) {
	remoteMediaPacketsTotal.Add(float64(n))
}
