package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Rooms and peers
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sfu_active_rooms_total",
		Help: "Number of live rooms",
	})

	ActivePeers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sfu_active_peers_total",
		Help: "Number of connected peers",
	})

	RoomLifecycleTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sfu_room_lifecycle_total",
		Help: "Room create/destroy events",
	}, []string{"event"})

	// Worker pool
	WorkerRouters = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sfu_worker_routers",
		Help: "Routers bound to each media worker",
	}, []string{"worker"})

	// Media objects
	Transports = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sfu_transports_active",
		Help: "Open transports",
	})

	Producers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sfu_producers_active",
		Help: "Open producers by kind",
	}, []string{"kind"})

	Consumers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sfu_consumers_active",
		Help: "Open consumers by kind",
	}, []string{"kind"})

	EngineLatencyMs = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sfu_engine_request_latency_ms",
		Help:    "Latency of media engine control requests in milliseconds",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
	}, []string{"op"})

	// Signaling
	MessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sfu_messages_received_total",
		Help: "Signaling messages received by type",
	}, []string{"type"})

	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sfu_messages_sent_total",
		Help: "Signaling messages sent",
	})

	NegotiationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sfu_negotiation_errors_total",
		Help: "Negotiation replies carrying an error, by code",
	}, []string{"code"})

	// Chat
	ChatConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sfu_chat_connections",
		Help: "Users with a live chat connection",
	})

	ChatMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sfu_chat_messages_total",
		Help: "Chat messages by delivery outcome",
	}, []string{"outcome"})

	// Redis health
	RedisLatencyMs = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sfu_redis_latency_ms",
		Help:    "Redis operation latency in milliseconds",
		Buckets: []float64{0.5, 1, 2, 5, 10, 25, 50},
	})

	RedisErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sfu_redis_errors_total",
		Help: "Total Redis errors",
	})
)

// Helper functions

func RecordRoomCreated() {
	RoomLifecycleTotal.WithLabelValues("create").Inc()
	ActiveRooms.Inc()
}

func RecordRoomDestroyed() {
	RoomLifecycleTotal.WithLabelValues("destroy").Inc()
	ActiveRooms.Dec()
}

func RecordEngineLatency(op string, start time.Time) {
	EngineLatencyMs.WithLabelValues(op).Observe(float64(time.Since(start).Microseconds()) / 1000)
}

func RecordNegotiationError(code string) {
	NegotiationErrors.WithLabelValues(code).Inc()
}

func RecordRedis(start time.Time, err error) {
	RedisLatencyMs.Observe(float64(time.Since(start).Microseconds()) / 1000)
	if err != nil {
		RedisErrorsTotal.Inc()
	}
}
