package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the altruist runtime.
//
// Naming convention: namespace_subsystem_name
// - namespace: altruist (application-level grouping)
// - subsystem: websocket, room, engine, sync, bridge, bus (feature-level grouping)
// - name: specific metric (connections_active, ticks_total, etc.)
//
// Metric Types:
// - Gauge: Current state (connections, rooms, queue depth)
// - Counter: Cumulative events (ticks, packets, drops)
// - Histogram: Latency distributions (dispatch time, task time)

var (
	// ActiveConnections tracks the current number of live client connections (Gauge - current state)
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "altruist",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active client connections",
	})

	// ActiveRooms tracks the current number of rooms (Gauge - current state)
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "altruist",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of rooms",
	})

	// RoomMembers tracks the member count per room (GaugeVec with room_id label - current state per room)
	RoomMembers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "altruist",
		Subsystem: "room",
		Name:      "members_count",
		Help:      "Number of members in each room",
	}, []string{"room_id"})

	// EngineTicks counts engine iterations since start (Counter - cumulative)
	EngineTicks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "altruist",
		Subsystem: "engine",
		Name:      "ticks_total",
		Help:      "Total engine ticks executed",
	})

	// TaskExecutions counts cyclic and dynamic task runs by outcome (CounterVec - cumulative)
	TaskExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "altruist",
		Subsystem: "engine",
		Name:      "task_executions_total",
		Help:      "Total task executions by kind and status",
	}, []string{"kind", "status"})

	// TaskDuration tracks how long tasks run (HistogramVec - latency distribution)
	TaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "altruist",
		Subsystem: "engine",
		Name:      "task_duration_seconds",
		Help:      "Time spent executing engine tasks",
		Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25},
	}, []string{"kind"})

	// DispatchDuration tracks inbound packet handler latency (HistogramVec - latency distribution)
	DispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "altruist",
		Subsystem: "websocket",
		Name:      "dispatch_seconds",
		Help:      "Time spent dispatching inbound packets to handlers",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"packet_type"})

	// PacketsReceived counts decoded inbound packets by type and status (CounterVec - cumulative)
	PacketsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "altruist",
		Subsystem: "websocket",
		Name:      "packets_received_total",
		Help:      "Total inbound packets by type and status",
	}, []string{"packet_type", "status"})

	// PacketsSent counts outbound packets by delivery path (CounterVec - cumulative)
	PacketsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "altruist",
		Subsystem: "websocket",
		Name:      "packets_sent_total",
		Help:      "Total outbound packets by delivery path and status",
	}, []string{"path", "status"})

	// RateLimited counts connection attempts refused by the accept limiter (CounterVec - cumulative)
	RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "altruist",
		Subsystem: "websocket",
		Name:      "rate_limited_total",
		Help:      "Connection attempts rejected by rate limiting",
	}, []string{"scope"})

	// SyncEmitted counts delta sync packets emitted per entity type (CounterVec - cumulative)
	SyncEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "altruist",
		Subsystem: "sync",
		Name:      "packets_emitted_total",
		Help:      "Total sync packets emitted by entity type",
	}, []string{"entity_type"})

	// BridgePending tracks outbound bridge messages waiting for shared infrastructure (Gauge - current state)
	BridgePending = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "altruist",
		Subsystem: "bridge",
		Name:      "pending_messages",
		Help:      "Outbound bridge messages buffered locally",
	})

	// BridgeMessages counts bridge traffic by direction and outcome (CounterVec - cumulative)
	BridgeMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "altruist",
		Subsystem: "bridge",
		Name:      "messages_total",
		Help:      "Total bridge messages by direction and status",
	}, []string{"direction", "status"})

	// BusBreakerState reports the shared-infrastructure circuit breaker state (Gauge, 0=closed 1=half-open 2=open)
	BusBreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "altruist",
		Subsystem: "bus",
		Name:      "breaker_state",
		Help:      "Circuit breaker state for shared infrastructure (0=closed, 1=half-open, 2=open)",
	})

	// BusBreakerRejections counts operations refused while the breaker is open (Counter - cumulative)
	BusBreakerRejections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "altruist",
		Subsystem: "bus",
		Name:      "breaker_rejections_total",
		Help:      "Operations rejected because the circuit breaker was open",
	})

	// ReadinessState reports the process readiness state (Gauge, 0=starting 1=alive 2=failed)
	ReadinessState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "altruist",
		Subsystem: "health",
		Name:      "readiness_state",
		Help:      "Process readiness state (0=starting, 1=alive, 2=failed)",
	})

	// SystemCPUPercent reports process host CPU utilization sampled by the monitor job (Gauge - current state)
	SystemCPUPercent = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "altruist",
		Subsystem: "system",
		Name:      "cpu_percent",
		Help:      "Host CPU utilization percentage",
	})

	// SystemMemoryBytes reports resident memory sampled by the monitor job (Gauge - current state)
	SystemMemoryBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "altruist",
		Subsystem: "system",
		Name:      "memory_bytes",
		Help:      "Process resident memory in bytes",
	})

	// SystemGoroutines reports the goroutine count sampled by the monitor job (Gauge - current state)
	SystemGoroutines = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "altruist",
		Subsystem: "system",
		Name:      "goroutines",
		Help:      "Current number of goroutines",
	})
)

func IncConnection() {
	ActiveConnections.Inc()
}

func DecConnection() {
	ActiveConnections.Dec()
}
