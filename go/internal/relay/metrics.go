package relay

import "github.com/mcdev12/drawwithfriends/go/internal/metrics"

const subsystem = "relay"

var (
	connectionsOpen = metrics.NewGauge(
		"connections",
		subsystem,
		"Open relay WebSocket connections",
		[]string{},
	).WithLabelValues()
	requestsTotal = metrics.NewCounter(
		"requests_total",
		subsystem,
		"Relay requests handled by type and result",
		[]string{"type", "result"},
	)
	pushesTotal = metrics.NewCounter(
		"pushes_total",
		subsystem,
		"Subscription pushes sent to clients by stream",
		[]string{"stream"},
	)
	slowConsumers = metrics.NewCounter(
		"slow_consumers_total",
		subsystem,
		"Connections closed because their send buffer filled",
		[]string{},
	).WithLabelValues()
)
