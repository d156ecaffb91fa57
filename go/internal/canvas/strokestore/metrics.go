package strokestore

import "github.com/mcdev12/drawwithfriends/go/internal/metrics"

const subsystem = "strokestore"

var (
	rebuildsTotal = metrics.NewCounter(
		"rebuilds_total",
		subsystem,
		"Canvas rebuilds by outcome",
		[]string{"result"},
	)
	recordsTotal = metrics.NewCounter(
		"records_total",
		subsystem,
		"Stroke records inserted by origin",
		[]string{"origin"},
	)
	decodeFailuresTotal = metrics.NewCounter(
		"decode_failures_total",
		subsystem,
		"Stroke payloads skipped during replay because they failed to decode",
		[]string{},
	)
)
