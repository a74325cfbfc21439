package model

import "time"

// FlowMetrics contains the metrics derived from a trial capture.
type FlowMetrics struct {
	// Trial is the ledger row these metrics derive from.
	Trial *Trial

	// BytesUp is the number of client->server bytes.
	BytesUp int64

	// BytesDown is the number of server->client bytes.
	BytesDown int64

	// PacketsUp is the number of client->server packets.
	PacketsUp int64

	// PacketsDown is the number of server->client packets.
	PacketsDown int64

	// Duration is the time between the first and the last
	// qualifying packet or zero if there were none.
	Duration time.Duration

	// IATUp contains the uplink inter-arrival gaps in arrival order.
	IATUp []time.Duration

	// IATDown contains the downlink inter-arrival gaps in arrival order.
	IATDown []time.Duration
}
