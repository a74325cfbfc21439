package resultsdb

import (
	"database/sql"
	"time"
)

// Run is a row of the runs table.
type Run struct {
	ID         int64     `db:"run_id,omitempty"`
	UUID       string    `db:"run_uuid"`
	LedgerPath string    `db:"ledger_path"`
	CreatedAt  time.Time `db:"created_at"`
}

// Trial is a row of the trials table: a ledger row joined with
// the flow metrics derived from its capture.
type Trial struct {
	ID             int64         `db:"trial_id,omitempty"`
	RunID          int64         `db:"run_id"`
	Mode           string        `db:"mode"`
	Level          int64         `db:"level"`
	URL            string        `db:"url"`
	Repetition     int64         `db:"repetition"`
	CapturePath    string        `db:"capture_path"`
	TimingMetricMs float64       `db:"timing_metric_ms"`
	WallStart      sql.NullTime  `db:"wall_start"`
	WallEnd        sql.NullTime  `db:"wall_end"`
	DynMaxProb     sql.NullInt64 `db:"dyn_max_prob"`
	DynMinPPS      sql.NullInt64 `db:"dyn_min_pps"`
	DynMaxPPS      sql.NullInt64 `db:"dyn_max_pps"`
	Outcome        string        `db:"outcome"`
	BytesUp        int64         `db:"bytes_up"`
	BytesDown      int64         `db:"bytes_down"`
	PacketsUp      int64         `db:"pkt_up"`
	PacketsDown    int64         `db:"pkt_down"`
	DurationS      float64       `db:"duration_s"`
}

const (
	// DirectionUp is the direction of uplink gaps.
	DirectionUp = "up"

	// DirectionDown is the direction of downlink gaps.
	DirectionDown = "down"
)

// Gap is a row of the gaps table.
type Gap struct {
	ID        int64   `db:"gap_id,omitempty"`
	TrialID   int64   `db:"trial_id"`
	Direction string  `db:"direction"`
	Seq       int64   `db:"seq"`
	IATS      float64 `db:"iat_s"`
}
