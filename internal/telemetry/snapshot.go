// Package telemetry fans out per-run progress snapshots to any number of
// subscribers over bounded buffers. Publishing never blocks: a subscriber
// that cannot keep up loses messages (counted), never stalls the run.
package telemetry

import "time"

// Memory pressure buckets derived from observed resident memory.
const (
	PressureLow      = "low"
	PressureModerate = "moderate"
	PressureHigh     = "high"
	PressureCritical = "critical"
)

// PressureFor buckets a resident-memory reading in MB.
func PressureFor(mb float64) string {
	switch {
	case mb < 512:
		return PressureLow
	case mb < 1024:
		return PressureModerate
	case mb < 2048:
		return PressureHigh
	default:
		return PressureCritical
	}
}

// RecentEvent is one parsed engine event, newest first in a snapshot.
type RecentEvent struct {
	EventType   string    `json:"event_type"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
}

// Snapshot is the progress datum published while a run executes. Timestamps
// marshal as ISO-8601; the same shape goes to websocket clients verbatim.
type Snapshot struct {
	RunID           string        `json:"run_id"`
	Progress        int           `json:"progress"`
	CurrentStage    string        `json:"current_stage"`
	CurrentYear     int           `json:"current_year"`
	TotalYears      int           `json:"total_years"`
	MemoryMB        float64       `json:"memory_mb"`
	EventsGenerated int           `json:"events_generated"`
	ElapsedSeconds  float64       `json:"elapsed_seconds"`
	EventsPerSecond float64       `json:"events_per_second"`
	MemoryPressure  string        `json:"memory_pressure"`
	RecentEvents    []RecentEvent `json:"recent_events"`
	Timestamp       time.Time     `json:"timestamp"`
}
