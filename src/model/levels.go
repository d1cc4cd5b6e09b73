package model

import "strings"

// Level is the canonical stress/priority scale. The analyzer and persisted
// snapshots may carry any casing ("LOW", "Low", "low"); ParseLevel normalizes
// at the boundary so only lowercase values circulate internally.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// ParseLevel normalizes an externally supplied level. Unknown or empty input
// maps to the provided fallback.
func ParseLevel(raw string, fallback Level) Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "low":
		return LevelLow
	case "medium", "mid", "normal":
		return LevelMedium
	case "high", "urgent", "critical":
		return LevelHigh
	}
	return fallback
}

// Rank orders levels for comparisons (low < medium < high).
func (l Level) Rank() int {
	switch l {
	case LevelLow:
		return 0
	case LevelMedium:
		return 1
	case LevelHigh:
		return 2
	}
	return -1
}
