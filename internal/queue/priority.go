package queue

// Priority is the queue lane a unit travels in.
type Priority int

const (
	// PriorityHigh is for urgent jobs that should be processed first.
	PriorityHigh Priority = 1

	// PriorityNormal is for standard jobs (default).
	PriorityNormal Priority = 2

	// PriorityLow is for background jobs that can wait.
	PriorityLow Priority = 3

	// Job priorities at or above highThreshold use the high lane; those at or
	// below lowThreshold use the low lane.
	highThreshold = 8
	lowThreshold  = 3

	// priorityStrNormal is the string representation of normal priority.
	priorityStrNormal = "normal"
)

// String returns the string representation of a priority.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return priorityStrNormal
	case PriorityLow:
		return "low"
	default:
		return priorityStrNormal
	}
}

// ParsePriority converts a lane name. Unknown names map to normal.
func ParsePriority(s string) Priority {
	switch s {
	case "high":
		return PriorityHigh
	case "low":
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// FromJobPriority maps a job priority in [0, 10] to a lane.
func FromJobPriority(priority int) Priority {
	switch {
	case priority >= highThreshold:
		return PriorityHigh
	case priority <= lowThreshold:
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// AllPriorities returns all priority levels in order of precedence (high first).
func AllPriorities() []Priority {
	return []Priority{PriorityHigh, PriorityNormal, PriorityLow}
}

// IsValid returns true if the priority is a valid value.
func (p Priority) IsValid() bool {
	return p >= PriorityHigh && p <= PriorityLow
}
