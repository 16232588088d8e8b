package pipeline

// State is the stage a Runner is in.
type State int32

// Runner states.
const (
	StateIdle State = iota
	StateDiscovering
	StateDeduplicating
	StateProvisioning
	StateIngesting
	StateComplete
	StateFailed
)

var stateNames = [...]string{
	StateIdle:          "idle",
	StateDiscovering:   "discovering",
	StateDeduplicating: "deduplicating",
	StateProvisioning:  "provisioning",
	StateIngesting:     "ingesting",
	StateComplete:      "complete",
	StateFailed:        "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether a run has ended in s.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed
}
