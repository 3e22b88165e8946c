package gateway

// State is a step of the job state machine. Done, Dropped and Failed are
// terminal.
type State int

const (
	Received State = iota
	Unwrapped
	Parsed
	PolicyResolved
	Watermarked
	Persisted
	Forwarded
	Done
	Dropped
	Failed
)

var stateNames = [...]string{
	Received:       "received",
	Unwrapped:      "unwrapped",
	Parsed:         "parsed",
	PolicyResolved: "policy-resolved",
	Watermarked:    "watermarked",
	Persisted:      "persisted",
	Forwarded:      "forwarded",
	Done:           "done",
	Dropped:        "dropped",
	Failed:         "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool { return s == Done || s == Dropped || s == Failed }
