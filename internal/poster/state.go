package poster

import (
	"time"

	"ganagram/internal/connection"
)

// State is where a single comment is in its way to being published.
type State int

const (
	NotEntered State = iota
	Entered
	Submitted
	Confirmed
	Failed
)

func (s State) String() string {
	switch s {
	case NotEntered:
		return "not-entered"
	case Entered:
		return "entered"
	case Submitted:
		return "submitted"
	case Confirmed:
		return "confirmed"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Attempt is one submission of a comment and how it ended, Outcome is either Confirmed or
// Failed.
type Attempt struct {
	Number   int
	Outcome  State
	Duration time.Duration
	Err      error
	Text     string
	Mentions []connection.Connection
	// Injected is set when the text could not be typed and was injected into the submission
	// request instead.
	Injected bool
}

// Stats counts attempts across a posting session, Attempts always equals Successes + Failures.
type Stats struct {
	Attempts            int
	Successes           int
	Failures            int
	ConsecutiveFailures int
}

func (s *Stats) record(outcome State) {
	s.Attempts++
	if outcome == Confirmed {
		s.Successes++
		s.ConsecutiveFailures = 0
		return
	}
	s.Failures++
	s.ConsecutiveFailures++
}
