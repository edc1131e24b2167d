package bot

import (
	"fmt"
	"strings"
)

// Progress is one message from a running bot to its observer. The last message of a run has
// Done set and carries the final Summary, the channel is closed right after it.
type Progress struct {
	Message string
	Done    bool
	Summary Summary
}

// Summary counts what a run achieved, it is filled in even when the run aborts.
type Summary struct {
	Target string
	// Known connections were already in the records.
	Known int
	// Discovered connections were harvested and saved by this run.
	Discovered int
	// Available connections had not been mentioned on the post yet.
	Available int
	// Planned is how many comments the available connections filled.
	Planned   int
	Attempts  int
	Confirmed int
	Failed    int
	Cancelled bool
	Err       error
}

func (s Summary) String() string {
	var b strings.Builder
	switch {
	case s.Cancelled:
		b.WriteString("stopped early. ")
	case s.Err != nil:
		b.WriteString("aborted. ")
	}
	fmt.Fprintf(&b, "%d new connections saved", s.Discovered)
	if s.Target != "" {
		fmt.Fprintf(&b, " for %s", s.Target)
	}
	fmt.Fprintf(&b, ", %d comments sent", s.Confirmed)
	if s.Planned > 0 {
		fmt.Fprintf(&b, " of %d", s.Planned)
	}
	if s.Failed > 0 {
		fmt.Fprintf(&b, " (%d failed attempts)", s.Failed)
	}
	return b.String()
}
