package upstream

import (
	"fmt"
	"time"
)

// WaitError is a transient wait demanded by the upstream: a flood wait or a
// slow-mode restriction, with the wait the upstream asked for.
type WaitError struct {
	Duration time.Duration
	SlowMode bool
}

func (e *WaitError) Error() string {
	if e.SlowMode {
		return fmt.Sprintf("upstream slow mode, wait %s", e.Duration)
	}
	return fmt.Sprintf("upstream flood wait, wait %s", e.Duration)
}

// AccountFloodError is the account-level flood signal. The upstream supplies
// no duration; callers apply the configured long cooldown.
type AccountFloodError struct{}

func (e *AccountFloodError) Error() string { return "upstream account flood" }

// ForbiddenError means the upstream or the account refuses the conversation;
// retrying without operator action is pointless.
type ForbiddenError struct {
	Reason string
}

func (e *ForbiddenError) Error() string { return "upstream forbidden: " + e.Reason }

// LabelNotFoundError reports that no control matched the requested label.
// Labels holds what the upstream offered instead.
type LabelNotFoundError struct {
	Label  string
	Labels []string
}

func (e *LabelNotFoundError) Error() string {
	return fmt.Sprintf("label %q not found among %d controls", e.Label, len(e.Labels))
}
