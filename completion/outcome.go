package completion

// Outcome is how a generation attempt ended.
type Outcome string

const (
	// OutcomeSkipped means no request was made: the tab was gone or there was nothing to send.
	OutcomeSkipped        Outcome = "skipped"
	OutcomeCompleted      Outcome = "completed"
	OutcomeAbortedEmpty   Outcome = "aborted_empty"
	OutcomeAbortedPartial Outcome = "aborted_partial"
	OutcomeFailed         Outcome = "failed"
	// OutcomeStale means a newer attempt or a dispose superseded this one and its result
	// was dropped.
	OutcomeStale Outcome = "stale"
)

func (o Outcome) String() string { return string(o) }
