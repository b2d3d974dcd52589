package probe

import "errors"

// Outcome is the terminal state an invocation ended in.
type Outcome string

const (
	// SlowSender outcomes.
	OutcomeEarlyClosed Outcome = "early-closed"
	OutcomeResponded   Outcome = "responded"
	OutcomeTimedOut    Outcome = "timeout"

	// ChunkedReader outcomes.
	OutcomeCompleted Outcome = "completed"

	// Shared.
	OutcomePeerClosed    Outcome = "peer-closed"
	OutcomeMalformed     Outcome = "malformed-input"
	OutcomeConnectFailed Outcome = "connect-failure"
	OutcomeInterrupted   Outcome = "interrupted"
	OutcomeFailed        Outcome = "failed"
)

// Success reports whether the outcome is one the operator should read as
// "the probe ran to a normal end". Timeouts and peer closes count: they are
// observations about the server, not client failures.
func (o Outcome) Success() bool {
	switch o {
	case OutcomeEarlyClosed, OutcomeResponded, OutcomeTimedOut, OutcomeCompleted, OutcomePeerClosed:
		return true
	}
	return false
}

func (o Outcome) String() string { return string(o) }

// OutcomeOf classifies an invocation error. A nil error yields def.
func OutcomeOf(err error, def Outcome) Outcome {
	switch {
	case err == nil:
		return def
	case errors.Is(err, ErrConnect):
		return OutcomeConnectFailed
	case errors.Is(err, ErrMalformedChunk):
		return OutcomeMalformed
	case ExitCode(err) == ExitInterrupted:
		return OutcomeInterrupted
	default:
		return OutcomeFailed
	}
}
