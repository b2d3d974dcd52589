package transport

import (
	"context"
	"errors"
	"os"
	"time"
)

// PollResult is how a bounded response wait ended.
type PollResult int

const (
	PollData    PollResult = iota // a non-empty read succeeded
	PollClosed                    // the peer closed (zero-byte read or reset)
	PollTimeout                   // every attempt elapsed without data
)

func (r PollResult) String() string {
	switch r {
	case PollData:
		return "data"
	case PollClosed:
		return "closed"
	case PollTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// PollPolicy bounds the wait for a response to Attempts × Interval.
type PollPolicy struct {
	Attempts int
	Interval time.Duration
}

// DefaultPollPolicy waits 50 attempts of 100ms, about five seconds in total.
var DefaultPollPolicy = PollPolicy{Attempts: 50, Interval: 100 * time.Millisecond}

// Budget is the worst-case time Poll blocks for.
func (p PollPolicy) Budget() time.Duration {
	return time.Duration(p.Attempts) * p.Interval
}

// Poll waits for the next readable data on c. Each attempt arms a read
// deadline of one Interval; an attempt that expires without data calls
// onWait with its 1-based index and moves on. It returns the number of
// bytes read into buf, how the wait ended, and the attempts consumed.
func Poll(ctx context.Context, c Conn, buf []byte, p PollPolicy, onWait func(attempt int)) (int, PollResult, int, error) {
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, PollTimeout, attempt - 1, err
		}
		deadline := time.Now().Add(p.Interval)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		if err := c.SetReadDeadline(deadline); err != nil {
			return 0, PollTimeout, attempt - 1, err
		}

		n, err := c.Read(buf)
		switch {
		case n > 0:
			return n, PollData, attempt, nil
		case err == nil:
			return 0, PollClosed, attempt, nil
		case errors.Is(err, os.ErrDeadlineExceeded):
			if ctxErr := ctx.Err(); ctxErr != nil {
				return 0, PollTimeout, attempt, ctxErr
			}
		case err != nil && PeerGone(err):
			return 0, PollClosed, attempt, nil
		case err != nil:
			return 0, PollTimeout, attempt, err
		}
		if onWait != nil {
			onWait(attempt)
		}
	}
	return 0, PollTimeout, p.Attempts, nil
}
