// Package probe holds the vocabulary shared by the wireprobe probes: terminal
// outcomes, the error taxonomy, and the per-invocation session.
package probe

import (
	"context"
	"errors"
	"fmt"
)

// Process exit codes reported by the CLI.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitConnect     = 2
	ExitMalformed   = 3
	ExitInterrupted = 130
)

var (
	// ErrConnect matches any *ConnectError via errors.Is.
	ErrConnect = errors.New("wireprobe: connect failed")

	// ErrMalformedChunk reports chunked framing that cannot be decoded: a
	// size line that is not hexadecimal, or a stream that ends before a
	// declared chunk is complete.
	ErrMalformedChunk = errors.New("wireprobe: malformed chunk framing")

	// ErrTruncated is the MalformedChunk variant for a peer that closed the
	// connection in the middle of a chunk or size line.
	ErrTruncated = fmt.Errorf("%w: stream truncated", ErrMalformedChunk)

	// ErrInvalidOption rejects probe options outside their allowed range.
	ErrInvalidOption = errors.New("wireprobe: invalid option")
)

// ConnectError is returned when the peer refused or could not be reached.
// No retry is attempted.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("wireprobe: connect %s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrConnect) match every ConnectError.
func (e *ConnectError) Is(target error) bool { return target == ErrConnect }

// ExitCode maps an invocation error onto the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrConnect):
		return ExitConnect
	case errors.Is(err, ErrMalformedChunk):
		return ExitMalformed
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	default:
		return ExitFailure
	}
}
