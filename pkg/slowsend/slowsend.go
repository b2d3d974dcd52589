// Package slowsend streams a payload to a server in small, delayed writes to
// exercise its handling of fragmented requests. After the last write it
// half-closes the connection and waits a bounded time for a response.
// Optionally it drops the connection part-way through to model a client
// that disconnects abruptly.
package slowsend

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/strand-protocol/wireprobe/pkg/probe"
	"github.com/strand-protocol/wireprobe/pkg/telemetry"
	"github.com/strand-protocol/wireprobe/pkg/transport"
)

const (
	// DefaultCloseEarlyAfter is the byte count after which a close-early
	// send drops the connection.
	DefaultCloseEarlyAfter = 20
	// DefaultReadSize bounds the response read after the half-close.
	DefaultReadSize = 4096
)

// Options controls one send. CloseEarlyAfter must be at least 1 when
// CloseEarly is set.
type Options struct {
	ChunkSize       int
	Delay           time.Duration
	CloseEarly      bool
	CloseEarlyAfter int
	Poll            transport.PollPolicy
	ReadSize        int
}

func (o Options) withDefaults() (Options, error) {
	if o.Poll == (transport.PollPolicy{}) {
		o.Poll = transport.DefaultPollPolicy
	}
	if o.ReadSize == 0 {
		o.ReadSize = DefaultReadSize
	}
	switch {
	case o.ChunkSize < 1:
		return o, fmt.Errorf("%w: chunk size %d, must be >= 1", probe.ErrInvalidOption, o.ChunkSize)
	case o.Delay < 0:
		return o, fmt.Errorf("%w: negative delay %v", probe.ErrInvalidOption, o.Delay)
	case o.CloseEarly && o.CloseEarlyAfter < 1:
		return o, fmt.Errorf("%w: close-early threshold %d, must be >= 1", probe.ErrInvalidOption, o.CloseEarlyAfter)
	case o.Poll.Attempts < 1 || o.Poll.Interval <= 0:
		return o, fmt.Errorf("%w: poll policy %d x %v", probe.ErrInvalidOption, o.Poll.Attempts, o.Poll.Interval)
	case o.ReadSize < 1:
		return o, fmt.Errorf("%w: read size %d", probe.ErrInvalidOption, o.ReadSize)
	}
	return o, nil
}

// Observer is told about each step of a send as it happens.
type Observer interface {
	OnWrite(p []byte, total int)
	OnHalfClose(total int)
	OnWait(attempt, max int)
}

type nopObserver struct{}

func (nopObserver) OnWrite([]byte, int) {}
func (nopObserver) OnHalfClose(int)     {}
func (nopObserver) OnWait(int, int)     {}

// Report is the result of one send.
type Report struct {
	Session      string        `json:"session" yaml:"session"`
	Target       string        `json:"target" yaml:"target"`
	PayloadBytes int           `json:"payload_bytes" yaml:"payload_bytes"`
	TotalSent    int           `json:"total_sent" yaml:"total_sent"`
	Writes       int           `json:"writes" yaml:"writes"`
	Progress     []int         `json:"progress" yaml:"progress"`
	HalfClosed   bool          `json:"half_closed" yaml:"half_closed"`
	PollAttempts int           `json:"poll_attempts" yaml:"poll_attempts"`
	Outcome      probe.Outcome `json:"outcome" yaml:"outcome"`
	Response     []byte        `json:"response,omitempty" yaml:"response,omitempty"`
	Elapsed      time.Duration `json:"elapsed" yaml:"elapsed"`
}

// Option configures a Sender.
type Option func(*Sender)

// WithDialer overrides how connections are opened.
func WithDialer(d transport.Dialer) Option {
	return func(s *Sender) { s.dialer = d }
}

// WithLogger sets the logger each send's session logger derives from.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sender) { s.logger = l }
}

// WithTracer sets the tracer that records one span per send.
func WithTracer(t trace.Tracer) Option {
	return func(s *Sender) { s.tracer = t }
}

// WithMetrics sets the counters updated with bytes sent and outcomes.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Sender) { s.metrics = m }
}

// WithObserver sets the Observer told about each write, the half-close and
// each poll wait.
func WithObserver(o Observer) Option {
	return func(s *Sender) { s.observer = o }
}

// Sender runs slow sends. It holds no per-send state and may be reused.
type Sender struct {
	dialer   transport.Dialer
	logger   *slog.Logger
	tracer   trace.Tracer
	metrics  *telemetry.Metrics
	observer Observer
}

// New returns a Sender with the given options applied.
func New(opts ...Option) *Sender {
	s := &Sender{}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(telemetry.InstrumentationName)
	}
	if s.observer == nil {
		s.observer = nopObserver{}
	}
	return s
}

// Send connects to addr and writes payload according to opts. Connect
// failures return a *probe.ConnectError. Early close, peer close and poll
// timeout are reported through Report.Outcome with a nil error.
func (s *Sender) Send(ctx context.Context, addr string, payload []byte, opts Options) (rep *Report, err error) {
	opts, err = opts.withDefaults()
	if err != nil {
		return nil, err
	}

	sess := probe.NewSession(addr, s.logger)
	rep = &Report{Session: sess.ID, Target: addr, PayloadBytes: len(payload)}

	ctx, span := s.tracer.Start(ctx, "slowsend.Send", trace.WithAttributes(
		attribute.String("wireprobe.session", sess.ID),
		attribute.String("net.peer.address", addr),
		attribute.Int("wireprobe.payload_bytes", len(payload)),
		attribute.Int("wireprobe.chunk_size", opts.ChunkSize),
		attribute.Bool("wireprobe.close_early", opts.CloseEarly),
	))
	defer func() {
		rep.Outcome = probe.OutcomeOf(err, rep.Outcome)
		rep.Elapsed = sess.Elapsed()
		span.SetAttributes(
			attribute.String("wireprobe.outcome", string(rep.Outcome)),
			attribute.Int("wireprobe.total_sent", rep.TotalSent),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		s.metrics.RecordOutcome(ctx, "send", rep.Outcome)
		sess.Logger.Info("send finished",
			"outcome", rep.Outcome, "total_sent", rep.TotalSent, "elapsed", rep.Elapsed)
	}()

	conn, err := transport.Dial(ctx, s.dialer, addr)
	if err != nil {
		sess.Logger.Error("connect failed", "err", err)
		return rep, err
	}
	defer conn.Close()
	sess.Logger.Debug("connected", "chunk_size", opts.ChunkSize, "delay", opts.Delay)

	for off := 0; off < len(payload); off += opts.ChunkSize {
		slice := payload[off:min(off+opts.ChunkSize, len(payload))]
		if err := transport.WriteAll(ctx, conn, slice); err != nil {
			if transport.PeerGone(err) {
				sess.Logger.Warn("peer closed during send", "total_sent", rep.TotalSent, "err", err)
				rep.Outcome = probe.OutcomePeerClosed
				return rep, nil
			}
			return rep, fmt.Errorf("slowsend: write after %d bytes: %w", rep.TotalSent, err)
		}
		rep.TotalSent += len(slice)
		rep.Writes++
		rep.Progress = append(rep.Progress, rep.TotalSent)
		s.metrics.AddBytesSent(ctx, len(slice))
		s.observer.OnWrite(slice, rep.TotalSent)

		if opts.CloseEarly && rep.TotalSent >= opts.CloseEarlyAfter {
			sess.Logger.Info("closing connection early", "total_sent", rep.TotalSent)
			rep.Outcome = probe.OutcomeEarlyClosed
			return rep, nil
		}

		if err := pause(ctx, opts.Delay); err != nil {
			return rep, err
		}
	}

	if err := conn.CloseWrite(); err != nil {
		if transport.PeerGone(err) {
			rep.Outcome = probe.OutcomePeerClosed
			return rep, nil
		}
		return rep, fmt.Errorf("slowsend: half-close: %w", err)
	}
	rep.HalfClosed = true
	s.observer.OnHalfClose(rep.TotalSent)
	sess.Logger.Debug("write side shut down", "total_sent", rep.TotalSent)

	buf := make([]byte, opts.ReadSize)
	n, res, attempts, err := transport.Poll(ctx, conn, buf, opts.Poll, func(attempt int) {
		s.observer.OnWait(attempt, opts.Poll.Attempts)
	})
	rep.PollAttempts = attempts
	sess.Logger.Debug("poll finished", "result", res.String(), "attempts", attempts)
	if err != nil {
		return rep, fmt.Errorf("slowsend: await response: %w", err)
	}

	switch res {
	case transport.PollData:
		rep.Response = append([]byte(nil), buf[:n]...)
		rep.Outcome = probe.OutcomeResponded
		s.metrics.AddBytesReceived(ctx, n)
	case transport.PollClosed:
		rep.Outcome = probe.OutcomePeerClosed
	default:
		sess.Logger.Warn("no response", "attempts", attempts, "budget", opts.Poll.Budget())
		rep.Outcome = probe.OutcomeTimedOut
	}
	return rep, nil
}

// pause waits d or until ctx is done.
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
