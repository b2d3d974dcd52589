package chunked

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/strand-protocol/wireprobe/pkg/probe"
	"github.com/strand-protocol/wireprobe/pkg/telemetry"
	"github.com/strand-protocol/wireprobe/pkg/transport"
)

// DefaultBodyReadSize is the read size for bodies that are not chunked.
const DefaultBodyReadSize = 4096

// Observer is told about the response as it is decoded.
type Observer interface {
	OnHead(h Head)
	OnChunk(index int, c Chunk)
	OnBody(p []byte)
}

type nopObserver struct{}

func (nopObserver) OnHead(Head)        {}
func (nopObserver) OnChunk(int, Chunk) {}
func (nopObserver) OnBody([]byte)      {}

// Report is the result of one fetch.
type Report struct {
	Session    string        `json:"session" yaml:"session"`
	Target     string        `json:"target" yaml:"target"`
	Path       string        `json:"path" yaml:"path"`
	Head       Head          `json:"head" yaml:"head"`
	Chunked    bool          `json:"chunked" yaml:"chunked"`
	Chunks     []Chunk       `json:"chunks,omitempty" yaml:"chunks,omitempty"`
	ChunkCount int           `json:"chunk_count" yaml:"chunk_count"`
	TotalBytes int64         `json:"total_bytes" yaml:"total_bytes"`
	Body       []byte        `json:"body,omitempty" yaml:"body,omitempty"`
	Outcome    probe.Outcome `json:"outcome" yaml:"outcome"`
	Elapsed    time.Duration `json:"elapsed" yaml:"elapsed"`
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithDialer overrides how connections are opened.
func WithDialer(d transport.Dialer) Option {
	return func(f *Fetcher) { f.dialer = d }
}

// WithLogger sets the logger each fetch's session logger derives from.
func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// WithTracer sets the tracer that records one span per fetch.
func WithTracer(t trace.Tracer) Option {
	return func(f *Fetcher) { f.tracer = t }
}

// WithMetrics sets the counters updated with chunks, bytes and outcomes.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(f *Fetcher) { f.metrics = m }
}

// WithObserver sets the Observer told about the head and each chunk or body
// read.
func WithObserver(o Observer) Option {
	return func(f *Fetcher) { f.observer = o }
}

// WithReadSize sets the refill size used while reading headers and chunks.
func WithReadSize(n int) Option {
	return func(f *Fetcher) { f.readSize = n }
}

// Fetcher issues a minimal GET and decodes the response.
type Fetcher struct {
	dialer   transport.Dialer
	logger   *slog.Logger
	tracer   trace.Tracer
	metrics  *telemetry.Metrics
	observer Observer
	readSize int
}

// New returns a Fetcher with the given options applied.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{}
	for _, opt := range opts {
		opt(f)
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	if f.tracer == nil {
		f.tracer = otel.Tracer(telemetry.InstrumentationName)
	}
	if f.observer == nil {
		f.observer = nopObserver{}
	}
	if f.readSize <= 0 {
		f.readSize = DefaultReadSize
	}
	return f
}

// Request builds the request line and headers sent for path.
func Request(addr, path string) string {
	return "GET " + path + " HTTP/1.1\r\n" +
		"Host: " + addr + "\r\n" +
		"Connection: close\r\n" +
		"\r\n"
}

// ValidatePath rejects request targets that would break the request line.
func ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty path", probe.ErrInvalidOption)
	}
	if strings.ContainsAny(path, " \r\n\x00") {
		return fmt.Errorf("%w: path %q contains whitespace or control characters", probe.ErrInvalidOption, path)
	}
	return nil
}

// Fetch requests path from addr and reads the whole response. A peer that
// closes before the header section ends yields a partial report with
// OutcomePeerClosed. Chunk framing errors and truncated chunks return the
// partial report together with an error matching probe.ErrMalformedChunk.
func (f *Fetcher) Fetch(ctx context.Context, addr, path string) (rep *Report, err error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}

	sess := probe.NewSession(addr, f.logger)
	rep = &Report{Session: sess.ID, Target: addr, Path: path}

	ctx, span := f.tracer.Start(ctx, "chunked.Fetch", trace.WithAttributes(
		attribute.String("wireprobe.session", sess.ID),
		attribute.String("net.peer.address", addr),
		attribute.String("url.path", path),
	))
	defer func() {
		rep.Outcome = probe.OutcomeOf(err, rep.Outcome)
		rep.Elapsed = sess.Elapsed()
		span.SetAttributes(
			attribute.String("wireprobe.outcome", string(rep.Outcome)),
			attribute.Bool("wireprobe.chunked", rep.Chunked),
			attribute.Int("wireprobe.chunk_count", rep.ChunkCount),
			attribute.Int64("wireprobe.total_bytes", rep.TotalBytes),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		f.metrics.RecordOutcome(ctx, "fetch", rep.Outcome)
		sess.Logger.Info("fetch finished",
			"outcome", rep.Outcome, "chunks", rep.ChunkCount, "bytes", rep.TotalBytes, "elapsed", rep.Elapsed)
	}()

	conn, err := transport.Dial(ctx, f.dialer, addr)
	if err != nil {
		sess.Logger.Error("connect failed", "err", err)
		return rep, err
	}
	defer conn.Close()

	if err := transport.WriteAll(ctx, conn, []byte(Request(addr, path))); err != nil {
		if transport.PeerGone(err) {
			rep.Outcome = probe.OutcomePeerClosed
			return rep, nil
		}
		return rep, fmt.Errorf("chunked: send request: %w", err)
	}
	sess.Logger.Debug("request sent", "path", path)

	src := &connReader{ctx: ctx, conn: conn}

	raw, rest, complete, err := readHead(src, f.readSize)
	if err != nil {
		return rep, fmt.Errorf("chunked: read headers: %w", err)
	}
	rep.Head = parseHead(raw, complete)
	f.observer.OnHead(rep.Head)
	if !complete {
		sess.Logger.Warn("peer closed before end of headers", "buffered", len(raw))
		rep.Outcome = probe.OutcomePeerClosed
		return rep, nil
	}
	rep.Chunked = rep.Head.Chunked()

	if !rep.Chunked {
		sess.Logger.Debug("response is not chunked, reading to close",
			"content_length", rep.Head.Get("Content-Length"))
		if err := f.readBody(ctx, src, rest, rep); err != nil {
			return rep, fmt.Errorf("chunked: read body: %w", err)
		}
		rep.Outcome = probe.OutcomeCompleted
		return rep, nil
	}

	dec := NewDecoder(src, rest, f.readSize)
	for {
		c, err := dec.Next()
		if err != nil {
			sess.Logger.Error("chunk decode failed", "chunk", rep.ChunkCount+1, "err", err)
			return rep, fmt.Errorf("chunked: chunk %d: %w", rep.ChunkCount+1, err)
		}
		if c.Last() {
			sess.Logger.Debug("final chunk received", "unread", len(dec.Buffered()))
			break
		}
		rep.Chunks = append(rep.Chunks, c)
		rep.ChunkCount++
		rep.TotalBytes += int64(c.Size)
		f.metrics.AddChunk(ctx, int(c.Size))
		f.observer.OnChunk(rep.ChunkCount, c)
	}
	rep.Outcome = probe.OutcomeCompleted
	return rep, nil
}

func (f *Fetcher) readBody(ctx context.Context, src io.Reader, rest []byte, rep *Report) error {
	rep.Body = append(rep.Body, rest...)
	if len(rest) > 0 {
		f.observer.OnBody(rest)
	}
	buf := make([]byte, DefaultBodyReadSize)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			rep.Body = append(rep.Body, buf[:n]...)
			f.observer.OnBody(buf[:n])
		}
		if err == io.EOF || (n == 0 && err == nil) {
			break
		}
		if err != nil {
			return err
		}
	}
	rep.TotalBytes = int64(len(rep.Body))
	f.metrics.AddBytesReceived(ctx, len(rep.Body))
	return nil
}

// readHead accumulates reads until the header/body separator appears or the
// peer closes.
func readHead(r io.Reader, readSize int) (head, rest []byte, complete bool, err error) {
	var buf []byte
	scratch := make([]byte, readSize)
	for {
		if head, rest, ok := splitHead(buf); ok {
			return head, rest, true, nil
		}
		n, err := r.Read(scratch)
		buf = append(buf, scratch[:n]...)
		if err == io.EOF || (n == 0 && err == nil) {
			head, rest, ok := splitHead(buf)
			return head, rest, ok, nil
		}
		if err != nil {
			return buf, nil, false, err
		}
	}
}

// connReader adapts a Conn to io.Reader, unblocking on ctx and reporting any
// sign of the peer going away as io.EOF.
type connReader struct {
	ctx  context.Context
	conn transport.Conn
}

func (r *connReader) Read(p []byte) (int, error) {
	n, err := transport.Read(r.ctx, r.conn, p)
	if err != nil && transport.PeerGone(err) {
		return n, io.EOF
	}
	return n, err
}
