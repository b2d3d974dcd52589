package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/strand-protocol/wireprobe/pkg/output"
	"github.com/strand-protocol/wireprobe/pkg/probe"
	"github.com/strand-protocol/wireprobe/pkg/slowsend"
	"github.com/strand-protocol/wireprobe/pkg/transport"
)

var (
	sendFile         string
	sendHTTPPost     bool
	sendChunkSize    int
	sendDelay        time.Duration
	sendCloseEarly   bool
	sendCloseAfter   int
	sendPollAttempts int
	sendPollInterval time.Duration
)

var sendCmd = &cobra.Command{
	Use:   "send [payload]",
	Short: "Send a payload in small, delayed writes",
	Long: `Connect to the server and write the payload chunk-size bytes at a time,
pausing between writes. After the last write the client shuts down its
write side and polls for a response.

With --close-early the connection is dropped as soon as the running total
reaches --close-after bytes, without a half-close or any read.

The payload comes from the argument, from --file (use - for stdin), or from
--http-post, which builds a small JSON POST request for the target.

Examples:
  wireprobe send 'GET / HTTP/1.1\r\n\r\n' --chunk-size 2 --delay 50ms
  wireprobe send --http-post --chunk-size 5 --delay 2s
  wireprobe send --file request.txt --close-early`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := loadPayload(cmd, args)
		if err != nil {
			return err
		}

		flags := cmd.Flags()
		if flags.Changed("chunk-size") {
			cfg.Send.ChunkSize = sendChunkSize
		}
		if flags.Changed("delay") {
			cfg.Send.Delay = sendDelay
		}
		if flags.Changed("close-after") {
			cfg.Send.CloseEarlyAfter = sendCloseAfter
		}
		if flags.Changed("poll-attempts") {
			cfg.Send.PollAttempts = sendPollAttempts
		}
		if flags.Changed("poll-interval") {
			cfg.Send.PollInterval = sendPollInterval
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("%w: %v", probe.ErrInvalidOption, err)
		}

		opts := slowsend.Options{
			ChunkSize:       cfg.Send.ChunkSize,
			Delay:           cfg.Send.Delay,
			CloseEarly:      sendCloseEarly,
			CloseEarlyAfter: cfg.Send.CloseEarlyAfter,
			Poll: transport.PollPolicy{
				Attempts: cfg.Send.PollAttempts,
				Interval: cfg.Send.PollInterval,
			},
			ReadSize: cfg.Send.ReadSize,
		}

		trace := output.NewTracer(traceWriter(cmd))
		sender := slowsend.New(
			slowsend.WithDialer(dialer()),
			slowsend.WithLogger(tel.Logger),
			slowsend.WithTracer(tel.Tracer()),
			slowsend.WithMetrics(tel.Metrics),
			slowsend.WithObserver(trace),
		)

		rep, err := sender.Send(cmd.Context(), target(), payload, opts)
		if rep != nil {
			trace.SendDone(rep)
			fmt.Fprint(cmd.OutOrStdout(), formatter.Format(output.SendView(rep)))
		}
		return err
	},
}

// loadPayload picks the payload from exactly one of the argument, --file
// and --http-post.
func loadPayload(cmd *cobra.Command, args []string) ([]byte, error) {
	sources := 0
	if len(args) == 1 {
		sources++
	}
	if sendFile != "" {
		sources++
	}
	if sendHTTPPost {
		sources++
	}
	switch {
	case sources == 0:
		return nil, errors.New("no payload: pass it as an argument, with --file, or use --http-post")
	case sources > 1:
		return nil, errors.New("payload given more than once: use only one of the argument, --file and --http-post")
	}

	switch {
	case len(args) == 1:
		return []byte(unescape(args[0])), nil
	case sendHTTPPost:
		return []byte(examplePost(target())), nil
	case sendFile == "-":
		return io.ReadAll(cmd.InOrStdin())
	default:
		data, err := os.ReadFile(sendFile)
		if err != nil {
			return nil, fmt.Errorf("read payload: %w", err)
		}
		return data, nil
	}
}

// unescape expands \r, \n, \t and \\ so request lines can be typed on the
// command line. Any other backslash is kept as is.
func unescape(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 == len(s) {
			out = append(out, s[i])
			continue
		}
		switch s[i+1] {
		case 'r':
			out = append(out, '\r')
		case 'n':
			out = append(out, '\n')
		case 't':
			out = append(out, '\t')
		case '\\':
			out = append(out, '\\')
		default:
			out = append(out, s[i], s[i+1])
		}
		i++
	}
	return string(out)
}

// examplePost builds a complete HTTP/1.1 POST with a small JSON body.
func examplePost(host string) string {
	body := `{"name":"test","value":123}`
	return "POST /api/data HTTP/1.1\r\n" +
		"Host: " + host + "\r\n" +
		"Content-Type: application/json\r\n" +
		"Content-Length: " + strconv.Itoa(len(body)) + "\r\n" +
		"\r\n" +
		body
}

func init() {
	f := sendCmd.Flags()
	f.StringVarP(&sendFile, "file", "f", "", "read the payload from a file (- for stdin)")
	f.BoolVar(&sendHTTPPost, "http-post", false, "send a sample JSON POST request as the payload")
	f.IntVar(&sendChunkSize, "chunk-size", 1, "bytes per write")
	f.DurationVar(&sendDelay, "delay", 100*time.Millisecond, "pause after each write")
	f.BoolVar(&sendCloseEarly, "close-early", false, "drop the connection once --close-after bytes are sent")
	f.IntVar(&sendCloseAfter, "close-after", slowsend.DefaultCloseEarlyAfter, "byte threshold for --close-early")
	f.IntVar(&sendPollAttempts, "poll-attempts", transport.DefaultPollPolicy.Attempts, "response poll attempts after the half-close")
	f.DurationVar(&sendPollInterval, "poll-interval", transport.DefaultPollPolicy.Interval, "wait per poll attempt")
	rootCmd.AddCommand(sendCmd)
}
