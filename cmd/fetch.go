package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/strand-protocol/wireprobe/pkg/chunked"
	"github.com/strand-protocol/wireprobe/pkg/output"
	"github.com/strand-protocol/wireprobe/pkg/tui"
)

var (
	fetchTUI    bool
	fetchChunks bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch [path]",
	Short: "GET a path and decode the chunked response as it arrives",
	Long: `Send a minimal HTTP/1.1 GET for path (default from config,
"/httpbin/stream/5") and print each chunk of a chunked transfer-coding
response as it is decoded. Responses that are not chunked are read until the
server closes the connection.

With --tui the chunks are shown in a live terminal view.

Key bindings (--tui):
  q / Esc / Ctrl+C  Cancel the fetch, or close the view once it is done`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfg.Fetch.Path
		if len(args) == 1 {
			path = args[0]
		}
		if err := chunked.ValidatePath(path); err != nil {
			return err
		}

		opts := []chunked.Option{
			chunked.WithDialer(dialer()),
			chunked.WithLogger(tel.Logger),
			chunked.WithTracer(tel.Tracer()),
			chunked.WithMetrics(tel.Metrics),
			chunked.WithReadSize(cfg.Fetch.ReadSize),
		}

		var (
			rep *chunked.Report
			err error
		)
		if fetchTUI {
			rep, err = fetchLive(cmd, path, opts)
		} else {
			trace := output.NewTracer(traceWriter(cmd))
			fmt.Fprintf(traceWriter(cmd), "Requesting %s from %s\n\n", path, target())
			rep, err = chunked.New(append(opts, chunked.WithObserver(trace))...).Fetch(cmd.Context(), target(), path)
			if rep != nil {
				trace.FetchDone(rep)
			}
		}
		if rep != nil {
			out := cmd.OutOrStdout()
			fmt.Fprint(out, formatter.Format(output.FetchView(rep)))
			if fetchChunks && len(rep.Chunks) > 0 {
				fmt.Fprintln(out)
				fmt.Fprint(out, formatter.Format(output.ChunkRows(rep.Chunks)))
			}
		}
		return err
	},
}

type fetchResult struct {
	rep *chunked.Report
	err error
}

// fetchLive runs the fetch in the background and feeds its events into the
// live view. Quitting the view cancels the fetch.
func fetchLive(cmd *cobra.Command, path string, opts []chunked.Option) (*chunked.Report, error) {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	p := tea.NewProgram(tui.New(target(), path, cancel),
		tea.WithAltScreen(),
		tea.WithInput(cmd.InOrStdin()),
		tea.WithOutput(cmd.OutOrStdout()),
	)

	// Console log lines would tear the alternate screen.
	opts = append(opts,
		chunked.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		chunked.WithObserver(tui.NewRelay(p.Send)),
	)
	done := make(chan fetchResult, 1)
	go func() {
		rep, err := chunked.New(opts...).Fetch(ctx, target(), path)
		p.Send(tui.Done(rep, err))
		done <- fetchResult{rep: rep, err: err}
	}()

	final, runErr := p.Run()
	cancel()
	res := <-done
	if m, ok := final.(tui.Model); ok && !m.Finished() {
		tel.Logger.Info("live view closed before the fetch finished", "chunks_shown", m.Chunks())
	}
	if runErr != nil {
		return res.rep, fmt.Errorf("live view: %w", runErr)
	}
	return res.rep, res.err
}

func init() {
	fetchCmd.Flags().BoolVar(&fetchTUI, "tui", false, "show chunks in a live terminal view")
	fetchCmd.Flags().BoolVar(&fetchChunks, "chunks", false, "list every chunk after the summary")
	rootCmd.AddCommand(fetchCmd)
}
