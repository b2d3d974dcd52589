package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/strand-protocol/wireprobe/pkg/config"
	"github.com/strand-protocol/wireprobe/pkg/output"
	"github.com/strand-protocol/wireprobe/pkg/probe"
	"github.com/strand-protocol/wireprobe/pkg/telemetry"
	"github.com/strand-protocol/wireprobe/pkg/transport"
)

var (
	// Global flags
	cfgFile      string
	outputFormat string
	hostFlag     string
	portFlag     int
	logLevel     string
	otlpEndpoint string

	// Shared state set during PersistentPreRun
	cfg       *config.Config
	tel       *telemetry.Telemetry
	formatter output.Formatter
)

// rootCmd is the base command for wireprobe.
var rootCmd = &cobra.Command{
	Use:   "wireprobe",
	Short: "Probe an HTTP/1.1 server over raw TCP: slow sends and chunked reads",
	Long: `wireprobe exercises a server under test from the client side of a raw TCP
connection. "send" trickles a payload in small, delayed writes and can drop
the connection part-way through; "fetch" issues a minimal GET and decodes a
chunked transfer-coding response one chunk at a time as it arrives.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			path = config.DefaultPath()
		}
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		// Flags override env and file.
		flags := cmd.Flags()
		if hostFlag != "" {
			cfg.Host = hostFlag
		}
		if flags.Changed("port") {
			cfg.Port = portFlag
		}
		if outputFormat != "" {
			cfg.OutputFormat = outputFormat
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		if flags.Changed("otlp-endpoint") {
			cfg.Telemetry.OTLPEndpoint = otlpEndpoint
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		if !output.ValidFormat(cfg.OutputFormat) {
			return fmt.Errorf("unknown output format %q (want table, json or yaml)", cfg.OutputFormat)
		}

		tel, err = telemetry.Setup(cmd.Context(), telemetry.Config{
			ServiceName:  cfg.Telemetry.ServiceName,
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			Insecure:     cfg.Telemetry.Insecure,
			LogLevel:     cfg.LogLevel,
			LogFormat:    cfg.LogFormat,
		}, cmd.ErrOrStderr())
		if err != nil {
			return fmt.Errorf("failed to set up telemetry: %w", err)
		}
		slog.SetDefault(tel.Logger)

		formatter = output.NewFormatter(cfg.OutputFormat)
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return shutdownTelemetry(cmd.Context())
	},
}

// shutdownTelemetry logs the counter snapshot and flushes the providers. It
// is safe to call more than once.
func shutdownTelemetry(ctx context.Context) error {
	if tel == nil {
		return nil
	}
	t := tel
	tel = nil
	t.Logger.Debug("metrics", "counters", t.Metrics.GetMetrics())
	// The invocation context may already be cancelled by Ctrl+C.
	return t.Shutdown(context.WithoutCancel(ctx))
}

// Execute runs the root command and exits with the status matching the
// error, if any.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if serr := shutdownTelemetry(ctx); serr != nil {
		fmt.Fprintln(os.Stderr, "Warning: telemetry shutdown:", serr)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", describe(err))
		os.Exit(probe.ExitCode(err))
	}
}

// describe adds an operator hint to errors that have an obvious cause.
func describe(err error) string {
	var ce *probe.ConnectError
	if errors.As(err, &ce) {
		return fmt.Sprintf("could not connect to %s. Is the server running? (%v)", ce.Addr, ce.Err)
	}
	if probe.ExitCode(err) == probe.ExitInterrupted {
		return "interrupted"
	}
	return err.Error()
}

// RootCmd returns the root cobra.Command for testing purposes.
func RootCmd() *cobra.Command {
	return rootCmd
}

// target returns host:port of the server under test.
func target() string {
	return transport.Addr(cfg.Host, cfg.Port)
}

func dialer() *net.Dialer {
	return &net.Dialer{Timeout: cfg.DialTimeout}
}

// traceWriter keeps the live trace off stdout when stdout carries JSON or
// YAML.
func traceWriter(cmd *cobra.Command) io.Writer {
	if _, ok := formatter.(*output.TableFormatter); ok {
		return cmd.OutOrStdout()
	}
	return cmd.ErrOrStderr()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.wireprobe/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "", "output format: table, json, yaml (default \"table\")")
	rootCmd.PersistentFlags().StringVar(&hostFlag, "host", "", "server host (default \"127.0.0.1\")")
	rootCmd.PersistentFlags().IntVar(&portFlag, "port", 0, "server port (default 42069)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (default \"info\")")
	rootCmd.PersistentFlags().StringVar(&otlpEndpoint, "otlp-endpoint", "", "OTLP gRPC collector endpoint; empty disables export")
}
