package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/willibrandon/composer-prefetch/cmd/composer-prefetch/output"
	"github.com/willibrandon/composer-prefetch/observability"
)

// Globals holds the persistent flags and what is built from them.
type Globals struct {
	WorkingDir  string
	Verbosity   string
	MetricsAddr string
	Trace       string
	OTLPAddr    string

	logger observability.Logger
	tp     *sdktrace.TracerProvider
}

// Options is filled from the persistent flags before a command runs.
var Options = &Globals{}

// Console is the global console for CLI commands
var Console *output.Console

var rootCmd = &cobra.Command{
	Use:   "composer-prefetch",
	Short: "Parallel metadata and archive prefetcher for Composer projects",
	Long: `composer-prefetch warms the Composer repository and dist caches of a
project in parallel, so a following composer install or update finds
everything it needs on disk.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return Options.setup(cmd.Context())
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return Options.shutdown(cmd.Context())
	},
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

// Execute runs the root command
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	Console = output.DefaultConsole()

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&Options.WorkingDir, "working-dir", "d", ".", "Project directory containing composer.json")
	flags.StringVar(&Options.Verbosity, "verbosity", "normal", "Display verbosity (quiet, normal, detailed, diagnostic)")
	flags.StringVar(&Options.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	flags.StringVar(&Options.Trace, "trace", "none", "Trace exporter: none, stdout or otlp")
	flags.StringVar(&Options.OTLPAddr, "otlp-endpoint", "localhost:4317", "OTLP collector endpoint for --trace=otlp")
}

// AddCommand adds a command to the root command
func AddCommand(cmd *cobra.Command) {
	rootCmd.AddCommand(cmd)
}

// SetupVersion configures version information after variables are set
func SetupVersion() {
	rootCmd.SetVersionTemplate(GetFullVersion() + "\n")
	rootCmd.Version = GetVersion()
}

// Logger returns the logger for the configured verbosity. Commands run
// without the root command get a null logger.
func (g *Globals) Logger() observability.Logger {
	if g.logger == nil {
		return observability.NewNullLogger()
	}
	return g.logger
}

func (g *Globals) setup(ctx context.Context) error {
	Console.SetVerbosity(output.ParseVerbosity(g.Verbosity))
	g.logger = observability.NewLogger(os.Stderr, observability.ParseLevel(g.Verbosity))

	if g.MetricsAddr != "" {
		go func() {
			if err := observability.StartMetricsServer(g.MetricsAddr); err != nil {
				g.logger.Warn("Metrics server stopped: {Error}", err)
			}
		}()
	}

	if g.Trace != "" && g.Trace != "none" {
		cfg := observability.DefaultTracerConfig()
		cfg.ExporterType = g.Trace
		cfg.OTLPEndpoint = g.OTLPAddr
		tp, err := observability.SetupTracing(ctx, cfg)
		if err != nil {
			return err
		}
		g.tp = tp
	}
	return nil
}

func (g *Globals) shutdown(ctx context.Context) error {
	if g.tp == nil {
		return nil
	}
	tp := g.tp
	g.tp = nil
	return observability.ShutdownTracing(ctx, tp)
}
