package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/chrono-crank/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagRPCURL     string
	flagKeypair    string
	flagJSON       bool
	flagVerbose    bool
	flagDebug      bool
	flagQuiet      bool
)

// skipConfigAnnotation marks commands that must run without a loadable
// config file, such as "config init".
const skipConfigAnnotation = "skip-config"

// logFilePermissions keeps log files private; they can contain RPC endpoints.
const logFilePermissions = 0o600

// CLIFlags is a snapshot of the global flags taken at pre-run time.
type CLIFlags struct {
	ConfigPath string
	JSON       bool
	Verbose    bool
	Debug      bool
	Quiet      bool
}

// CLIContext carries per-invocation state from PersistentPreRunE to the
// command handlers through cmd.Context().
type CLIContext struct {
	Flags  CLIFlags
	Logger *slog.Logger
	// Level backs Logger so a config reload can change verbosity in place.
	Level *slog.LevelVar
	// Cfg is nil for commands annotated with skipConfigAnnotation.
	Cfg *config.Resolved

	closeLog func() error
}

type cliContextKey struct{}

// mustCLIContext returns the CLIContext stored by PersistentPreRunE. A missing
// context is a programming error.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok || cc == nil {
		panic("cli context not initialized: PersistentPreRunE did not run")
	}

	return cc
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chrono-crank",
		Short: "Vault epoch update crank",
		Long: `Keep restaking vaults' per-epoch update state current.

Each tick reads every vault, operator delegation, and update state tracker
from the chain, then initializes, advances, or closes trackers so that every
vault completes its epoch update.`,
		Version: version,
		// Errors are printed by exitOnError.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cc := &CLIContext{
				Flags: CLIFlags{
					ConfigPath: flagConfigPath,
					JSON:       flagJSON,
					Verbose:    flagVerbose,
					Debug:      flagDebug,
					Quiet:      flagQuiet,
				},
				Logger: bootstrapLogger(),
			}

			if cmd.Annotations[skipConfigAnnotation] != "true" {
				resolved, err := loadConfig(cmd)
				if err != nil {
					return err
				}

				logger, level, closeLog, err := buildLogger(resolved)
				if err != nil {
					return err
				}

				cc.Cfg = resolved
				cc.Logger = logger
				cc.Level = level
				cc.closeLog = closeLog
			}

			cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey{}, cc))

			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			cc, ok := cmd.Context().Value(cliContextKey{}).(*CLIContext)
			if !ok || cc.closeLog == nil {
				return nil
			}

			return cc.closeLog()
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagRPCURL, "rpc-url", "", "RPC endpoint (overrides config)")
	cmd.PersistentFlags().StringVar(&flagKeypair, "keypair", "", "fee payer keypair file (overrides config)")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable info logging")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "only log errors")
	cmd.MarkFlagsMutuallyExclusive("verbose", "debug", "quiet")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newPlanCmd())
	cmd.AddCommand(newTrackersCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newReloadCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// loadConfig resolves the effective configuration from the four-layer
// override chain.
func loadConfig(cmd *cobra.Command) (*config.Resolved, error) {
	cli := config.CLIOverrides{
		ConfigPath: flagConfigPath,
		RPCURL:     flagRPCURL,
		Keypair:    flagKeypair,
	}

	// Only commands that define --dry-run can set it, and only when given.
	if f := cmd.Flags().Lookup("dry-run"); f != nil && f.Changed {
		dryRun, err := cmd.Flags().GetBool("dry-run")
		if err != nil {
			return nil, fmt.Errorf("reading --dry-run: %w", err)
		}

		cli.DryRun = &dryRun
	}

	resolved, err := config.Resolve(config.ReadEnvOverrides(), cli)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	return resolved, nil
}

// flagLogLevel returns the level forced by --verbose, --debug, or --quiet.
func flagLogLevel() (slog.Level, bool) {
	switch {
	case flagDebug:
		return slog.LevelDebug, true
	case flagVerbose:
		return slog.LevelInfo, true
	case flagQuiet:
		return slog.LevelError, true
	default:
		return 0, false
	}
}

// parseLogLevel maps a validated config level name to a slog.Level.
func parseLogLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

// effectiveLogLevel is the config level unless a CLI flag overrides it.
// Without config the baseline is Warn.
func effectiveLogLevel(cfg *config.Resolved) slog.Level {
	if level, ok := flagLogLevel(); ok {
		return level
	}

	if cfg == nil {
		return slog.LevelWarn
	}

	return parseLogLevel(cfg.Logging.LogLevel)
}

// bootstrapLogger is used before config is loaded. It honors only the CLI
// verbosity flags and writes text to stderr.
func bootstrapLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: effectiveLogLevel(nil)}))
}

// buildLogger creates the command logger from the resolved config and CLI
// flags. The returned LevelVar lets a reload adjust verbosity; the close
// function releases the log file, if any.
func buildLogger(cfg *config.Resolved) (*slog.Logger, *slog.LevelVar, func() error, error) {
	level := new(slog.LevelVar)
	level.Set(effectiveLogLevel(cfg))

	out := os.Stderr
	closeLog := func() error { return nil }

	var format string

	if cfg != nil {
		format = cfg.Logging.LogFormat

		if cfg.Logging.LogFile != "" {
			f, err := os.OpenFile(cfg.Logging.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermissions)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("opening log file: %w", err)
			}

			out = f
			closeLog = f.Close
		}
	}

	terminal := isatty.IsTerminal(out.Fd()) || isatty.IsCygwinTerminal(out.Fd())

	return slog.New(newLogHandler(out, format, terminal, level)), level, closeLog, nil
}

// newLogHandler picks the handler for a log_format value. "auto" (or empty)
// means text for terminals and JSON otherwise.
func newLogHandler(w io.Writer, format string, terminal bool, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	switch format {
	case "json":
		return slog.NewJSONHandler(w, opts)
	case "text":
		return slog.NewTextHandler(w, opts)
	default:
		if terminal {
			return slog.NewTextHandler(w, opts)
		}

		return slog.NewJSONHandler(w, opts)
	}
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
