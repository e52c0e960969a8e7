// Package cmd provides the linkrel command line.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/adalundhe/linkrel/core/concept"
	"github.com/adalundhe/linkrel/core/config"
	coreerrors "github.com/adalundhe/linkrel/core/errors"
	"github.com/adalundhe/linkrel/core/storage"
	"github.com/adalundhe/linkrel/core/telemetry"
)

// ANSI color codes for terminal output. They are cleared when stdout is not
// a terminal.
var (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

// =============================================================================
// Global Flags
// =============================================================================

var (
	rootConfigPath string
	rootLogLevel   string
	rootLogFormat  string
	rootLang       string
	rootJSON       bool
	rootStats      bool
)

// app is built once per invocation by PersistentPreRunE.
var app struct {
	config    *config.Config
	logger    *slog.Logger
	telemetry *telemetry.Metrics
}

var rootCmd = &cobra.Command{
	Use:   "linkrel",
	Short: "Link-based semantic relatedness over Wikipedia graphs",
	Long: `linkrel scores how related two Wikipedia articles are from the link
structure of a language edition, and ranks the articles most related to a
query article or free text.

Configuration is read from .linkrel/config.yaml, the user config directory,
.linkrel/local/config.yaml, --config and LINKREL_* environment variables,
in that order.`,
	SilenceUsage:      true,
	PersistentPreRunE: setupApp,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&rootConfigPath, "config", "c", "", "Explicit configuration file")
	rootCmd.PersistentFlags().StringVar(&rootLogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&rootLogFormat, "log-format", "", "Log format (text, json)")
	rootCmd.PersistentFlags().StringVarP(&rootLang, "lang", "l", "", "Language edition (default: first configured)")
	rootCmd.PersistentFlags().BoolVar(&rootJSON, "json", false, "Output as JSON")
	rootCmd.PersistentFlags().BoolVar(&rootStats, "stats", false, "Print query metrics to stderr on exit")
}

// Execute runs the root command.
func Execute() error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		disableColor()
	}
	defer func() {
		if rootStats && app.telemetry != nil {
			_ = app.telemetry.WriteText(os.Stderr)
		}
	}()
	return rootCmd.Execute()
}

func disableColor() {
	colorReset, colorRed, colorGreen, colorYellow = "", "", "", ""
	colorCyan, colorGray, colorBold = "", "", ""
}

// =============================================================================
// Setup
// =============================================================================

func setupApp(cmd *cobra.Command, args []string) error {
	manager := config.NewManager(storage.ResolveDirs())
	if rootConfigPath != "" {
		manager.SetConfigPath(rootConfigPath)
	}
	if err := manager.Load(); err != nil {
		return err
	}

	overrides := &config.Config{}
	overrides.Logging.Level = rootLogLevel
	overrides.Logging.Format = rootLogFormat
	if err := manager.Apply(overrides); err != nil {
		return err
	}

	cfg := manager.Get()
	app.config = cfg
	app.logger = newLogger(cmd.ErrOrStderr(), cfg.Logging)
	app.telemetry = telemetry.New()
	slog.SetDefault(app.logger)
	return nil
}

func newLogger(w io.Writer, cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// language returns --lang, or the first configured language.
func language(cfg *config.Config) (concept.Language, error) {
	if rootLang == "" {
		langs := cfg.ParsedLanguages()
		if len(langs) == 0 {
			return "", coreerrors.Configuration("no languages configured", nil)
		}
		return langs[0], nil
	}
	lang, err := concept.ParseLanguage(rootLang)
	if err != nil {
		return "", coreerrors.InvalidInput("--lang: %v", err)
	}
	return lang, nil
}

// =============================================================================
// Output
// =============================================================================

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func header(w io.Writer, title string) {
	fmt.Fprintf(w, "%s%s%s%s\n", colorBold, colorCyan, title, colorReset)
	fmt.Fprintf(w, "%s%s%s\n", colorGray, strings.Repeat("-", 40), colorReset)
}

// commandContext cancels on interrupt.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return signalContext(ctx)
}
