// Package cli wires the docs2md commands.
package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/docs2md/internal/common"
)

// ExitError carries a process exit code out of a command.
type ExitError struct {
	Code int
	Msg  string
}

func (e *ExitError) Error() string { return e.Msg }

type app struct {
	cfgPath   string
	logLevel  string
	logFormat string

	cfg    *common.Config
	logger *slog.Logger
	stdout io.Writer
	stderr io.Writer
}

// NewRootCommand builds the command tree writing to the given streams.
func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:           "docs2md",
		Short:         "Batch OCR and Markdown conversion for documents",
		Long:          `docs2md turns PDFs, scans, images and office documents into OCR-searchable PDFs and sanitized Markdown.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "version" {
				return nil
			}
			return a.init(cmd)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgPath, "config", "", "config file (default: ./docs2md.yaml if present)")
	pf.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&a.logFormat, "log-format", "", "log format: text or json")

	root.AddCommand(
		newServeCommand(a),
		newConvertCommand(a),
		newDoctorCommand(a),
		newWatchCommand(a),
	)
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	cfg, err := common.LoadConfig(a.cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = a.logLevel
	}
	if cmd.Flags().Changed("log-format") {
		cfg.Log.Format = a.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := NewLogger(cfg.Log, a.stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	// ocrmypdf hands this straight to tesseract
	if cfg.OCR.TessdataDir != "" {
		if err := os.Setenv("TESSDATA_PREFIX", cfg.OCR.TessdataDir); err != nil {
			return fmt.Errorf("set TESSDATA_PREFIX: %w", err)
		}
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	root := NewRootCommand(os.Stdout, os.Stderr)
	if err := root.Execute(); err != nil {
		var exit *ExitError
		if errors.As(err, &exit) {
			if exit.Msg != "" {
				fmt.Fprintln(os.Stderr, exit.Msg)
			}
			return exit.Code
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}
