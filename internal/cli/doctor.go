package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/docs2md/internal/common"
	"github.com/joseph-ayodele/docs2md/internal/repository"
	"github.com/joseph-ayodele/docs2md/internal/runner"
)

// Tool is an external binary the pipeline shells out to.
type Tool struct {
	Name        string
	Binary      string
	VersionArgs []string
}

type ToolStatus struct {
	Tool
	Path    string
	Version string
	Err     error
}

func (s ToolStatus) OK() bool { return s.Err == nil }

func toolsFrom(cfg *common.Config) []Tool {
	return []Tool{
		{Name: "ocrmypdf", Binary: cfg.Tools.OCRmyPDF, VersionArgs: []string{"--version"}},
		{Name: "tesseract", Binary: "tesseract", VersionArgs: []string{"--version"}},
		{Name: "img2pdf", Binary: cfg.Tools.Img2PDF, VersionArgs: []string{"--version"}},
		{Name: "libreoffice", Binary: cfg.Tools.LibreOffice, VersionArgs: []string{"--version"}},
		{Name: "pdftotext", Binary: cfg.Tools.Pdftotext, VersionArgs: []string{"-v"}},
		{Name: "pdfinfo", Binary: cfg.Tools.Pdfinfo, VersionArgs: []string{"-v"}},
	}
}

func newDoctorCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check that every external tool is installed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			statuses := checkTools(cmd.Context(), runner.New(), exec.LookPath, toolsFrom(a.cfg), a.logger)
			statuses = append(statuses, checkStore(cmd.Context(), a.cfg.Storage, a.logger))
			renderTools(a.stdout, statuses)
			missing := 0
			for _, s := range statuses {
				if !s.OK() {
					missing++
				}
			}
			if missing > 0 {
				return &ExitError{Code: 1, Msg: fmt.Sprintf("%d tool(s) unavailable", missing)}
			}
			return nil
		},
	}
}

// checkTools resolves each binary on PATH and records its version line.
func checkTools(ctx context.Context, r runner.Runner, lookPath func(string) (string, error), tools []Tool, logger *slog.Logger) []ToolStatus {
	out := make([]ToolStatus, len(tools))
	for i, t := range tools {
		st := ToolStatus{Tool: t}
		path, err := lookPath(t.Binary)
		if err != nil {
			st.Err = fmt.Errorf("not found on PATH: %w", err)
			out[i] = st
			continue
		}
		st.Path = path

		vctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		stdout, stderr, err := r.Run(vctx, path, logger, t.VersionArgs...)
		cancel()
		st.Version = firstLine(stdout)
		if st.Version == "" {
			st.Version = firstLine(stderr)
		}
		if err != nil && st.Version == "" {
			st.Err = fmt.Errorf("version check failed: %s", runner.Diagnostic(stderr, err))
		}
		out[i] = st
	}
	return out
}

// checkStore opens and pings the configured artifact store. The sqlite file
// is only pinged: opening it as a repository would clear a running server's
// artifacts.
func checkStore(ctx context.Context, cfg common.StorageConfig, logger *slog.Logger) ToolStatus {
	backend := cfg.ArtifactBackend
	if backend == "" {
		backend = "memory"
	}
	st := ToolStatus{Tool: Tool{Name: "artifact store", Binary: backend}, Path: backend}
	if backend == "sqlite" {
		st.Path = cfg.SQLitePath
		db, err := repository.Open(ctx, repository.Config{Path: cfg.SQLitePath}, logger)
		if err != nil {
			st.Err = fmt.Errorf("open %s store: %w", backend, err)
			return st
		}
		repository.Close(db, logger)
		st.Version = backend + " ok"
		return st
	}
	arts, err := repository.NewArtifactRepository(ctx, cfg, logger)
	if err != nil {
		st.Err = fmt.Errorf("open %s store: %w", backend, err)
		return st
	}
	if err := arts.Close(); err != nil {
		logger.Warn("failed to close artifact store", "error", err)
	}
	st.Version = backend + " ok"
	return st
}

func firstLine(b []byte) string {
	for _, line := range strings.Split(string(b), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}

func renderTools(w io.Writer, statuses []ToolStatus) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Tool", "Status", "Path", "Version"})
	table.SetBorder(true)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, s := range statuses {
		status := color.GreenString("OK")
		detail := s.Version
		if !s.OK() {
			status = color.RedString("MISSING")
			detail = s.Err.Error()
		}
		table.Append([]string{s.Name, status, s.Path, detail})
	}
	table.Render()
}
