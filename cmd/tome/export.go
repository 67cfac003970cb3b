package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tomeworks/tome/pkg/compile"
	"github.com/tomeworks/tome/pkg/store"
)

func newExportCmd(opts *rootOptions) *cobra.Command {
	var format, outDir string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the most recent session's report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			switch format {
			case "all", "markdown", "html", "pdf":
			default:
				return fmt.Errorf("unknown format %q (want all, markdown, html, or pdf)", format)
			}

			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			setupLogging(cfg.Logging, true)

			st, err := store.Open(cfg.Database.Path)
			if err != nil {
				return err
			}
			defer st.Close()

			session, err := st.LatestSession(cmd.Context())
			if err != nil {
				return fmt.Errorf("no session to export: %w", err)
			}
			if session.MarkdownPath == "" {
				return fmt.Errorf("session %d has no compiled report", session.ID)
			}
			markdown, err := os.ReadFile(session.MarkdownPath)
			if err != nil {
				return fmt.Errorf("failed to read report: %w", err)
			}

			if outDir == "" {
				outDir = cfg.Output.Directory
			}
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return err
			}
			base := filepath.Join(outDir, fmt.Sprintf("report_%d", session.ID))

			if format == "all" || format == "markdown" {
				path := base + ".md"
				if err := os.WriteFile(path, markdown, 0o644); err != nil {
					return err
				}
				fmt.Println("Wrote", path)
			}

			var htmlPath string
			if format == "all" || format == "html" || format == "pdf" {
				html, err := compile.RenderHTML(string(markdown))
				if err != nil {
					return err
				}
				htmlPath = base + ".html"
				if err := os.WriteFile(htmlPath, []byte(html), 0o644); err != nil {
					return err
				}
				if format != "pdf" {
					fmt.Println("Wrote", htmlPath)
				}
			}

			if format == "all" || format == "pdf" {
				if err := exportPDF(htmlPath, base+".pdf"); err != nil {
					if format == "pdf" {
						return err
					}
					color.Yellow("Skipping PDF: %v", err)
				} else {
					fmt.Println("Wrote", base+".pdf")
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "all", "export format: all, markdown, html, or pdf")
	cmd.Flags().StringVar(&outDir, "output", "", "output directory (defaults to output.directory)")
	return cmd
}

// exportPDF shells out to wkhtmltopdf, the least-bad portable route to PDF.
func exportPDF(htmlPath, pdfPath string) error {
	bin, err := exec.LookPath("wkhtmltopdf")
	if err != nil {
		return fmt.Errorf("pdf export requires wkhtmltopdf on PATH")
	}
	out, err := exec.Command(bin, htmlPath, pdfPath).CombinedOutput()
	if err != nil {
		return fmt.Errorf("wkhtmltopdf failed: %v: %s", err, out)
	}
	return nil
}
