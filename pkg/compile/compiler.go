// Package compile assembles the final report: global citation remapping,
// executive summary and conclusion, glossary and sources sections, and the
// markdown and HTML artifacts on disk.
package compile

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	goldmarkhtml "github.com/yuin/goldmark/renderer/html"

	"github.com/tomeworks/tome/pkg/config"
	"github.com/tomeworks/tome/pkg/ledger"
	"github.com/tomeworks/tome/pkg/models"
	"github.com/tomeworks/tome/pkg/store"
	"github.com/tomeworks/tome/pkg/synthesis"
)

// Compiler builds report artifacts for a session.
type Compiler struct {
	cfg    *config.Config
	store  *store.Store
	ledger *ledger.Ledger
	synth  *synthesis.Stage
	logger *slog.Logger
}

// New builds the compiler. synth may be nil only for emergency compiles,
// which skip summary generation.
func New(cfg *config.Config, st *store.Store, led *ledger.Ledger, synth *synthesis.Stage) *Compiler {
	return &Compiler{
		cfg:    cfg,
		store:  st,
		ledger: led,
		synth:  synth,
		logger: slog.With("component", "compile"),
	}
}

// Result describes the written artifacts.
type Result struct {
	MarkdownPath string
	HTMLPath     string
	SourceCount  int
}

// Compile produces the full report: summaries in parallel, sections in
// position order with citations remapped globally, glossary and sources
// appended, artifacts written and recorded on the session.
func (c *Compiler) Compile(ctx context.Context, session *models.Session) (*Result, error) {
	sections, err := c.store.ListSections(ctx, session.ID)
	if err != nil {
		return nil, err
	}

	contents, globals, err := c.remapAll(ctx, sections)
	if err != nil {
		return nil, err
	}

	summaries, err := c.synth.ProduceSummaries(ctx, session, sections)
	if err != nil {
		return nil, err
	}
	if err := c.store.SetSessionSummary(ctx, session.ID,
		summaries.ExecutiveSummary, summaries.Conclusion); err != nil {
		return nil, err
	}

	markdown := c.renderMarkdown(ctx, session, sections, contents, globals, summaries)
	return c.writeArtifacts(ctx, session, markdown, len(globals))
}

// EmergencyCompile writes whatever content exists after a phase failure. It
// never returns an error to the caller; failures come back as a message.
func (c *Compiler) EmergencyCompile(ctx context.Context, session *models.Session) (result *Result, errMsg string) {
	defer func() {
		if r := recover(); r != nil {
			result, errMsg = nil, fmt.Sprintf("emergency compile panicked: %v", r)
		}
	}()

	sections, err := c.store.ListSections(ctx, session.ID)
	if err != nil {
		return nil, fmt.Sprintf("failed to list sections: %v", err)
	}

	contents, globals, err := c.remapAll(ctx, sections)
	if err != nil {
		// Fall back to unmapped content rather than nothing.
		c.logger.Warn("Emergency compile falling back to unmapped citations", "error", err)
		contents = map[int64]string{}
		for _, sec := range sections {
			contents[sec.ID] = sec.SynthesizedContent
		}
		globals = nil
	}

	summaries := &synthesis.Summaries{
		ExecutiveSummary: session.ExecutiveSummary,
		Conclusion:       session.Conclusion,
	}
	markdown := c.renderMarkdown(ctx, session, sections, contents, globals, summaries)
	out, err := c.writeArtifacts(ctx, session, markdown, len(globals))
	if err != nil {
		return nil, fmt.Sprintf("failed to write artifacts: %v", err)
	}
	return out, ""
}

func (c *Compiler) renderMarkdown(ctx context.Context, session *models.Session,
	sections []*models.Section, contents map[int64]string,
	globals []globalSource, summaries *synthesis.Summaries) string {

	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", reportTitle(session))
	fmt.Fprintf(&sb, "*Generated %s*\n\n", time.Now().Format("2006-01-02"))

	if summaries.ExecutiveSummary != "" {
		sb.WriteString("## Executive Summary\n\n")
		sb.WriteString(summaries.ExecutiveSummary)
		sb.WriteString("\n\n")
	}

	for _, sec := range sections {
		content := contents[sec.ID]
		if content == "" {
			continue
		}
		fmt.Fprintf(&sb, "## %s\n\n%s\n\n", sec.Title, content)
	}

	if summaries.Conclusion != "" {
		sb.WriteString("## Conclusion\n\n")
		sb.WriteString(summaries.Conclusion)
		sb.WriteString("\n\n")
	}

	if terms, err := c.store.ListGlossaryTerms(ctx, session.ID); err == nil && len(terms) > 0 {
		sb.WriteString("## Glossary\n\n")
		for _, term := range terms {
			fmt.Fprintf(&sb, "- **%s** — %s\n", term.Term, term.Definition)
		}
		sb.WriteString("\n")
	}

	if len(globals) > 0 {
		sb.WriteString("## Sources\n\n")
		for _, g := range globals {
			flag := ""
			if g.Source.IsAcademic {
				flag = " *(academic)*"
			}
			title := g.Source.Title
			if title == "" {
				title = g.Source.URL
			}
			fmt.Fprintf(&sb, "%d. [%s](%s) — %s%s\n",
				g.Number, title, g.Source.URL, g.Source.Domain, flag)
		}
	}
	return sb.String()
}

func (c *Compiler) writeArtifacts(ctx context.Context, session *models.Session,
	markdown string, sourceCount int) (*Result, error) {

	dir := c.cfg.Output.Directory
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	base := fmt.Sprintf("report_%d", session.ID)
	mdPath := filepath.Join(dir, base+".md")
	if err := os.WriteFile(mdPath, []byte(markdown), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write markdown artifact: %w", err)
	}

	htmlBody, err := RenderHTML(markdown)
	if err != nil {
		return nil, err
	}
	htmlPath := filepath.Join(dir, base+".html")
	if err := os.WriteFile(htmlPath, []byte(htmlBody), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write html artifact: %w", err)
	}

	if err := c.store.SetSessionArtifacts(ctx, session.ID, mdPath, htmlPath); err != nil {
		return nil, err
	}

	c.logger.Info("Report artifacts written",
		"markdown", mdPath, "html", htmlPath, "sources", sourceCount)
	return &Result{MarkdownPath: mdPath, HTMLPath: htmlPath, SourceCount: sourceCount}, nil
}

var markdownRenderer = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(goldmarkhtml.WithHardWraps()),
)

const htmlShell = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>%s</title>
<style>
body { max-width: 52rem; margin: 2rem auto; padding: 0 1rem;
       font-family: Georgia, serif; line-height: 1.6; color: #222; }
h1, h2 { font-family: Helvetica, Arial, sans-serif; }
a { color: #0645ad; }
</style>
</head>
<body>
%s</body>
</html>
`

// RenderHTML converts report markdown into a standalone HTML document.
func RenderHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := markdownRenderer.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("failed to render html: %w", err)
	}
	title := "Research Report"
	if i := strings.Index(markdown, "# "); i == 0 {
		if nl := strings.IndexByte(markdown, '\n'); nl > 2 {
			title = strings.TrimSpace(markdown[2:nl])
		}
	}
	return fmt.Sprintf(htmlShell, title, buf.String()), nil
}

func reportTitle(session *models.Session) string {
	if session.RefinedBrief != "" {
		if nl := strings.IndexByte(session.RefinedBrief, '\n'); nl > 0 {
			return strings.TrimSpace(session.RefinedBrief[:nl])
		}
	}
	return session.Query
}
