package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"golang.org/x/term"
)

// printReport summarizes a multi-file run. Single-file runs already printed
// their one line.
func printReport(results []fileResult, dryRun bool, elapsed time.Duration) {
	if len(results) <= 1 {
		return
	}

	committed, skipped, failed := 0, 0, 0
	var b strings.Builder
	b.WriteString("## Ingestion summary\n\n")
	b.WriteString("| File | Status | Detail |\n")
	b.WriteString("|------|--------|--------|\n")
	for _, r := range results {
		switch {
		case r.url != "":
			committed++
			fmt.Fprintf(&b, "| %s | committed | %s |\n", r.name, r.url)
		case r.skipped:
			skipped++
			detail := ""
			if r.err != nil {
				detail = r.err.Error()
			}
			fmt.Fprintf(&b, "| %s | skipped | %s |\n", r.name, detail)
		default:
			failed++
			fmt.Fprintf(&b, "| %s | failed | %v |\n", r.name, r.err)
		}
	}
	fmt.Fprintf(&b, "\n**%d committed, %d skipped, %d failed** in %s",
		committed, skipped, failed, elapsed.Truncate(10*time.Millisecond))
	if dryRun {
		b.WriteString(" _(dry run; nothing persisted)_")
	}
	b.WriteString("\n")

	fmt.Print(renderMarkdown(b.String()))
}

// renderMarkdown renders a summary for the terminal, falling back to the
// raw markdown when no renderer can be built.
func renderMarkdown(content string) string {
	termWidth := 80
	if width, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && width > 0 {
		termWidth = width - 4
		if termWidth > 120 {
			termWidth = 120
		}
	}

	style := glamour.WithStandardStyle("dark")
	if !isTTY() {
		style = glamour.WithStandardStyle("notty")
	}

	renderer, err := glamour.NewTermRenderer(
		style,
		glamour.WithWordWrap(termWidth),
		glamour.WithEmoji(),
	)
	if err != nil {
		return content
	}
	rendered, err := renderer.Render(content)
	if err != nil {
		return content
	}
	return rendered
}
