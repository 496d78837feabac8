package tui

import (
	"strings"

	"github.com/charmbracelet/glamour"
)

// renderMarkdown formats advice text, which the model returns as Markdown.
func renderMarkdown(input string, width int) (string, error) {
	if strings.TrimSpace(input) == "" {
		return "", nil
	}
	if width <= 0 {
		width = 80
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithWordWrap(width),
		glamour.WithStandardStyle("dark"),
	)
	if err != nil {
		return "", err
	}
	out, err := renderer.Render(input)
	if err != nil {
		return "", err
	}
	return strings.Trim(out, "\n"), nil
}

// RenderAdvice formats advice text for a terminal, falling back to the raw
// text when it cannot be rendered.
func RenderAdvice(text string, width int) string {
	out, err := renderMarkdown(text, width)
	if err != nil || out == "" {
		return text
	}
	return out
}
