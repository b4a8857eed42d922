package services

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/MegaGrindStone/resume-web-ui/internal/resume"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// Markdown renders assistant replies and resumes to HTML. Raw HTML in the source is not passed
// through.
type Markdown struct {
	md goldmark.Markdown
}

// NewMarkdown creates a Markdown renderer with GitHub flavored markdown and code highlighting.
func NewMarkdown() Markdown {
	return Markdown{
		md: goldmark.New(
			goldmark.WithExtensions(
				extension.GFM,
				highlighting.NewHighlighting(
					highlighting.WithStyle("github"),
				),
			),
			goldmark.WithRendererOptions(
				html.WithHardWraps(),
			),
		),
	}
}

// Render converts source to HTML.
func (m Markdown) Render(source string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := m.md.Convert([]byte(source), &buf); err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	// Raw HTML is omitted unless html.WithUnsafe is set, so the output is safe to embed.
	return template.HTML(buf.String()), nil
}

// RenderReply renders an assistant reply with its embedded resumes replaced by placeholder.
func (m Markdown) RenderReply(reply, placeholder string) (template.HTML, error) {
	return m.Render(resume.Redact(reply, placeholder))
}
