package models

import (
	"strings"
	"time"
)

// DefaultGuideTitle is the title of a guide that was never renamed.
const DefaultGuideTitle = "面试指导"

const guideSeparator = "\n\n---\n\n"

// Guide is the interview preparation document kept for a job: a single markdown text the user edits
// directly or appends excerpts to.
type Guide struct {
	JobID     int64     `json:"job_id"`
	Title     string    `json:"title,omitempty"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DisplayTitle returns the guide title, or the default title when none is set.
func (g Guide) DisplayTitle() string {
	if t := strings.TrimSpace(g.Title); t != "" {
		return t
	}
	return DefaultGuideTitle
}

// Append adds text as a dated excerpt at the end of the guide. Blank text leaves the guide unchanged
// and reports false.
func (g Guide) Append(text string, ts time.Time) (Guide, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return g, false
	}

	var sb strings.Builder
	sb.WriteString(g.Content)
	if g.Content != "" {
		sb.WriteString(guideSeparator)
	}
	sb.WriteString("## 摘录 · ")
	sb.WriteString(ts.Format("2006/1/2 15:04:05"))
	sb.WriteString("\n\n")
	sb.WriteString(text)

	g.Content = sb.String()
	g.UpdatedAt = ts
	return g, true
}
