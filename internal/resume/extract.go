// Package resume locates resume documents embedded in free-form assistant replies.
//
// The assistant wraps a complete resume between two literal marker lines. Marker matching is exact
// and case-sensitive; a resume whose text itself contains a marker cannot be extracted correctly.
package resume

import (
	"strings"
)

// Markers delimiting an embedded resume.
const (
	StartMarker = "===RESUME_START==="
	EndMarker   = "===RESUME_END==="
)

// Display placeholders substituted for embedded resumes.
const (
	SavedPlaceholder    = "*(简历内容已更新到右侧面板)*"
	DraftingPlaceholder = "*(正在生成简历...)*"
)

// Extract returns the trimmed text between the first start marker and the first end marker of
// transcript. It reports false when either marker is missing or the end marker does not come after
// the start marker. Only the first block is considered.
func Extract(transcript string) (string, bool) {
	start := strings.Index(transcript, StartMarker)
	if start == -1 {
		return "", false
	}
	end := strings.Index(transcript, EndMarker)
	if end == -1 || end <= start {
		return "", false
	}

	body := transcript[start+len(StartMarker) : max(end, start+len(StartMarker))]
	return strings.TrimSpace(body), true
}

// Redact replaces every complete start/end block in transcript with placeholder, pairing each start
// marker with the nearest end marker after it. An unterminated block is left as is.
func Redact(transcript, placeholder string) string {
	var sb strings.Builder
	rest := transcript
	for {
		start := strings.Index(rest, StartMarker)
		if start == -1 {
			break
		}
		end := strings.Index(rest[start+len(StartMarker):], EndMarker)
		if end == -1 {
			break
		}
		end += start + len(StartMarker)

		sb.WriteString(rest[:start])
		sb.WriteString(placeholder)
		rest = rest[end+len(EndMarker):]
	}
	sb.WriteString(rest)
	return sb.String()
}

var markerStripper = strings.NewReplacer(
	StartMarker+"\n", "",
	StartMarker, "",
	EndMarker+"\n", "",
	EndMarker, "",
)

// StripMarkers removes stray marker lines from a stored resume document before it is displayed,
// edited or exported. A line break right after a marker goes with it.
func StripMarkers(doc string) string {
	return markerStripper.Replace(doc)
}
