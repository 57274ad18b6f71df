// Package export materializes transcripts into download formats and
// dispatches export requests to external destinations.
package export

import (
	"fmt"
	"strings"

	"scribeflow/internal/models"
)

// Format names accepted by the download and export endpoints.
const (
	FormatTXT = "txt"
	FormatMD  = "md"
	FormatSRT = "srt"
)

// ValidFormat reports whether name is a supported format.
func ValidFormat(name string) bool {
	switch name {
	case FormatTXT, FormatMD, FormatSRT:
		return true
	}
	return false
}

// Render materializes a job's transcript in the requested format.
func Render(format string, job *models.Job, transcript string) (string, error) {
	switch format {
	case FormatTXT:
		return transcript, nil
	case FormatMD:
		return renderMarkdown(job, transcript), nil
	case FormatSRT:
		return renderSRT(job.Segments), nil
	default:
		return "", fmt.Errorf("export: unsupported format %q", format)
	}
}

func renderMarkdown(job *models.Job, transcript string) string {
	title := job.Title
	if title == "" {
		title = "Transcript " + job.ID
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "- Idioma: %s\n", job.Language)
	fmt.Fprintf(&b, "- Perfil: %s\n\n", job.QualityProfile)
	b.WriteString(transcript)
	return b.String()
}

// renderSRT emits standard SubRip: 1-based sequential indices, comma
// millisecond separators.
func renderSRT(segments models.SegmentList) string {
	var b strings.Builder
	for i, seg := range segments {
		fmt.Fprintf(&b, "%d\n", i+1)
		fmt.Fprintf(&b, "%s --> %s\n", srtTimestamp(seg.Start), srtTimestamp(seg.End))
		b.WriteString(strings.TrimSpace(seg.Text))
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

func srtTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	millis := int(seconds*1000 + 0.5)
	h := millis / 3600000
	millis -= h * 3600000
	m := millis / 60000
	millis -= m * 60000
	s := millis / 1000
	ms := millis % 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}
