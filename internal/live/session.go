package live

import (
	"math"
	"sync"
	"time"

	"scribeflow/internal/models"
)

// promotion thresholds shared by every session.
const (
	coveredEpsilon = 1e-3
	nearDuplicateWindow = 0.5
)

// recentText records an accepted hypothesis for short-window repetition
// counting.
type recentText struct {
	text  string
	start float64
}

// Session is the state of one live transcription. All mutation happens
// under mu; the manager serializes chunk, finalize, and discard through
// it.
type Session struct {
	ID       string
	OwnerID  uint
	Language string
	BeamSize int

	dir       string
	audioPath string

	createdAt    time.Time
	lastActivity time.Time

	chunkCount    int
	droppedChunks int

	segments     models.SegmentList
	lastText     string
	lastDuration float64
	lastTEnd     float64
	ring         *Ring
	recentTexts  []recentText
	recentCap    int

	mu sync.Mutex
}

// promote applies the acceptance gates to one decoded segment with
// absolute times, returning whether it joined the segment list.
//
// lastTEnd advances for every segment that is not already covered, even
// when a dedup gate then rejects it; that keeps the watermark
// monotonically non-decreasing across repeated hypotheses.
func (s *Session) promote(seg models.Segment, repeatWindow float64, repeatMax int) bool {
	if seg.Text == "" {
		return false
	}
	// Gate 1: already covered by previous windows.
	if seg.End <= s.lastTEnd+coveredEpsilon {
		return false
	}

	accept := true

	// Gate 2: near-identical repeat of the immediately previous segment.
	if n := len(s.segments); n > 0 {
		prev := s.segments[n-1]
		if prev.Text == seg.Text &&
			math.Abs(prev.Start-seg.Start) < nearDuplicateWindow &&
			math.Abs(prev.End-seg.End) < nearDuplicateWindow {
			accept = false
		}
	}

	// Gate 3: short-window repetition across recent hypotheses.
	if accept && repeatMax > 0 {
		repeats := 0
		for _, recent := range s.recentTexts {
			if recent.text == seg.Text && seg.Start-recent.start <= repeatWindow {
				repeats++
			}
		}
		if repeats >= repeatMax {
			accept = false
		}
	}

	if seg.End > s.lastTEnd {
		s.lastTEnd = seg.End
	}
	if !accept {
		return false
	}

	s.segments = append(s.segments, seg)
	s.recentTexts = append(s.recentTexts, recentText{text: seg.Text, start: seg.Start})
	if len(s.recentTexts) > s.recentCap {
		s.recentTexts = s.recentTexts[len(s.recentTexts)-s.recentCap:]
	}
	return true
}

// transcript joins the accepted segment texts.
func (s *Session) transcript() string {
	out := ""
	for i, seg := range s.segments {
		if i > 0 {
			out += " "
		}
		out += seg.Text
	}
	return out
}

// Snapshot is the state a live endpoint returns after each operation.
type Snapshot struct {
	SessionID     string             `json:"session_id"`
	Text          string             `json:"text"`
	Language      string             `json:"language,omitempty"`
	Duration      float64            `json:"duration"`
	ChunkCount    int                `json:"chunk_count"`
	DroppedChunks int                `json:"dropped_chunks"`
	Segments      models.SegmentList `json:"segments"`
	NewSegments   models.SegmentList `json:"new_segments"`
}

// snapshot must be called with the session lock held.
func (s *Session) snapshot(newSegments models.SegmentList) Snapshot {
	segments := make(models.SegmentList, len(s.segments))
	copy(segments, s.segments)
	if newSegments == nil {
		newSegments = models.SegmentList{}
	}
	return Snapshot{
		SessionID:     s.ID,
		Text:          s.lastText,
		Language:      s.Language,
		Duration:      s.lastDuration,
		ChunkCount:    s.chunkCount,
		DroppedChunks: s.droppedChunks,
		Segments:      segments,
		NewSegments:   newSegments,
	}
}
