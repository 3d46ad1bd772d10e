// Package transcript holds the request-scoped results produced by the
// transcription, alignment and diarization stages.
package transcript

import "strings"

// Word is one aligned token. The aligner leaves Start, End and Score unset
// for tokens it cannot place (digits, symbols).
type Word struct {
	Word    string   `json:"word"`
	Start   *float64 `json:"start,omitempty"`
	End     *float64 `json:"end,omitempty"`
	Score   *float64 `json:"score,omitempty"`
	Speaker string   `json:"speaker,omitempty"`
}

func (w Word) timed() bool {
	return w.Start != nil && w.End != nil
}

type Segment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
	Words   []Word  `json:"words,omitempty"`
	Speaker string  `json:"speaker,omitempty"`
}

// Result is the output of the transcription stage.
type Result struct {
	Language string
	Text     string
	Segments []Segment
}

// Alignment is the output of the alignment stage.
type Alignment struct {
	Segments     []Segment `json:"segments"`
	WordSegments []Word    `json:"word_segments"`
}

// SpeakerTurn is one span of diarization output.
type SpeakerTurn struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
}

// JoinText concatenates trimmed segment texts with single spaces.
func JoinText(segments []Segment) string {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		parts = append(parts, strings.TrimSpace(seg.Text))
	}
	return strings.Join(parts, " ")
}

// Speakers returns the distinct speaker labels on segments, in first-seen order.
func Speakers(segments []Segment) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, seg := range segments {
		if seg.Speaker == "" {
			continue
		}
		if _, ok := seen[seg.Speaker]; ok {
			continue
		}
		seen[seg.Speaker] = struct{}{}
		out = append(out, seg.Speaker)
	}
	return out
}

func Float(v float64) *float64 { return &v }
