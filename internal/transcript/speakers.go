package transcript

import "math"

// AssignSpeakers labels segments and their timed words with the speaker whose
// turns overlap them longest. Spans that overlap no turn take the nearest
// turn's speaker, and untimed words inside a segment take the segment's.
// The inputs are not modified.
func AssignSpeakers(turns []SpeakerTurn, segments []Segment, words []Word) ([]Segment, []Word) {
	outSegments := make([]Segment, len(segments))
	for i, seg := range segments {
		if speaker := pickSpeaker(turns, seg.Start, seg.End); speaker != "" {
			seg.Speaker = speaker
		}
		seg.Words = assignWords(turns, seg.Words, seg.Speaker)
		outSegments[i] = seg
	}
	return outSegments, assignWords(turns, words, "")
}

func assignWords(turns []SpeakerTurn, words []Word, fallback string) []Word {
	if words == nil {
		return nil
	}
	out := make([]Word, len(words))
	for i, w := range words {
		speaker := fallback
		if w.timed() {
			speaker = pickSpeaker(turns, *w.Start, *w.End)
		}
		if speaker != "" {
			w.Speaker = speaker
		}
		out[i] = w
	}
	return out
}

func pickSpeaker(turns []SpeakerTurn, start, end float64) string {
	if len(turns) == 0 {
		return ""
	}

	overlap := make(map[string]float64)
	var order []string
	for _, turn := range turns {
		d := math.Min(turn.End, end) - math.Max(turn.Start, start)
		if d <= 0 {
			continue
		}
		if _, ok := overlap[turn.Speaker]; !ok {
			order = append(order, turn.Speaker)
		}
		overlap[turn.Speaker] += d
	}

	best := ""
	bestOverlap := 0.0
	for _, speaker := range order {
		if overlap[speaker] > bestOverlap {
			best, bestOverlap = speaker, overlap[speaker]
		}
	}
	if best != "" {
		return best
	}

	nearest := ""
	nearestGap := math.Inf(1)
	for _, turn := range turns {
		gap := math.Max(turn.Start-end, start-turn.End)
		if gap < nearestGap {
			nearest, nearestGap = turn.Speaker, gap
		}
	}
	return nearest
}
