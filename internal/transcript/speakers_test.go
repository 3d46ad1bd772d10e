package transcript

import "testing"

func TestAssignSpeakersPicksLongestOverlap(t *testing.T) {
	turns := []SpeakerTurn{
		{Start: 0, End: 2.5, Speaker: "SPEAKER_00"},
		{Start: 2.5, End: 6, Speaker: "SPEAKER_01"},
	}
	segments := []Segment{
		{Start: 0, End: 3, Text: "hello there", Words: []Word{
			{Word: "hello", Start: Float(0.1), End: Float(0.6)},
			{Word: "there", Start: Float(2.6), End: Float(2.9)},
			{Word: "42"},
		}},
		{Start: 3.2, End: 5.5, Text: "general"},
	}

	got, _ := AssignSpeakers(turns, segments, nil)

	if got[0].Speaker != "SPEAKER_00" {
		t.Fatalf("segment 0 speaker = %q", got[0].Speaker)
	}
	if got[1].Speaker != "SPEAKER_01" {
		t.Fatalf("segment 1 speaker = %q", got[1].Speaker)
	}
	if got[0].Words[0].Speaker != "SPEAKER_00" || got[0].Words[1].Speaker != "SPEAKER_01" {
		t.Fatalf("unexpected word speakers: %+v", got[0].Words)
	}
	if got[0].Words[2].Speaker != "SPEAKER_00" {
		t.Fatalf("untimed word should take the segment speaker: %+v", got[0].Words[2])
	}
	if segments[0].Speaker != "" || segments[0].Words[0].Speaker != "" {
		t.Fatal("input segments were modified")
	}
}

func TestAssignSpeakersFallsBackToNearestTurn(t *testing.T) {
	turns := []SpeakerTurn{
		{Start: 0, End: 1, Speaker: "A"},
		{Start: 10, End: 12, Speaker: "B"},
	}
	segments := []Segment{{Start: 8, End: 9, Text: "gap"}}

	got, words := AssignSpeakers(turns, segments, []Word{{Word: "gap", Start: Float(1.2), End: Float(1.4)}})
	if got[0].Speaker != "B" {
		t.Fatalf("expected nearest speaker B, got %q", got[0].Speaker)
	}
	if words[0].Speaker != "A" {
		t.Fatalf("expected nearest speaker A for word, got %q", words[0].Speaker)
	}
}

func TestAssignSpeakersWithoutTurnsLeavesLabelsEmpty(t *testing.T) {
	got, words := AssignSpeakers(nil, []Segment{{Start: 0, End: 1}}, nil)
	if got[0].Speaker != "" {
		t.Fatalf("unexpected speaker: %q", got[0].Speaker)
	}
	if words != nil {
		t.Fatalf("expected nil words, got %+v", words)
	}
}

func TestJoinText(t *testing.T) {
	got := JoinText([]Segment{{Text: " Hello"}, {Text: "world. "}})
	if got != "Hello world." {
		t.Fatalf("JoinText() = %q", got)
	}
}
