package model

import "whisperx-api/internal/transcript"

// ErrorResponse is the error body for every failed request.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

type RootResponse struct {
	Status   string   `json:"status"`
	Service  string   `json:"service"`
	Device   string   `json:"device"`
	Model    string   `json:"model"`
	Features []string `json:"features"`
}

type HealthResponse struct {
	Status               string `json:"status"`
	CUDAAvailable        bool   `json:"cuda_available"`
	Device               string `json:"device"`
	ModelLoaded          bool   `json:"model_loaded"`
	DiarizationAvailable bool   `json:"diarization_available"`
}

// TranscriptionResponse omits word_segments unless alignment was requested
// and diarization unless it ran. An empty, non-nil slice is still emitted.
type TranscriptionResponse struct {
	Text         string               `json:"text"`
	Segments     []transcript.Segment `json:"segments"`
	WordSegments []transcript.Word    `json:"word_segments,omitzero"`
	Diarization  []transcript.Segment `json:"diarization,omitzero"`
	Language     string               `json:"language"`
}

const (
	BatchStatusSuccess = "success"
	BatchStatusError   = "error"
)

type BatchResult struct {
	Filename string                 `json:"filename"`
	Status   string                 `json:"status"`
	Result   *TranscriptionResponse `json:"result,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

type BatchResponse struct {
	Results []BatchResult `json:"results"`
}
