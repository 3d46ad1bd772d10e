package pipeline

// Outcome records how a stage ended. Alignment may degrade; diarization
// either succeeds or fails the request.
type Outcome int

const (
	Skipped Outcome = iota
	Succeeded
	Degraded
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case Degraded:
		return "degraded"
	case Failed:
		return "failed"
	default:
		return "skipped"
	}
}
