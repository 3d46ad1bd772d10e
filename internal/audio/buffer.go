// Package audio turns an uploaded file into the mono 16 kHz PCM buffer every
// model stage consumes.
package audio

import (
	"bytes"
	"sync"
	"time"

	"github.com/youpy/go-wav"
)

const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16
)

// Buffer holds the decoded samples of one upload. It is owned by a single
// request and never shared across requests.
type Buffer struct {
	samples []int16

	wavOnce sync.Once
	wavData []byte
	wavErr  error
}

func NewBuffer(samples []int16) *Buffer {
	return &Buffer{samples: samples}
}

func (b *Buffer) Samples() []int16 { return b.samples }

func (b *Buffer) Len() int { return len(b.samples) }

func (b *Buffer) Duration() time.Duration {
	return time.Duration(len(b.samples)) * time.Second / SampleRate
}

// WAV encodes the buffer as 16-bit PCM WAV. The encoding is computed once.
func (b *Buffer) WAV() ([]byte, error) {
	b.wavOnce.Do(func() {
		var out bytes.Buffer
		w := wav.NewWriter(&out, uint32(len(b.samples)), Channels, SampleRate, BitsPerSample)
		samples := make([]wav.Sample, len(b.samples))
		for i, s := range b.samples {
			samples[i].Values[0] = int(s)
		}
		if err := w.WriteSamples(samples); err != nil {
			b.wavErr = err
			return
		}
		b.wavData = out.Bytes()
	})
	return b.wavData, b.wavErr
}
