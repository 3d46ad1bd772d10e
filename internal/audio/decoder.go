package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/youpy/go-wav"
)

const pcmFormat = 1

var ErrEmptyAudio = errors.New("audio contains no samples")

// ConvertFunc converts src into a mono 16 kHz 16-bit PCM WAV at dst.
type ConvertFunc func(ctx context.Context, src, dst string) error

type Decoder struct {
	convert ConvertFunc
}

// NewDecoder returns a decoder that shells out to ffmpeg for anything that is
// not already in the target format.
func NewDecoder(ffmpegPath string) *Decoder {
	return &Decoder{convert: ffmpegConverter(ffmpegPath)}
}

// NewDecoderWithConverter is used where ffmpeg is not available.
func NewDecoderWithConverter(convert ConvertFunc) *Decoder {
	return &Decoder{convert: convert}
}

// Decode reads the audio at path. Converted output is written next to the
// input, so the caller's cleanup of that directory covers it.
func (d *Decoder) Decode(ctx context.Context, path string) (*Buffer, error) {
	samples, ok, err := readTargetWAV(path)
	if err != nil {
		return nil, err
	}
	if !ok {
		if d.convert == nil {
			return nil, fmt.Errorf("decode %s: unsupported format and no converter", filepath.Base(path))
		}
		converted := strings.TrimSuffix(path, filepath.Ext(path)) + ".16k.wav"
		if err := d.convert(ctx, path, converted); err != nil {
			return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
		}
		samples, ok, err = readTargetWAV(converted)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("decode %s: converter produced an unexpected format", filepath.Base(path))
		}
	}
	if len(samples) == 0 {
		return nil, ErrEmptyAudio
	}
	return NewBuffer(samples), nil
}

// readTargetWAV returns ok=false when the file is not a 16 kHz mono PCM16 WAV.
func readTargetWAV(path string) ([]int16, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false, err
	}
	defer f.Close()

	reader := wav.NewReader(f)
	format, err := reader.Format()
	if err != nil {
		return nil, false, nil
	}
	if format.AudioFormat != pcmFormat || format.NumChannels != Channels ||
		format.SampleRate != SampleRate || format.BitsPerSample != BitsPerSample {
		return nil, false, nil
	}

	var samples []int16
	for {
		chunk, err := reader.ReadSamples(4096)
		for _, s := range chunk {
			samples = append(samples, int16(s.Values[0]))
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, fmt.Errorf("read wav samples: %w", err)
		}
	}
	return samples, true, nil
}

func ffmpegConverter(ffmpegPath string) ConvertFunc {
	return func(ctx context.Context, src, dst string) error {
		cmd := exec.CommandContext(ctx, ffmpegPath,
			"-nostdin", "-y", "-i", src,
			"-ac", "1", "-ar", "16000",
			"-acodec", "pcm_s16le", "-f", "wav",
			dst,
		)
		out, err := cmd.CombinedOutput()
		if err != nil {
			return fmt.Errorf("ffmpeg: %w: %s", err, lastLine(string(out)))
		}
		return nil
	}
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
