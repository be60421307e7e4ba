// Package audio decodes catalog and snippet audio into mono float64 PCM.
package audio

import (
	"bytes"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/rotisserie/eris"
)

// PCM is decoded mono audio ready for fingerprinting.
type PCM struct {
	Samples    []float64
	SampleRate int
}

// Duration returns the clip length in seconds.
func (p PCM) Duration() float64 {
	if p.SampleRate <= 0 {
		return 0
	}
	return float64(len(p.Samples)) / float64(p.SampleRate)
}

// ReadWAVFile decodes a WAV file to mono float64 samples.
func ReadWAVFile(path string) (PCM, error) {
	f, err := os.Open(path)
	if err != nil {
		return PCM{}, eris.Wrapf(err, "audio: open %s", path)
	}
	defer f.Close()

	pcm, err := decodeWAV(f)
	if err != nil {
		return PCM{}, eris.Wrapf(err, "audio: decode %s", path)
	}
	return pcm, nil
}

// ReadWAVBytes decodes an in-memory WAV container to mono float64 samples.
// Snippet delivery hands the capture layer's container bytes straight here.
func ReadWAVBytes(data []byte) (PCM, error) {
	pcm, err := decodeWAV(bytes.NewReader(data))
	if err != nil {
		return PCM{}, eris.Wrap(err, "audio: decode bytes")
	}
	return pcm, nil
}

func decodeWAV(r io.ReadSeeker) (PCM, error) {
	decoder := wav.NewDecoder(r)
	if !decoder.IsValidFile() {
		return PCM{}, eris.New("audio: not a valid WAV file")
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return PCM{}, eris.Wrap(err, "audio: read PCM")
	}
	if buf == nil || buf.Format == nil || len(buf.Data) == 0 {
		return PCM{SampleRate: int(decoder.SampleRate)}, nil
	}

	return downmix(buf, int(decoder.BitDepth)), nil
}

// downmix averages interleaved channels to mono and normalizes integer
// samples to [-1, 1].
func downmix(buf *audio.IntBuffer, bitDepth int) PCM {
	channels := buf.Format.NumChannels
	if channels < 1 {
		channels = 1
	}

	if bitDepth <= 0 {
		bitDepth = 16
	}
	scale := float64(int64(1) << (bitDepth - 1))

	frames := len(buf.Data) / channels
	samples := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(buf.Data[i*channels+c])
		}
		samples[i] = sum / float64(channels) / scale
	}

	return PCM{Samples: samples, SampleRate: buf.Format.SampleRate}
}
