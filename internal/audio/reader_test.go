package audio

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeToneWAV(t *testing.T, path string, sampleRate, channels int, seconds float64) {
	t.Helper()

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	n := int(seconds * float64(sampleRate))
	data := make([]int, n*channels)
	for i := 0; i < n; i++ {
		v := int(10000 * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate)))
		for c := 0; c < channels; c++ {
			data[i*channels+c] = v
		}
	}

	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	buf := &gaudio.IntBuffer{
		Format:         &gaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	require.NoError(t, enc.Write(buf))
	require.NoError(t, enc.Close())
}

func TestReadWAVFile_Mono(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	writeToneWAV(t, path, 8000, 1, 1.0)

	pcm, err := ReadWAVFile(path)
	require.NoError(t, err)

	assert.Equal(t, 8000, pcm.SampleRate)
	assert.Len(t, pcm.Samples, 8000)
	assert.InDelta(t, 1.0, pcm.Duration(), 0.01)

	for _, s := range pcm.Samples {
		assert.LessOrEqual(t, math.Abs(s), 1.0)
	}
}

func TestReadWAVFile_StereoDownmix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stereo.wav")
	writeToneWAV(t, path, 8000, 2, 0.5)

	pcm, err := ReadWAVFile(path)
	require.NoError(t, err)

	assert.Equal(t, 8000, pcm.SampleRate)
	assert.Len(t, pcm.Samples, 4000)
}

func TestReadWAVBytes_Invalid(t *testing.T) {
	_, err := ReadWAVBytes([]byte("definitely not audio"))
	require.Error(t, err)
}

func TestPCM_Duration_ZeroRate(t *testing.T) {
	assert.Zero(t, PCM{Samples: make([]float64, 100)}.Duration())
}
