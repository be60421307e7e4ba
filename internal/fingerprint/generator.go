package fingerprint

import (
	"go.uber.org/zap"

	"github.com/aircheck-labs/aircheck-cli/internal/model"
)

// Generator turns PCM buffers into fingerprint lists. Safe for concurrent
// use; it holds only the immutable config.
type Generator struct {
	cfg Config
}

// NewGenerator returns a Generator with cfg applied over defaults.
func NewGenerator(cfg Config) *Generator {
	return &Generator{cfg: cfg.withDefaults()}
}

// Generate produces the ordered fingerprint list for one buffer. It is
// deterministic for identical input and config. Silent or too-short
// buffers yield an empty list, and any panic inside the DSP chain is
// recovered to an empty result: one bad snippet must not halt a continuous
// feed, so "no identification possible" is a value here, never an error.
func (g *Generator) Generate(samples []float64, sampleRate int) (fps []model.Fingerprint) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("fingerprint generation panicked, degrading to empty result",
				zap.Any("panic", r),
				zap.Int("samples", len(samples)),
				zap.Int("sample_rate", sampleRate),
			)
			fps = nil
		}
	}()

	if len(samples) == 0 || sampleRate <= 0 {
		return nil
	}

	spec := Spectrogram(samples, g.cfg)
	if len(spec) == 0 {
		return nil
	}

	peaks := ExtractPeaks(spec, g.cfg)
	if len(peaks) == 0 {
		return nil
	}

	pairs := fanOutPairs(peaks, g.cfg)
	fps = make([]model.Fingerprint, 0, len(pairs))
	for _, p := range pairs {
		fps = append(fps, model.Fingerprint{
			Hash:       hashPair(p),
			TimeOffset: int32(p.anchor.Frame),
		})
	}
	return fps
}
