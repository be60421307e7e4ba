// Package fingerprint converts mono PCM audio into compact
// (hash, time-offset) fingerprints for approximate matching.
package fingerprint

// ThresholdMode selects how the peak amplitude threshold is derived.
type ThresholdMode string

const (
	// ThresholdFixed applies FloorDB as an absolute floor below the
	// spectrogram peak.
	ThresholdFixed ThresholdMode = "fixed"
	// ThresholdAdaptive derives the floor from a percentile of the
	// spectrogram's value distribution. Required when absolute level
	// varies across recordings; radio encoding compresses dynamic range.
	ThresholdAdaptive ThresholdMode = "adaptive"
)

// Config controls every tunable parameter of the generation pipeline. It
// is immutable after construction: the generator copies it by value and
// never reads ambient state, so identical input and config always produce
// identical fingerprints.
type Config struct {
	WindowSize       int           // FFT window size in samples
	OverlapRatio     float64       // fraction of the window shared by successive frames
	NeighborhoodSize int           // square peak neighborhood edge length, in cells
	ThresholdMode    ThresholdMode
	FloorDB          float64       // fixed mode: dB floor relative to the buffer peak
	Percentile       float64       // adaptive mode: percentile of the value distribution
	FanValue         int           // successor peaks paired with each anchor
	MinDelta         int           // minimum anchor-target frame delta
	MaxDelta         int           // maximum anchor-target frame delta
}

// DefaultConfig returns the standard broadcast-monitoring parameters.
func DefaultConfig() Config {
	return Config{
		WindowSize:       2048,
		OverlapRatio:     0.5,
		NeighborhoodSize: 10,
		ThresholdMode:    ThresholdAdaptive,
		FloorDB:          -40,
		Percentile:       90,
		FanValue:         15,
		MinDelta:         0,
		MaxDelta:         500,
	}
}

// hopSize derives the frame advance from the window size and overlap.
func (c Config) hopSize() int {
	hop := int(float64(c.WindowSize) * (1 - c.OverlapRatio))
	if hop < 1 {
		hop = 1
	}
	return hop
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.WindowSize <= 0 {
		c.WindowSize = d.WindowSize
	}
	if c.OverlapRatio <= 0 || c.OverlapRatio >= 1 {
		c.OverlapRatio = d.OverlapRatio
	}
	if c.NeighborhoodSize <= 0 {
		c.NeighborhoodSize = d.NeighborhoodSize
	}
	if c.ThresholdMode == "" {
		c.ThresholdMode = d.ThresholdMode
	}
	if c.FloorDB == 0 {
		c.FloorDB = d.FloorDB
	}
	if c.Percentile <= 0 || c.Percentile >= 100 {
		c.Percentile = d.Percentile
	}
	if c.FanValue <= 0 {
		c.FanValue = d.FanValue
	}
	if c.MaxDelta <= 0 {
		c.MaxDelta = d.MaxDelta
	}
	if c.MinDelta < 0 {
		c.MinDelta = 0
	}
	return c
}
