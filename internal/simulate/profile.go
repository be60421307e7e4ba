// Package simulate seeds the system with a synthetic broadcast world:
// catalog tracks with real fingerprints, funded stations, and bursts of
// raw matches shaped like real airplay. Everything is driven by a seeded
// RNG so a run can be reproduced exactly.
package simulate

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Profile describes one simulation scenario.
type Profile struct {
	Seed     int64 `yaml:"seed"`
	Days     int   `yaml:"days"`
	Stations int   `yaml:"stations"`
	Tracks   int   `yaml:"tracks"`

	// PeakHours are the hours (0-23) that receive boosted airplay.
	PeakHours []int `yaml:"peak_hours"`
	// PeakWeight multiplies play probability during peak hours.
	PeakWeight float64 `yaml:"peak_weight"`

	// PlaysPerStationPerDay is the average number of plays generated for
	// each station each day, before peak weighting.
	PlaysPerStationPerDay int `yaml:"plays_per_station_per_day"`

	// StationBalance is each station account's starting balance.
	StationBalance string `yaml:"station_balance"`

	Burst BurstProfile `yaml:"burst"`
}

// BurstProfile shapes the raw matches emitted for a single play.
type BurstProfile struct {
	MatchesMin  int `yaml:"matches_min"`
	MatchesMax  int `yaml:"matches_max"`
	SpacingSecs int `yaml:"spacing_secs"`
}

// DefaultProfile returns a small scenario suitable for local runs.
func DefaultProfile() Profile {
	return Profile{
		Seed:                  1,
		Days:                  1,
		Stations:              3,
		Tracks:                10,
		PeakHours:             []int{7, 8, 9, 17, 18, 19},
		PeakWeight:            3,
		PlaysPerStationPerDay: 24,
		StationBalance:        "500.00",
		Burst: BurstProfile{
			MatchesMin:  3,
			MatchesMax:  6,
			SpacingSecs: 10,
		},
	}
}

// LoadProfile reads a YAML profile, filling gaps with defaults.
func LoadProfile(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, eris.Wrapf(err, "simulate: read profile %s", path)
	}

	p := DefaultProfile()
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, eris.Wrapf(err, "simulate: parse profile %s", path)
	}
	return p.validate()
}

func (p Profile) validate() (Profile, error) {
	if p.Days <= 0 || p.Stations <= 0 || p.Tracks <= 0 {
		return p, eris.New("simulate: days, stations and tracks must be positive")
	}
	if p.PeakWeight < 1 {
		return p, eris.Errorf("simulate: peak_weight %v must be >= 1", p.PeakWeight)
	}
	for _, h := range p.PeakHours {
		if h < 0 || h > 23 {
			return p, eris.Errorf("simulate: peak hour %d out of range", h)
		}
	}
	if p.Burst.MatchesMin <= 0 || p.Burst.MatchesMax < p.Burst.MatchesMin {
		return p, eris.New("simulate: burst match bounds are inverted")
	}
	if p.Burst.SpacingSecs <= 0 {
		return p, eris.New("simulate: burst spacing must be positive")
	}
	return p, nil
}
