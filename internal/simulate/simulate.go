package simulate

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/aircheck-labs/aircheck-cli/internal/fingerprint"
	"github.com/aircheck-labs/aircheck-cli/internal/model"
)

// Store is the persistence surface the simulator needs.
type Store interface {
	CreateTrack(ctx context.Context, t model.Track) (*model.Track, error)
	ReplaceFingerprints(ctx context.Context, trackID string, fps []model.Fingerprint) error
	CreateStation(ctx context.Context, st model.Station) (*model.Station, error)
	CreateAccount(ctx context.Context, acct model.LedgerAccount) error
	CreateRawMatch(ctx context.Context, m model.RawMatch) (*model.RawMatch, error)
}

// Report summarizes what a simulation run created.
type Report struct {
	Tracks     int
	Stations   int
	Plays      int
	RawMatches int
}

// Simulator populates the store with a reproducible synthetic scenario.
type Simulator struct {
	store Store
	gen   *fingerprint.Generator
	rng   *rand.Rand
}

// New creates a Simulator seeded from the profile.
func New(store Store, gen *fingerprint.Generator, seed int64) *Simulator {
	return &Simulator{
		store: store,
		gen:   gen,
		rng:   rand.New(rand.NewSource(seed)),
	}
}

const simSampleRate = 8000

var (
	titleWords  = []string{"Midnight", "Golden", "Electric", "Silent", "Crimson", "Neon", "Velvet", "Distant", "Hollow", "Radiant"}
	titleNouns  = []string{"Signal", "Horizon", "River", "Echo", "Mirage", "Harbor", "Static", "Summer", "Motorway", "Satellite"}
	artistNames = []string{"The Carriers", "Vera Lane", "Glass Atlas", "Norte", "Iron Orchard", "Mona Reyes", "The Low Tides", "Paper Saints", "Kilometre", "June Harbor"}
)

// Run builds the whole scenario: tracks with fingerprints, funded
// stations, and raw match bursts spread over the profile's day range
// ending at now.
func (s *Simulator) Run(ctx context.Context, p Profile) (*Report, error) {
	p, err := p.validate()
	if err != nil {
		return nil, err
	}

	report := &Report{}

	tracks, err := s.seedTracks(ctx, p, report)
	if err != nil {
		return nil, err
	}
	stations, err := s.seedStations(ctx, p, report)
	if err != nil {
		return nil, err
	}
	if err := s.seedAirplay(ctx, p, tracks, stations, report); err != nil {
		return nil, err
	}

	zap.L().Info("simulation complete",
		zap.Int("tracks", report.Tracks),
		zap.Int("stations", report.Stations),
		zap.Int("plays", report.Plays),
		zap.Int("raw_matches", report.RawMatches),
	)
	return report, nil
}

func (s *Simulator) seedTracks(ctx context.Context, p Profile, report *Report) ([]*model.Track, error) {
	tracks := make([]*model.Track, 0, p.Tracks)
	for i := 0; i < p.Tracks; i++ {
		acctID := uuid.New().String()
		if err := s.store.CreateAccount(ctx, model.LedgerAccount{
			ID:        acctID,
			OwnerType: model.AccountOwnerRightsHolder,
			Balance:   "0.00",
		}); err != nil {
			return nil, err
		}

		title := fmt.Sprintf("%s %s",
			titleWords[s.rng.Intn(len(titleWords))],
			titleNouns[s.rng.Intn(len(titleNouns))])
		track, err := s.store.CreateTrack(ctx, model.Track{
			Title:              fmt.Sprintf("%s No. %d", title, i+1),
			Artist:             artistNames[s.rng.Intn(len(artistNames))],
			ISRC:               fmt.Sprintf("ZZSIM%07d", i+1),
			RightsHolderAcctID: acctID,
		})
		if err != nil {
			return nil, err
		}

		fps := s.gen.Generate(s.trackSignal(), simSampleRate)
		if len(fps) == 0 {
			return nil, eris.Errorf("simulate: track %s produced no fingerprints", track.ID)
		}
		for j := range fps {
			fps[j].TrackID = track.ID
		}
		if err := s.store.ReplaceFingerprints(ctx, track.ID, fps); err != nil {
			return nil, err
		}

		tracks = append(tracks, track)
		report.Tracks++
	}
	return tracks, nil
}

// trackSignal synthesizes a distinct few seconds of audio per track:
// a random progression of enveloped tones.
func (s *Simulator) trackSignal() []float64 {
	const toneSecs = 0.5
	numTones := 4 + s.rng.Intn(4)
	segLen := int(toneSecs * simSampleRate)

	out := make([]float64, 0, segLen*numTones)
	for t := 0; t < numTones; t++ {
		freq := 220 + s.rng.Float64()*1800
		for i := 0; i < segLen; i++ {
			env := 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(segLen-1))
			v := env*math.Sin(2*math.Pi*freq*float64(i)/simSampleRate) +
				0.001*s.rng.Float64()
			out = append(out, v)
		}
	}
	return out
}

func (s *Simulator) seedStations(ctx context.Context, p Profile, report *Report) ([]*model.Station, error) {
	stations := make([]*model.Station, 0, p.Stations)
	for i := 0; i < p.Stations; i++ {
		acctID := uuid.New().String()
		if err := s.store.CreateAccount(ctx, model.LedgerAccount{
			ID:        acctID,
			OwnerType: model.AccountOwnerStation,
			Balance:   p.StationBalance,
		}); err != nil {
			return nil, err
		}

		station, err := s.store.CreateStation(ctx, model.Station{
			Name:         fmt.Sprintf("SIM-FM %d", 88+i),
			LedgerAcctID: acctID,
		})
		if err != nil {
			return nil, err
		}
		stations = append(stations, station)
		report.Stations++
	}
	return stations, nil
}

func (s *Simulator) seedAirplay(ctx context.Context, p Profile, tracks []*model.Track, stations []*model.Station, report *Report) error {
	end := time.Now().UTC().Truncate(time.Hour)
	start := end.AddDate(0, 0, -p.Days)

	for _, station := range stations {
		for day := 0; day < p.Days; day++ {
			for play := 0; play < p.PlaysPerStationPerDay; play++ {
				hour := s.pickHour(p)
				at := start.AddDate(0, 0, day).
					Add(time.Duration(hour) * time.Hour).
					Add(time.Duration(s.rng.Intn(3600)) * time.Second)

				track := tracks[s.rng.Intn(len(tracks))]
				if err := s.emitBurst(ctx, p.Burst, track.ID, station.ID, at, report); err != nil {
					return err
				}
				report.Plays++
			}
		}
	}
	return nil
}

// pickHour samples an hour of day, peak hours weighted up.
func (s *Simulator) pickHour(p Profile) int {
	peak := make(map[int]bool, len(p.PeakHours))
	for _, h := range p.PeakHours {
		peak[h] = true
	}

	var total float64
	weights := [24]float64{}
	for h := 0; h < 24; h++ {
		w := 1.0
		if peak[h] {
			w = p.PeakWeight
		}
		weights[h] = w
		total += w
	}

	target := s.rng.Float64() * total
	for h := 0; h < 24; h++ {
		target -= weights[h]
		if target < 0 {
			return h
		}
	}
	return 23
}

// emitBurst writes the consecutive raw matches one real play would leave
// behind: a handful of snippets a few seconds apart, confidence drifting
// in the high range.
func (s *Simulator) emitBurst(ctx context.Context, b BurstProfile, trackID, stationID string, at time.Time, report *Report) error {
	n := b.MatchesMin
	if b.MatchesMax > b.MatchesMin {
		n += s.rng.Intn(b.MatchesMax - b.MatchesMin + 1)
	}

	for i := 0; i < n; i++ {
		jitter := s.rng.Intn(3) - 1
		matchedAt := at.Add(time.Duration(i*b.SpacingSecs+jitter) * time.Second)
		confidence := 70 + s.rng.Float64()*29

		if _, err := s.store.CreateRawMatch(ctx, model.RawMatch{
			TrackID:    trackID,
			StationID:  stationID,
			MatchedAt:  matchedAt,
			Confidence: confidence,
		}); err != nil {
			return err
		}
		report.RawMatches++
	}
	return nil
}
