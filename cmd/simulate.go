package main

import (
	"fmt"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/aircheck-labs/aircheck-cli/internal/fingerprint"
	"github.com/aircheck-labs/aircheck-cli/internal/simulate"
)

var (
	simProfilePath  string
	simDays         int
	simStations     int
	simTracks       int
	simSeed         int64
	simPeakHours    string
	simSimulateOnly bool
	simProcessOnly  bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Seed a synthetic broadcast scenario and settle it",
	Long:  "Generates a reproducible synthetic world: fingerprinted tracks, funded stations and bursts of raw matches shaped like real airplay, then runs an aggregation pass over it. --simulate-only stops after seeding; --process-only skips seeding and only aggregates.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simSimulateOnly && simProcessOnly {
			return eris.New("--simulate-only and --process-only are mutually exclusive")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		if !simProcessOnly {
			profile, err := simulationProfile()
			if err != nil {
				return err
			}

			gen := fingerprint.NewGenerator(fingerprintConfig(cfg.Fingerprint))
			sim := simulate.New(st, gen, profile.Seed)
			report, err := sim.Run(ctx, profile)
			if err != nil {
				return err
			}
			fmt.Printf("seeded %d tracks, %d stations, %d plays (%d raw matches)\n",
				report.Tracks, report.Stations, report.Plays, report.RawMatches)
		}

		if simSimulateOnly {
			return nil
		}

		agg, err := initAggregator(st)
		if err != nil {
			return err
		}
		summary, err := agg.Run(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("settled %d of %d groups, total royalty %s\n",
			summary.Settled, summary.Groups, summary.TotalRoyalty.StringFixed(2))
		return nil
	},
}

// simulationProfile builds the scenario from the profile file, then lets
// explicit flags and config override it.
func simulationProfile() (simulate.Profile, error) {
	profile := simulate.DefaultProfile()
	if simProfilePath != "" {
		var err error
		profile, err = simulate.LoadProfile(simProfilePath)
		if err != nil {
			return simulate.Profile{}, err
		}
	}

	if cfg.Simulate.Seed != 0 {
		profile.Seed = cfg.Simulate.Seed
	}
	if cfg.Simulate.Stations > 0 {
		profile.Stations = cfg.Simulate.Stations
	}
	if cfg.Simulate.Tracks > 0 {
		profile.Tracks = cfg.Simulate.Tracks
	}

	if simSeed != 0 {
		profile.Seed = simSeed
	}
	if simDays > 0 {
		profile.Days = simDays
	}
	if simStations > 0 {
		profile.Stations = simStations
	}
	if simTracks > 0 {
		profile.Tracks = simTracks
	}
	if simPeakHours != "" {
		hours, err := parsePeakHours(simPeakHours)
		if err != nil {
			return simulate.Profile{}, err
		}
		profile.PeakHours = hours
	}
	return profile, nil
}

// parsePeakHours accepts comma-separated hours and ranges, e.g.
// "7-9,17-19" or "8,12,18".
func parsePeakHours(s string) ([]int, error) {
	var hours []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		lo, hi, isRange := strings.Cut(part, "-")
		start, err := strconv.Atoi(lo)
		if err != nil {
			return nil, eris.Wrapf(err, "peak hours %q", s)
		}
		end := start
		if isRange {
			end, err = strconv.Atoi(hi)
			if err != nil {
				return nil, eris.Wrapf(err, "peak hours %q", s)
			}
		}
		if start > end || start < 0 || end > 23 {
			return nil, eris.Errorf("peak hours %q: bad range %s", s, part)
		}
		for h := start; h <= end; h++ {
			hours = append(hours, h)
		}
	}
	if len(hours) == 0 {
		return nil, eris.Errorf("peak hours %q: nothing parsed", s)
	}
	return hours, nil
}

func init() {
	simulateCmd.Flags().StringVar(&simProfilePath, "profile", "", "YAML scenario profile")
	simulateCmd.Flags().IntVar(&simDays, "days", 0, "days of airplay to generate")
	simulateCmd.Flags().IntVar(&simStations, "stations", 0, "number of stations")
	simulateCmd.Flags().IntVar(&simTracks, "tracks", 0, "number of catalog tracks")
	simulateCmd.Flags().Int64Var(&simSeed, "seed", 0, "RNG seed")
	simulateCmd.Flags().StringVar(&simPeakHours, "peak-hours", "", `hours with boosted airplay, e.g. "7-9,17-19"`)
	simulateCmd.Flags().BoolVar(&simSimulateOnly, "simulate-only", false, "seed the scenario without aggregating")
	simulateCmd.Flags().BoolVar(&simProcessOnly, "process-only", false, "aggregate existing matches without seeding")
	rootCmd.AddCommand(simulateCmd)
}
