package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aircheck-labs/aircheck-cli/internal/audio"
	"github.com/aircheck-labs/aircheck-cli/internal/fingerprint"
	"github.com/aircheck-labs/aircheck-cli/internal/model"
	"github.com/aircheck-labs/aircheck-cli/internal/store"
)

var (
	ingestDir     string
	ingestReplace bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Fingerprint a directory of catalog WAV files",
	Long:  `Reads every .wav file under --dir, named "Artist - Title.wav", creates catalog tracks with rights holder accounts and stores their fingerprints. With --replace, files matching an existing track replace its fingerprints instead of being skipped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		gen := fingerprint.NewGenerator(fingerprintConfig(cfg.Fingerprint))

		entries, err := os.ReadDir(ingestDir)
		if err != nil {
			return eris.Wrapf(err, "read ingest dir %s", ingestDir)
		}

		var ingested, replaced, skipped int
		for _, entry := range entries {
			if err := ctx.Err(); err != nil {
				return err
			}
			if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".wav") {
				continue
			}

			artist, title, err := parseCatalogName(entry.Name())
			if err != nil {
				zap.L().Warn("skipping file with unparseable name",
					zap.String("file", entry.Name()), zap.Error(err))
				skipped++
				continue
			}

			path := filepath.Join(ingestDir, entry.Name())
			action, err := ingestOne(ctx, st, gen, path, artist, title)
			if err != nil {
				return eris.Wrapf(err, "ingest %s", entry.Name())
			}
			switch action {
			case "ingested":
				ingested++
			case "replaced":
				replaced++
			default:
				skipped++
			}
		}

		zap.L().Info("ingest finished",
			zap.Int("ingested", ingested),
			zap.Int("replaced", replaced),
			zap.Int("skipped", skipped),
		)
		fmt.Printf("ingested %d, replaced %d, skipped %d\n", ingested, replaced, skipped)
		return nil
	},
}

// parseCatalogName splits "Artist - Title.wav" into its parts.
func parseCatalogName(name string) (artist, title string, err error) {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	artist, title, found := strings.Cut(base, " - ")
	if !found || strings.TrimSpace(artist) == "" || strings.TrimSpace(title) == "" {
		return "", "", eris.Errorf(`name %q does not match "Artist - Title.wav"`, name)
	}
	return strings.TrimSpace(artist), strings.TrimSpace(title), nil
}

// ingestOne fingerprints a single catalog file. Returns "ingested",
// "replaced" or "skipped".
func ingestOne(ctx context.Context, st store.Store, gen *fingerprint.Generator, path, artist, title string) (string, error) {
	existing, err := st.FindTrackByTitleArtist(ctx, store.NormKey(title), store.NormKey(artist))
	if err != nil {
		return "", err
	}
	if existing != nil && !ingestReplace {
		zap.L().Debug("track already cataloged",
			zap.String("artist", artist), zap.String("title", title))
		return "skipped", nil
	}

	pcm, err := audio.ReadWAVFile(path)
	if err != nil {
		return "", err
	}

	fps := gen.Generate(pcm.Samples, pcm.SampleRate)
	if len(fps) == 0 {
		return "", eris.New("no fingerprints produced, file may be silent or too short")
	}

	track := existing
	if track == nil {
		acctID := uuid.New().String()
		if err := st.CreateAccount(ctx, model.LedgerAccount{
			ID:        acctID,
			OwnerType: model.AccountOwnerRightsHolder,
			Balance:   "0.00",
		}); err != nil {
			return "", err
		}
		track, err = st.CreateTrack(ctx, model.Track{
			Title:              title,
			Artist:             artist,
			RightsHolderAcctID: acctID,
		})
		if err != nil {
			return "", err
		}
	}

	for i := range fps {
		fps[i].TrackID = track.ID
	}
	if err := st.ReplaceFingerprints(ctx, track.ID, fps); err != nil {
		return "", err
	}

	zap.L().Info("track fingerprinted",
		zap.String("track_id", track.ID),
		zap.String("artist", artist),
		zap.String("title", title),
		zap.Int("fingerprints", len(fps)),
		zap.Float64("duration_secs", pcm.Duration()),
	)
	if existing != nil {
		return "replaced", nil
	}
	return "ingested", nil
}

func init() {
	ingestCmd.Flags().StringVar(&ingestDir, "dir", "", "directory of catalog WAV files (required)")
	ingestCmd.Flags().BoolVar(&ingestReplace, "replace", false, "replace fingerprints of already cataloged tracks")
	_ = ingestCmd.MarkFlagRequired("dir")
	rootCmd.AddCommand(ingestCmd)
}
