package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aircheck-labs/aircheck-cli/internal/audio"
	"github.com/aircheck-labs/aircheck-cli/internal/model"
)

var (
	identifyDir     string
	identifyLimit   int
	identifyWorkers int
)

// snippetTimeLayout is the capture timestamp encoded in spool filenames.
const snippetTimeLayout = "20060102T150405Z"

var identifyCmd = &cobra.Command{
	Use:   "identify",
	Short: "Identify spooled broadcast snippets",
	Long:  `Reads snippet WAV files from the spool directory, named "<station-id>_<session-id>_<yyyymmddThhmmssZ>.wav", and runs each through local matching with external fallback. Identified snippets become raw matches for later aggregation.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if identifyWorkers > 0 {
			cfg.Detect.Workers = identifyWorkers
		}
		orch, closeIndex, err := initOrchestrator(ctx, st)
		if err != nil {
			return err
		}
		defer closeIndex()

		snippets, skipped, err := loadSpool(identifyDir, identifyLimit)
		if err != nil {
			return err
		}
		if len(snippets) == 0 {
			fmt.Println("no snippets to identify")
			return nil
		}

		detections, err := orch.ProcessBatch(ctx, snippets)
		if err != nil {
			return err
		}

		var completed, failed, retrying int
		for _, det := range detections {
			if det == nil {
				continue
			}
			switch det.Status {
			case model.StatusCompleted:
				completed++
			case model.StatusFailed:
				failed++
			case model.StatusRetry:
				retrying++
			}
		}

		zap.L().Info("identification finished",
			zap.Int("snippets", len(snippets)),
			zap.Int("completed", completed),
			zap.Int("failed", failed),
			zap.Int("retrying", retrying),
			zap.Int("skipped_files", skipped),
		)
		fmt.Printf("identified %d of %d snippets (%d failed, %d pending retry)\n",
			completed, len(snippets), failed, retrying)
		return nil
	},
}

// loadSpool reads up to limit snippet files from dir. Files whose names
// or contents cannot be parsed are skipped, not fatal: one corrupt
// capture must not block the spool.
func loadSpool(dir string, limit int) ([]model.Snippet, int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, 0, eris.Wrapf(err, "read spool dir %s", dir)
	}

	var snippets []model.Snippet
	var skipped int
	for _, entry := range entries {
		if limit > 0 && len(snippets) >= limit {
			break
		}
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".wav") {
			continue
		}

		snippet, err := loadSnippet(filepath.Join(dir, entry.Name()))
		if err != nil {
			zap.L().Warn("skipping snippet", zap.String("file", entry.Name()), zap.Error(err))
			skipped++
			continue
		}
		snippets = append(snippets, snippet)
	}
	return snippets, skipped, nil
}

func loadSnippet(path string) (model.Snippet, error) {
	stationID, sessionID, capturedAt, err := parseSnippetName(filepath.Base(path))
	if err != nil {
		return model.Snippet{}, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return model.Snippet{}, eris.Wrap(err, "read snippet")
	}
	pcm, err := audio.ReadWAVBytes(raw)
	if err != nil {
		return model.Snippet{}, err
	}

	return model.Snippet{
		StationID:  stationID,
		Samples:    pcm.Samples,
		SampleRate: pcm.SampleRate,
		Raw:        raw,
		CapturedAt: capturedAt,
		SessionID:  sessionID,
	}, nil
}

func parseSnippetName(name string) (stationID, sessionID string, capturedAt time.Time, err error) {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	parts := strings.Split(base, "_")
	if len(parts) != 3 {
		return "", "", time.Time{}, eris.Errorf(`name %q does not match "<station>_<session>_<timestamp>.wav"`, name)
	}

	capturedAt, err = time.Parse(snippetTimeLayout, parts[2])
	if err != nil {
		return "", "", time.Time{}, eris.Wrapf(err, "timestamp in %q", name)
	}
	return parts[0], parts[1], capturedAt.UTC(), nil
}

func init() {
	identifyCmd.Flags().StringVar(&identifyDir, "dir", "", "spool directory of snippet WAV files (required)")
	identifyCmd.Flags().IntVar(&identifyLimit, "limit", 0, "maximum snippets to process (0 = all)")
	identifyCmd.Flags().IntVar(&identifyWorkers, "workers", 0, "concurrent identification workers (0 = config default)")
	_ = identifyCmd.MarkFlagRequired("dir")
	rootCmd.AddCommand(identifyCmd)
}
