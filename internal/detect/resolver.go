package detect

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/aircheck-labs/aircheck-cli/internal/model"
	"github.com/aircheck-labs/aircheck-cli/internal/store"
)

// TrackFinder is the catalog lookup surface the resolver needs.
type TrackFinder interface {
	GetTrackByISRC(ctx context.Context, isrc string) (*model.Track, error)
	FindTrackByTitleArtist(ctx context.Context, titleNorm, artistNorm string) (*model.Track, error)
}

// ResolveTrack maps an external identification onto the local catalog.
// ISRC is authoritative when present; otherwise fall back to normalized
// title plus artist. Returns nil when the external track is not in the
// catalog, which is not an error: the detection is still recorded with the
// external metadata for later reconciliation.
func ResolveTrack(ctx context.Context, finder TrackFinder, res *ExternalResult) (*model.Track, error) {
	if res.ISRC != "" {
		track, err := finder.GetTrackByISRC(ctx, res.ISRC)
		if err != nil {
			return nil, eris.Wrap(err, "detect: resolve by isrc")
		}
		if track != nil {
			return track, nil
		}
	}

	if res.Title == "" || res.Artist == "" {
		return nil, nil
	}

	track, err := finder.FindTrackByTitleArtist(ctx, store.NormKey(res.Title), store.NormKey(res.Artist))
	if err != nil {
		return nil, eris.Wrap(err, "detect: resolve by title/artist")
	}
	if track == nil {
		zap.L().Info("external match not in catalog",
			zap.String("title", res.Title),
			zap.String("artist", res.Artist),
			zap.String("isrc", res.ISRC),
		)
	}
	return track, nil
}
