package model

import "time"

// RawMatch is one snippet-level identification event prior to aggregation.
// Identification writes it once; only the aggregation engine mutates it
// afterwards (claiming and marking processed).
type RawMatch struct {
	ID            string    `json:"id"`
	TrackID       string    `json:"track_id"`
	StationID     string    `json:"station_id"`
	MatchedAt     time.Time `json:"matched_at"`
	Confidence    float64   `json:"confidence"` // 0-100
	Processed     bool      `json:"processed"`
	FailureReason string    `json:"failure_reason,omitempty"`
}

// PlaySource distinguishes broadcast from streaming plays.
type PlaySource string

const (
	PlaySourceRadio     PlaySource = "radio"
	PlaySourceStreaming PlaySource = "streaming"
)

// PlayLog is a validated, royalty-settled airplay record. Created exactly
// once per valid RawMatch group inside the settlement transaction;
// immutable afterwards except for the dispute flags.
type PlayLog struct {
	ID            string     `json:"id"`
	TrackID       string     `json:"track_id"`
	StationID     string     `json:"station_id"`
	Source        PlaySource `json:"source"`
	StartTime     time.Time  `json:"start_time"`
	StopTime      time.Time  `json:"stop_time"`
	DurationSecs  int64      `json:"duration_secs"`
	// Royalty is the settled amount as a decimal string, quantized to two
	// places at settlement time.
	Royalty       string    `json:"royalty"`
	AvgConfidence float64   `json:"avg_confidence"`
	Claimed       bool      `json:"claimed"`
	Flagged       bool      `json:"flagged"`
	CreatedAt     time.Time `json:"created_at"`
}

// FailedPlayLog records an aggregation or settlement failure for a
// (track, station) group. WillRetry is explicit: retryable groups keep
// their RawMatch rows unprocessed for the next pass, permanent failures
// consume them.
type FailedPlayLog struct {
	ID        string    `json:"id"`
	TrackID   string    `json:"track_id"`
	StationID string    `json:"station_id"`
	Reason    string    `json:"reason"`
	WillRetry bool      `json:"will_retry"`
	CreatedAt time.Time `json:"created_at"`
}

// MatchGroup is an unprocessed RawMatch cluster for one (track, station)
// pair, as returned by the store's grouping query.
type MatchGroup struct {
	TrackID   string     `json:"track_id"`
	StationID string     `json:"station_id"`
	Matches   []RawMatch `json:"matches"`
}

// Span returns the earliest and latest match timestamps in the group.
// Aggregation must not assume arrival order, so both ends are scanned.
func (g MatchGroup) Span() (start, stop time.Time) {
	for i, m := range g.Matches {
		if i == 0 || m.MatchedAt.Before(start) {
			start = m.MatchedAt
		}
		if i == 0 || m.MatchedAt.After(stop) {
			stop = m.MatchedAt
		}
	}
	return start, stop
}

// AvgConfidence returns the mean confidence across the group.
func (g MatchGroup) AvgConfidence() float64 {
	if len(g.Matches) == 0 {
		return 0
	}
	var sum float64
	for _, m := range g.Matches {
		sum += m.Confidence
	}
	return sum / float64(len(g.Matches))
}
