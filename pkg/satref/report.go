package satref

import "time"

// State of a day in the fetch pipeline.
//
//	Pending -> Skipped
//	Pending -> Downloaded -> Decompressed -> Converted -> Cleaned
//
// Any stage may end in Failed.
type State int

// Day states.
const (
	StatePending State = iota
	StateSkipped
	StateDownloaded
	StateDecompressed
	StateConverted
	StateCleaned
	StateFailed
)

func (s State) String() string {
	return [...]string{"pending", "skipped", "downloaded", "decompressed", "converted", "cleaned", "failed"}[s]
}

// next returns the stage that follows the completed state s.
func (s State) next() Stage {
	switch s {
	case StatePending:
		return StageDownload
	case StateDownloaded:
		return StageGunzip
	case StateDecompressed:
		return StageCrx2rnx
	}
	return StageNone
}

// Stage is a processing step of the fetch pipeline.
type Stage int

// Pipeline stages.
const (
	StageNone Stage = iota
	StageDownload
	StageGunzip
	StageCrx2rnx
)

func (s Stage) String() string {
	return [...]string{"", "download", "gunzip", "crx2rnx"}[s]
}

// Result is the outcome for one day.
type Result struct {
	Doy   int
	URL   string
	Path  string // the final RINEX file
	Bytes int64  // downloaded bytes
	State State

	// Stage and Err are set if State is StateFailed.
	Stage Stage
	Err   error

	// CleanupErr is set if an intermediate file could not be removed.
	CleanupErr error

	Start, End time.Time
}

// Duration returns the processing time of the day.
func (r Result) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// Report holds the results of a run, one per day.
type Report struct {
	Results []Result
}

// Count returns the number of days with the given state.
func (r Report) Count(state State) int {
	n := 0
	for _, res := range r.Results {
		if res.State == state {
			n++
		}
	}
	return n
}

// Failed returns the results of the failed days.
func (r Report) Failed() []Result {
	var failed []Result
	for _, res := range r.Results {
		if res.State == StateFailed {
			failed = append(failed, res)
		}
	}
	return failed
}
