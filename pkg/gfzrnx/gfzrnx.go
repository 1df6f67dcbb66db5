// Package gfzrnx converts RINEX3 observation files to another RINEX version using the gfzrnx tool,
// see https://gnss.gfz-potsdam.de/services/gfzrnx.
package gfzrnx

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/de-bkg/satref/pkg/rinex"
	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"
)

// DefaultTargetVersion is the RINEX version the files are converted to.
const DefaultTargetVersion = "2.11"

// ErrToolNotFound is returned if the gfzrnx executable does not exist.
var ErrToolNotFound = errors.New("gfzrnx executable not found")

// use a single instance of Validate, it caches struct info
var validate = validator.New()

// Options for a conversion run.
type Options struct {
	// InputDir contains the RINEX3 files named {STATION}00HKG_R_{YEAR}{DOY}0000_01D_30S_MO.rnx.
	InputDir string

	// Executable is the path to the gfzrnx executable.
	Executable string `validate:"required"`

	Days    rinex.DayRange
	Station string
	Year    int `validate:"gte=0"`

	// OutputDir for the converted files. Defaults to the current working directory.
	OutputDir string

	// TargetVersion is the RINEX output version, defaults to DefaultTargetVersion.
	TargetVersion string

	Runner Runner          `validate:"-"` // defaults to ExecRunner
	Logger *log.Logger     `validate:"-"` // defaults to log.Default()
	Clock  clockwork.Clock `validate:"-"` // defaults to the real clock
}

// Status of a processed day.
type Status int

// Possible day states.
const (
	StatusConverted Status = iota + 1
	StatusSkipped
	StatusFailed
)

func (s Status) String() string {
	return [...]string{"", "converted", "skipped", "failed"}[s]
}

// Result is the outcome for one day.
type Result struct {
	Doy        int
	Status     Status
	InputPath  string
	OutputPath string
	Err        error
	Start, End time.Time
}

// Report holds the results of a run, one per day.
type Report struct {
	Results []Result
}

// Count returns the number of days with the given status.
func (r Report) Count(status Status) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == status {
			n++
		}
	}
	return n
}

// Converter converts the files of a day range.
type Converter struct {
	opts Options
	log  *log.Logger
}

// New validates the options and resolves their defaults.
func New(opts Options) (*Converter, error) {
	if err := validate.Struct(opts); err != nil {
		return nil, err
	}

	if opts.OutputDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		opts.OutputDir = wd
	}
	if opts.TargetVersion == "" {
		opts.TargetVersion = DefaultTargetVersion
	}
	if opts.Runner == nil {
		opts.Runner = ExecRunner{}
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	c := &Converter{opts: opts, log: opts.Logger}
	if c.log == nil {
		c.log = log.Default()
	}
	return c, nil
}

// OutputDir returns the resolved output directory.
func (c *Converter) OutputDir() string {
	return c.opts.OutputDir
}

// Run converts all days of the range. Only a missing executable or an uncreatable output directory
// stop the run, per-day failures are logged and reported.
func (c *Converter) Run() (Report, error) {
	if _, err := os.Stat(c.opts.Executable); err != nil {
		return Report{}, fmt.Errorf("%w at: %s", ErrToolNotFound, c.opts.Executable)
	}

	if err := os.MkdirAll(c.opts.OutputDir, 0o755); err != nil {
		return Report{}, err
	}

	days := c.opts.Days.Days()
	rep := Report{Results: make([]Result, 0, len(days))}
	for _, doy := range days {
		rep.Results = append(rep.Results, c.convertDay(doy))
	}
	return rep, nil
}

func (c *Converter) convertDay(doy int) Result {
	o := c.opts
	res := Result{
		Doy:       doy,
		InputPath: filepath.Join(o.InputDir, rinex.Rnx3ObsName(o.Station, o.Year, doy, rinex.ExtRnx)),
		Start:     o.Clock.Now(),
	}

	if _, err := os.Stat(res.InputPath); err != nil {
		c.log.Printf("Skipping: %s (File not found)", res.InputPath)
		res.Status = StatusSkipped
		res.End = o.Clock.Now()
		return res
	}

	res.OutputPath = filepath.Join(o.OutputDir, rinex.Rnx2ObsName(o.Station, o.Year, doy))
	err := o.Runner.Run(o.Executable, "-finp", res.InputPath, "-fout", res.OutputPath, "-vo", o.TargetVersion)
	if err != nil {
		c.log.Printf("E! Error processing %s: %v", res.InputPath, err)
		res.Status = StatusFailed
		res.Err = err
		res.End = o.Clock.Now()
		return res
	}

	c.log.Printf("Processed: %s -> %s", res.InputPath, res.OutputPath)
	res.Status = StatusConverted
	res.End = o.Clock.Now()
	return res
}
