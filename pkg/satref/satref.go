// Package satref downloads daily RINEX observation files from the SatRef archive of
// the Hong Kong Geodetic Survey Services and converts them to plain RINEX.
//
// For each day the .crx.gz archive is downloaded, gunzipped to .crx and Hatanaka-decompressed
// to .rnx. The intermediate files are only removed if the .rnx file exists, the files of a
// failed day are left on disk for inspection.
package satref

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/de-bkg/satref/pkg/rinex"
	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"
	"github.com/jonboulle/clockwork"
)

// DefaultBaseURL is the RINEX3 root of the SatRef archive.
const DefaultBaseURL = "https://rinex.geodetic.gov.hk/rinex3"

// use a single instance of Validate, it caches struct info
var validate = validator.New()

// URL returns the archive URL of the daily 30s observation file, e.g.
// https://rinex.geodetic.gov.hk/rinex3/2023/100/hkst/30s/HKST00HKG_R_20231000000_01D_30S_MO.crx.gz
func URL(baseURL string, year, doy int, station string) string {
	return fmt.Sprintf("%s/%d/%s/%s/30s/%s", strings.TrimSuffix(baseURL, "/"), year, rinex.FormatDoy(doy),
		strings.ToLower(station), rinex.Rnx3ObsName(strings.ToUpper(station), year, doy, rinex.ExtCrxGz))
}

// Downloader fetches url into the file dst.
type Downloader interface {
	Download(ctx context.Context, url, dst string) (int64, error)
}

// Options for a fetch run.
type Options struct {
	Year    int `validate:"gte=0"`
	Days    rinex.DayRange
	Station string

	// OutputDir for the downloaded and converted files. Defaults to downloaded_rinex_files/{year}
	// in the current working directory.
	OutputDir string

	// BaseURL of the archive, defaults to DefaultBaseURL.
	BaseURL string `validate:"omitempty,url"`

	// Timeout for a single download, defaults to DefaultTimeout. Ignored if Downloader is set.
	Timeout time.Duration `validate:"gte=0"`

	// KeepIntermediates keeps the .crx.gz and .crx files of successfully converted days.
	KeepIntermediates bool

	Downloader   Downloader         `validate:"-"` // defaults to a Client
	Decompressor rinex.Decompressor `validate:"-"` // defaults to rinex.CRX2RNX
	Logger       *log.Logger        `validate:"-"` // defaults to log.Default()
	Clock        clockwork.Clock    `validate:"-"` // defaults to the real clock
}

// Fetcher downloads and converts the files of a day range.
type Fetcher struct {
	opts Options
	log  *log.Logger
}

// New validates the options and resolves their defaults.
func New(opts Options) (*Fetcher, error) {
	if err := validate.Struct(opts); err != nil {
		return nil, err
	}

	if opts.OutputDir == "" {
		opts.OutputDir = filepath.Join("downloaded_rinex_files", strconv.Itoa(opts.Year))
	}
	dir, err := filepath.Abs(opts.OutputDir)
	if err != nil {
		return nil, err
	}
	opts.OutputDir = dir

	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Downloader == nil {
		opts.Downloader = NewClient(opts.Timeout)
	}
	if opts.Decompressor == nil {
		opts.Decompressor = rinex.CRX2RNX{Logger: opts.Logger}
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Fetcher{opts: opts, log: opts.Logger}, nil
}

// OutputDir returns the resolved output directory.
func (f *Fetcher) OutputDir() string {
	return f.opts.OutputDir
}

// Paths returns the paths of the downloaded, the gunzipped and the final file for a day.
func (f *Fetcher) Paths(doy int) (gzPath, crxPath, rnxPath string) {
	o := f.opts
	station := strings.ToUpper(o.Station)
	gzPath = filepath.Join(o.OutputDir, rinex.Rnx3ObsName(station, o.Year, doy, rinex.ExtCrxGz))
	crxPath = filepath.Join(o.OutputDir, rinex.Rnx3ObsName(station, o.Year, doy, rinex.ExtCrx))
	rnxPath = filepath.Join(o.OutputDir, rinex.Rnx3ObsName(station, o.Year, doy, rinex.ExtRnx))
	return
}

// Run processes all days of the range one after the other. Only an uncreatable output directory
// stops the run, per-day failures are logged and reported.
func (f *Fetcher) Run(ctx context.Context) (Report, error) {
	if err := os.MkdirAll(f.opts.OutputDir, 0o755); err != nil {
		return Report{}, err
	}

	days := f.opts.Days.Days()
	rep := Report{Results: make([]Result, 0, len(days))}
	for _, doy := range days {
		rep.Results = append(rep.Results, f.fetchDay(ctx, doy))
	}
	return rep, nil
}

func (f *Fetcher) fetchDay(ctx context.Context, doy int) Result {
	o := f.opts
	gzPath, crxPath, rnxPath := f.Paths(doy)
	res := Result{
		Doy:   doy,
		URL:   URL(o.BaseURL, o.Year, doy, o.Station),
		Path:  rnxPath,
		State: StatePending,
		Start: o.Clock.Now(),
	}

	if fileExists(rnxPath) {
		f.log.Printf("Skipping %s: %s already exists.", res.URL, rnxPath)
		res.State = StateSkipped
		res.End = o.Clock.Now()
		return res
	}

	if err := f.process(ctx, &res, gzPath, crxPath, rnxPath); err != nil {
		res.Stage, res.State, res.Err = res.State.next(), StateFailed, err
		switch {
		case IsNotFound(err):
			f.log.Printf("W! Not available: %s", res.URL)
		case res.Stage == StageDownload:
			f.log.Printf("E! Failed to download %s: %v", res.URL, err)
		default:
			f.log.Printf("E! Error processing file %s: %v", gzPath, err)
		}
	}

	f.cleanup(&res, gzPath, crxPath, rnxPath)
	res.End = o.Clock.Now()
	return res
}

// process runs the download, gunzip and crx2rnx stages, res.State is the last completed one.
func (f *Fetcher) process(ctx context.Context, res *Result, gzPath, crxPath, rnxPath string) error {
	date := rinex.ParseDoy(f.opts.Year, res.Doy).Format("2006-01-02")
	f.log.Printf("Downloading %s (%s)", res.URL, date)
	n, err := f.opts.Downloader.Download(ctx, res.URL, gzPath)
	if err != nil {
		return err
	}
	res.Bytes = n
	res.State = StateDownloaded
	f.log.Printf("Downloaded: %s", gzPath)

	if err := rinex.Gunzip(gzPath, crxPath); err != nil {
		return err
	}
	res.State = StateDecompressed
	f.log.Printf("Unzipped: %s", crxPath)

	produced, err := f.opts.Decompressor.Decompress(crxPath)
	if err != nil {
		return err
	}
	if produced != rnxPath {
		return fmt.Errorf("crx2rnx produced %s, expected %s", produced, rnxPath)
	}
	if !fileExists(rnxPath) {
		return fmt.Errorf("conversion to .rnx failed for %s", crxPath)
	}
	res.State = StateConverted
	f.log.Printf("Converted to .rnx: %s", rnxPath)
	return nil
}

// cleanup removes the intermediate files if the final file exists.
// Removal errors are logged and stored in the result.
func (f *Fetcher) cleanup(res *Result, gzPath, crxPath, rnxPath string) {
	if !fileExists(rnxPath) || f.opts.KeepIntermediates {
		return
	}

	var result *multierror.Error
	for _, path := range []string{gzPath, crxPath} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			result = multierror.Append(result, err)
		}
	}
	if result != nil {
		result.ErrorFormat = oneLineErrors
	}
	if err := result.ErrorOrNil(); err != nil {
		f.log.Printf("E! Error deleting temporary files: %v", err)
		res.CleanupErr = err
		return
	}

	f.log.Printf("Cleaned up: %s and %s", gzPath, crxPath)
	if res.State == StateConverted {
		res.State = StateCleaned
	}
}

// oneLineErrors formats a multierror as single log line.
func oneLineErrors(errs []error) string {
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
