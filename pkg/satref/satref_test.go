package satref

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/de-bkg/satref/pkg/rinex"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const crxContent = "1.0                 COMPACT RINEX FORMAT                    CRINEX VERS   / TYPE\n"

func gzipped(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// archive is a fake SatRef server. Paths listed in missing respond with 404.
type archive struct {
	*httptest.Server
	hits    atomic.Int32
	mu      sync.Mutex
	paths   []string
	missing map[string]bool
}

func newArchive(t *testing.T, body []byte) *archive {
	t.Helper()
	a := &archive{missing: map[string]bool{}}
	a.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.hits.Add(1)
		a.mu.Lock()
		a.paths = append(a.paths, r.URL.Path)
		a.mu.Unlock()
		if a.missing[r.URL.Path] {
			http.NotFound(w, r)
			return
		}
		w.Write(body)
	}))
	t.Cleanup(a.Close)
	return a
}

// fakeCrx2rnx writes the .rnx sibling of the .crx file. It fails for files listed in fail.
type fakeCrx2rnx struct {
	calls int
	fail  map[string]bool
}

func (d *fakeCrx2rnx) Decompress(crxPath string) (string, error) {
	d.calls++
	if d.fail[filepath.Base(crxPath)] {
		return "", errors.New("crx2rnx: rc:1: broken file")
	}
	rnxPath := strings.TrimSuffix(crxPath, ".crx") + ".rnx"
	return rnxPath, os.WriteFile(rnxPath, []byte("rinex"), 0o644)
}

type fixture struct {
	dir    string
	arch   *archive
	codec  *fakeCrx2rnx
	logBuf *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	return &fixture{
		dir:    filepath.Join(t.TempDir(), "out"),
		arch:   newArchive(t, gzipped(t, crxContent)),
		codec:  &fakeCrx2rnx{fail: map[string]bool{}},
		logBuf: &bytes.Buffer{},
	}
}

func (f *fixture) fetcher(t *testing.T, station string, year, start, end int) *Fetcher {
	t.Helper()
	fe, err := New(Options{
		Year:         year,
		Days:         rinex.DayRange{Start: start, End: end},
		Station:      station,
		OutputDir:    f.dir,
		BaseURL:      f.arch.URL + "/rinex3",
		Timeout:      5 * time.Second,
		Decompressor: f.codec,
		Logger:       log.New(f.logBuf, "", 0),
	})
	require.NoError(t, err)
	return fe
}

func (f *fixture) name(station string, year, doy int, ext string) string {
	return filepath.Join(f.dir, rinex.Rnx3ObsName(station, year, doy, ext))
}

func TestURL(t *testing.T) {
	assert.Equal(t,
		"https://rinex.geodetic.gov.hk/rinex3/2023/100/hkst/30s/HKST00HKG_R_20231000000_01D_30S_MO.crx.gz",
		URL(DefaultBaseURL, 2023, 100, "HKST"))
	assert.Equal(t,
		"http://localhost/rinex3/2023/007/hkst/30s/HKST00HKG_R_20230070000_01D_30S_MO.crx.gz",
		URL("http://localhost/rinex3/", 2023, 7, "hkSt"))
}

func TestFetcher_Run(t *testing.T) {
	f := newFixture(t)
	fe := f.fetcher(t, "hkst", 2023, 100, 100)

	rep, err := fe.Run(context.Background())
	require.NoError(t, err)

	f.arch.mu.Lock()
	assert.Equal(t, []string{"/rinex3/2023/100/hkst/30s/HKST00HKG_R_20231000000_01D_30S_MO.crx.gz"}, f.arch.paths)
	f.arch.mu.Unlock()
	assert.FileExists(t, f.name("HKST", 2023, 100, rinex.ExtRnx))
	assert.NoFileExists(t, f.name("HKST", 2023, 100, rinex.ExtCrx))
	assert.NoFileExists(t, f.name("HKST", 2023, 100, rinex.ExtCrxGz))

	require.Len(t, rep.Results, 1)
	res := rep.Results[0]
	assert.Equal(t, StateCleaned, res.State)
	assert.NoError(t, res.Err)
	assert.Equal(t, f.name("HKST", 2023, 100, rinex.ExtRnx), res.Path)
	assert.Greater(t, res.Bytes, int64(0))

	out := f.logBuf.String()
	assert.Contains(t, out, "(2023-04-10)")
	assert.Contains(t, out, "Downloaded: ")
	assert.Contains(t, out, "Unzipped: ")
	assert.Contains(t, out, "Converted to .rnx: ")
	assert.Contains(t, out, "Cleaned up: ")
}

func TestFetcher_Idempotent(t *testing.T) {
	f := newFixture(t)
	_, err := f.fetcher(t, "HKST", 2023, 100, 102).Run(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 3, f.arch.hits.Load())

	before := listDir(t, f.dir)
	f.logBuf.Reset()
	rep, err := f.fetcher(t, "HKST", 2023, 100, 102).Run(context.Background())
	require.NoError(t, err)

	assert.EqualValues(t, 3, f.arch.hits.Load(), "no network calls on second run")
	assert.Equal(t, 3, rep.Count(StateSkipped))
	assert.Equal(t, before, listDir(t, f.dir))
	assert.Contains(t, f.logBuf.String(), "already exists")
}

func TestFetcher_SkipExisting(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.MkdirAll(f.dir, 0o755))
	rnx := f.name("HKST", 2023, 100, rinex.ExtRnx)
	require.NoError(t, os.WriteFile(rnx, []byte("already here"), 0o644))

	rep, err := f.fetcher(t, "HKST", 2023, 100, 100).Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, f.arch.hits.Load())
	assert.Zero(t, f.codec.calls)
	assert.Equal(t, StateSkipped, rep.Results[0].State)
	assert.Contains(t, f.logBuf.String(), "Skipping ")
	assert.Contains(t, f.logBuf.String(), rnx+" already exists.")
}

func TestFetcher_NotFoundDoesNotAbort(t *testing.T) {
	f := newFixture(t)
	f.arch.missing["/rinex3/2023/100/hkst/30s/HKST00HKG_R_20231000000_01D_30S_MO.crx.gz"] = true

	rep, err := f.fetcher(t, "HKST", 2023, 100, 101).Run(context.Background())
	require.NoError(t, err)

	assert.EqualValues(t, 2, f.arch.hits.Load())
	require.Len(t, rep.Results, 2)

	failed := rep.Results[0]
	assert.Equal(t, StateFailed, failed.State)
	assert.Equal(t, StageDownload, failed.Stage)
	assert.True(t, IsNotFound(failed.Err))
	assert.NoFileExists(t, f.name("HKST", 2023, 100, rinex.ExtCrxGz))
	assert.NoFileExists(t, f.name("HKST", 2023, 100, rinex.ExtRnx))

	assert.Equal(t, StateCleaned, rep.Results[1].State)
	assert.FileExists(t, f.name("HKST", 2023, 101, rinex.ExtRnx))
	assert.Len(t, rep.Failed(), 1)
	assert.Contains(t, f.logBuf.String(), "W! Not available: "+failed.URL)
}

func TestFetcher_DownloadErrorLogged(t *testing.T) {
	f := newFixture(t)
	f.arch.Close()

	rep, err := f.fetcher(t, "HKST", 2023, 100, 100).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StageDownload, rep.Results[0].Stage)
	assert.False(t, IsNotFound(rep.Results[0].Err))
	assert.Contains(t, f.logBuf.String(), "E! Failed to download ")
}

func TestFetcher_ConversionFailureKeepsIntermediates(t *testing.T) {
	f := newFixture(t)
	f.codec.fail[rinex.Rnx3ObsName("HKST", 2023, 100, rinex.ExtCrx)] = true

	rep, err := f.fetcher(t, "HKST", 2023, 100, 101).Run(context.Background())
	require.NoError(t, err)

	res := rep.Results[0]
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, StageCrx2rnx, res.Stage)
	assert.FileExists(t, f.name("HKST", 2023, 100, rinex.ExtCrxGz))
	assert.FileExists(t, f.name("HKST", 2023, 100, rinex.ExtCrx))
	assert.NoFileExists(t, f.name("HKST", 2023, 100, rinex.ExtRnx))
	assert.Contains(t, f.logBuf.String(), "E! Error processing file ")

	assert.Equal(t, StateCleaned, rep.Results[1].State)
}

func TestFetcher_CorruptArchive(t *testing.T) {
	f := newFixture(t)
	f.arch = newArchive(t, []byte("<html>maintenance</html>"))

	rep, err := f.fetcher(t, "HKST", 2023, 100, 100).Run(context.Background())
	require.NoError(t, err)

	res := rep.Results[0]
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, StageGunzip, res.Stage)
	assert.Zero(t, f.codec.calls)
	assert.FileExists(t, f.name("HKST", 2023, 100, rinex.ExtCrxGz))
}

func TestFetcher_CleanupInvariant(t *testing.T) {
	f := newFixture(t)
	f.arch.missing["/rinex3/2023/050/hkws/30s/HKWS00HKG_R_20230500000_01D_30S_MO.crx.gz"] = true
	f.codec.fail[rinex.Rnx3ObsName("HKWS", 2023, 52, rinex.ExtCrx)] = true

	_, err := f.fetcher(t, "HKWS", 2023, 49, 53).Run(context.Background())
	require.NoError(t, err)

	for doy := 49; doy <= 53; doy++ {
		rnx := f.name("HKWS", 2023, doy, rinex.ExtRnx)
		if fileExists(rnx) {
			assert.NoFileExists(t, f.name("HKWS", 2023, doy, rinex.ExtCrx))
			assert.NoFileExists(t, f.name("HKWS", 2023, doy, rinex.ExtCrxGz))
		}
	}
	assert.NoFileExists(t, f.name("HKWS", 2023, 50, rinex.ExtRnx))
	assert.NoFileExists(t, f.name("HKWS", 2023, 52, rinex.ExtRnx))
	assert.FileExists(t, f.name("HKWS", 2023, 52, rinex.ExtCrxGz))
}

// dirCrx2rnx writes the .rnx file, then replaces the .crx file by a non-empty
// directory so that the removal of the intermediates fails.
type dirCrx2rnx struct{}

func (dirCrx2rnx) Decompress(crxPath string) (string, error) {
	rnxPath := strings.TrimSuffix(crxPath, ".crx") + ".rnx"
	if err := os.WriteFile(rnxPath, []byte("rinex"), 0o644); err != nil {
		return "", err
	}
	if err := os.Remove(crxPath); err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Join(crxPath, "sub"), 0o755); err != nil {
		return "", err
	}
	return rnxPath, nil
}

func TestFetcher_CleanupError(t *testing.T) {
	f := newFixture(t)
	fe, err := New(Options{
		Year:         2023,
		Days:         rinex.DayRange{Start: 100, End: 101},
		Station:      "HKST",
		OutputDir:    f.dir,
		BaseURL:      f.arch.URL + "/rinex3",
		Decompressor: dirCrx2rnx{},
		Logger:       log.New(f.logBuf, "", 0),
	})
	require.NoError(t, err)

	rep, err := fe.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, rep.Results, 2)
	assert.EqualValues(t, 2, f.arch.hits.Load(), "next day is still processed")

	for _, res := range rep.Results {
		assert.Equal(t, StateConverted, res.State)
		assert.NoError(t, res.Err)
		require.Error(t, res.CleanupErr)
		assert.Contains(t, res.CleanupErr.Error(), rinex.Rnx3ObsName("HKST", 2023, res.Doy, rinex.ExtCrx))
		assert.FileExists(t, res.Path)
		assert.NoFileExists(t, f.name("HKST", 2023, res.Doy, rinex.ExtCrxGz))
	}

	out := f.logBuf.String()
	assert.Contains(t, out, "E! Error deleting temporary files: ")
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		assert.False(t, strings.HasPrefix(line, "\t"), "one line per event: %q", line)
	}
	assert.NotContains(t, out, "error occurred")
}

func TestFetcher_KeepIntermediates(t *testing.T) {
	f := newFixture(t)
	fe, err := New(Options{
		Year:              2023,
		Days:              rinex.DayRange{Start: 1, End: 1},
		Station:           "HKST",
		OutputDir:         f.dir,
		BaseURL:           f.arch.URL + "/rinex3",
		KeepIntermediates: true,
		Decompressor:      f.codec,
		Logger:            log.New(f.logBuf, "", 0),
	})
	require.NoError(t, err)

	rep, err := fe.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateConverted, rep.Results[0].State)
	assert.FileExists(t, f.name("HKST", 2023, 1, rinex.ExtCrxGz))
	assert.FileExists(t, f.name("HKST", 2023, 1, rinex.ExtCrx))
	assert.FileExists(t, f.name("HKST", 2023, 1, rinex.ExtRnx))
}

func TestFetcher_Clock(t *testing.T) {
	f := newFixture(t)
	t0 := time.Date(2023, 4, 11, 8, 0, 0, 0, time.UTC)
	fe := f.fetcher(t, "HKST", 2023, 100, 100)
	fe.opts.Clock = clockwork.NewFakeClockAt(t0)

	rep, err := fe.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, t0, rep.Results[0].Start)
	assert.Zero(t, rep.Results[0].Duration())
}

func TestNew_Defaults(t *testing.T) {
	fe, err := New(Options{Year: 2023, Days: rinex.DayRange{Start: 1, End: 2}, Station: "HKST"})
	require.NoError(t, err)

	wd, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(wd, "downloaded_rinex_files", "2023"), fe.OutputDir())
	assert.Equal(t, DefaultBaseURL, fe.opts.BaseURL)
	assert.IsType(t, rinex.CRX2RNX{}, fe.opts.Decompressor)
	require.IsType(t, &Client{}, fe.opts.Downloader)
	assert.Equal(t, DefaultTimeout, fe.opts.Downloader.(*Client).Timeout)
}

func TestNew_Validate(t *testing.T) {
	_, err := New(Options{Year: -1, Station: "HKST"})
	assert.Error(t, err)

	_, err = New(Options{Year: 2023, Days: rinex.DayRange{Start: -1, End: 2}, Station: "HKST"})
	assert.Error(t, err)

	_, err = New(Options{Year: 2023, Station: "HKST", BaseURL: "no url"})
	assert.Error(t, err)
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}
