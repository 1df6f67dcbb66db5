// satref2rinex downloads the daily RINEX3 observation files of a SatRef station from the
// Hong Kong Geodetic Survey Services, gunzips and Hatanaka-decompresses them to .rnx files.
package main

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/de-bkg/satref/pkg/rinex"
	"github.com/de-bkg/satref/pkg/satref"
	"github.com/urfave/cli/v2"
)

const (
	version   = "0.1.0"
	argsUsage = "<year> <doy_start> <doy_end> <station_id> <output_directory>"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:      "satref2rinex",
		Usage:     "download SatRef RINEX files and convert them to .rnx",
		ArgsUsage: argsUsage,
		Version:   version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "base-url",
				Value: satref.DefaultBaseURL,
				Usage: "RINEX3 root of the archive",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Value: satref.DefaultTimeout,
				Usage: "timeout for a single download",
			},
			&cli.StringFlag{
				Name:  "crx2rnx",
				Usage: "path to the CRX2RNX executable, searched in the PATH if empty",
			},
			&cli.BoolFlag{
				Name:  "keep-intermediates",
				Usage: "keep the .crx.gz and .crx files of converted days",
			},
		},
		Action: run,
	}
}

func run(c *cli.Context) error {
	usage := fmt.Sprintf("Usage: %s %s", c.App.Name, argsUsage)
	if c.NArg() != 5 {
		return cli.Exit(usage, 1)
	}

	var ints [3]int
	for i := range ints {
		n, err := strconv.Atoi(c.Args().Get(i))
		if err != nil {
			return cli.Exit("Error: Year, doy_start, and doy_end must be integers.\n"+usage, 1)
		}
		ints[i] = n
	}
	year, doyStart, doyEnd := ints[0], ints[1], ints[2]

	logger := log.New(c.App.Writer, "", log.LstdFlags)
	f, err := satref.New(satref.Options{
		Year:              year,
		Days:              rinex.DayRange{Start: doyStart, End: doyEnd},
		Station:           c.Args().Get(3),
		OutputDir:         c.Args().Get(4),
		BaseURL:           c.String("base-url"),
		Timeout:           c.Duration("timeout"),
		KeepIntermediates: c.Bool("keep-intermediates"),
		Decompressor:      rinex.CRX2RNX{Tool: c.String("crx2rnx"), Logger: logger},
		Logger:            logger,
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error: %v\n%s", err, usage), 1)
	}

	rep, err := f.Run(c.Context)
	if err != nil {
		return cli.Exit(err, 1)
	}

	logger.Printf("%d days: %d converted, %d skipped, %d failed",
		len(rep.Results), rep.Count(satref.StateCleaned)+rep.Count(satref.StateConverted),
		rep.Count(satref.StateSkipped), rep.Count(satref.StateFailed))
	for _, res := range rep.Failed() {
		logger.Printf("W! doy %s failed at %s: %v", rinex.FormatDoy(res.Doy), res.Stage, res.Err)
	}
	return nil
}
