// rnxconvert converts the daily RINEX3 observation files of a station to RINEX2 using gfzrnx.
package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/de-bkg/satref/pkg/gfzrnx"
	"github.com/de-bkg/satref/pkg/rinex"
	"github.com/urfave/cli/v2"
)

const (
	version   = "0.1.0"
	argsUsage = "<input_folder> <gfzrnx_exe> <doy_start> <doy_end> <station_name> <year>"
)

func main() {
	if err := newApp().Run(flagsFirst(os.Args)); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:      "rnxconvert",
		Usage:     "convert RINEX files using gfzrnx",
		ArgsUsage: argsUsage,
		Version:   version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "output_folder",
				Usage: "path to the output folder (default: current working directory)",
			},
			&cli.StringFlag{
				Name:  "version-out",
				Value: gfzrnx.DefaultTargetVersion,
				Usage: "RINEX version of the output files",
			},
		},
		Action: run,
	}
}

// valueFlags are the flags taking a separate value argument.
var valueFlags = map[string]bool{"output_folder": true, "version-out": true}

// flagsFirst moves flags given after the positional arguments in front of them,
// so that "rnxconvert in gfzrnx 1 2 HKPC 2023 -output_folder out" works.
// Everything after "--" is left as positional argument.
func flagsFirst(args []string) []string {
	if len(args) == 0 {
		return args
	}
	flags := make([]string, 0, len(args))
	var positional []string
	for i := 1; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			positional = append(positional, args[i:]...)
			break
		}
		if len(arg) < 2 || arg[0] != '-' {
			positional = append(positional, arg)
			continue
		}
		flags = append(flags, arg)
		name := strings.TrimLeft(arg, "-")
		if !strings.Contains(name, "=") && valueFlags[name] && i+1 < len(args) {
			i++
			flags = append(flags, args[i])
		}
	}
	return append(append([]string{args[0]}, flags...), positional...)
}

func run(c *cli.Context) error {
	usage := fmt.Sprintf("Usage: %s [options] %s", c.App.Name, argsUsage)
	if c.NArg() != 6 {
		return cli.Exit(usage, 1)
	}

	args := c.Args()
	doyStart, err := strconv.Atoi(args.Get(2))
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error: invalid doy_start %q\n%s", args.Get(2), usage), 1)
	}
	doyEnd, err := strconv.Atoi(args.Get(3))
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error: invalid doy_end %q\n%s", args.Get(3), usage), 1)
	}
	year, err := strconv.Atoi(args.Get(5))
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error: invalid year %q\n%s", args.Get(5), usage), 1)
	}

	logger := log.New(c.App.Writer, "", log.LstdFlags)
	conv, err := gfzrnx.New(gfzrnx.Options{
		InputDir:      args.Get(0),
		Executable:    args.Get(1),
		Days:          rinex.DayRange{Start: doyStart, End: doyEnd},
		Station:       args.Get(4),
		Year:          year,
		OutputDir:     c.String("output_folder"),
		TargetVersion: c.String("version-out"),
		Logger:        logger,
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error: %v\n%s", err, usage), 1)
	}

	rep, err := conv.Run()
	if err != nil {
		return cli.Exit(err, 1)
	}

	logger.Printf("%d days: %d converted, %d skipped, %d failed", len(rep.Results),
		rep.Count(gfzrnx.StatusConverted), rep.Count(gfzrnx.StatusSkipped), rep.Count(gfzrnx.StatusFailed))
	return nil
}
