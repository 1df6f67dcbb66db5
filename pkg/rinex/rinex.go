// Package rinex provides RINEX filename handling and the compression stages
// needed to turn a downloaded Hatanaka/gzip archive into a plain RINEX file.
package rinex

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// File extensions used in the lifecycle of a daily observation file.
const (
	ExtRnx   = "rnx"
	ExtCrx   = "crx"
	ExtCrxGz = "crx.gz"
)

// The fixed parts of a SatRef RINEX3 daily observation filename.
const (
	rnx3MonRecCountry = "00HKG"
	rnx3DataSource    = "R"
	rnx3Period        = "01D"
	rnx3Freq          = "30S"
	rnx3DataType      = "MO"
)

// Rnx2FileNamePattern is the regex for RINEX2 filenames.
var Rnx2FileNamePattern = regexp.MustCompile(`(([a-z0-9]{4})(\d{3})([a-x0])(\d{2})?\.(\d{2})([domnglqfph]))\.?([a-zA-Z0-9]+)?`)

// DayRange is an inclusive range of days of year.
// No year boundary check is done, day 366 of a non-leap year is passed through.
type DayRange struct {
	Start int `validate:"gte=0"`
	End   int `validate:"gte=0"`
}

// Days returns the days of the range in ascending order.
// The result is empty if Start is after End.
func (r DayRange) Days() []int {
	if r.Start > r.End {
		return nil
	}
	days := make([]int, 0, r.End-r.Start+1)
	for doy := r.Start; doy <= r.End; doy++ {
		days = append(days, doy)
	}
	return days
}

func (r DayRange) String() string {
	return fmt.Sprintf("%s-%s", FormatDoy(r.Start), FormatDoy(r.End))
}

// FormatDoy returns the day of year as zero-padded 3 digit string.
func FormatDoy(doy int) string {
	return fmt.Sprintf("%03d", doy)
}

// ShortYear returns the 2 digit year used in RINEX2 filenames.
func ShortYear(year int) string {
	return fmt.Sprintf("%02d", year%100)
}

// Rnx3ObsName returns the RINEX3 daily 30s observation filename for the given station and day,
// e.g. HKST00HKG_R_20231000000_01D_30S_MO.crx.gz.
// The station is used as given, callers have to care for the case.
func Rnx3ObsName(station string, year, doy int, ext string) string {
	var fn strings.Builder
	fn.WriteString(station)
	fn.WriteString(rnx3MonRecCountry)
	fn.WriteString("_" + rnx3DataSource + "_")
	fn.WriteString(strconv.Itoa(year))
	fn.WriteString(FormatDoy(doy))
	fn.WriteString("0000")
	fn.WriteString("_" + rnx3Period)
	fn.WriteString("_" + rnx3Freq)
	fn.WriteString("_" + rnx3DataType)
	fn.WriteString("." + ext)
	return fn.String()
}

// Rnx2ObsName returns the RINEX2 daily observation filename, e.g. hkpc0500.23o.
func Rnx2ObsName(station string, year, doy int) string {
	return strings.ToLower(station) + FormatDoy(doy) + "0." + ShortYear(year) + "o"
}

// ParseDoy returns the UTC-Time corresponding to the given year and day of year.
func ParseDoy(year, doy int) time.Time {
	y := year
	if year > 80 && year <= 99 {
		y += 1900
	} else if year <= 80 {
		y += 2000
	}
	t := time.Date(y, 1, 0, 0, 0, 0, 0, time.UTC)
	return t.AddDate(0, 0, doy)
}
