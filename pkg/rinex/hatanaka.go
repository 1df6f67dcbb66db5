package rinex

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
)

// Decompressor decompresses a Hatanaka-compressed RINEX obs file and returns
// the path of the produced RINEX file, which is a sibling of crxPath.
// The compressed file is left in place.
type Decompressor interface {
	Decompress(crxPath string) (string, error)
}

// CRX2RNX is a Decompressor using the CRX2RNX tool,
// see http://terras.gsi.go.jp/ja/crx2rnx.html
type CRX2RNX struct {
	// Tool is the path to the executable. If empty, CRX2RNX is searched in the PATH.
	Tool string

	// Logger for tool warnings, defaults to log.Default().
	Logger *log.Logger
}

// IsHatanakaCompressed returns true if the file given by filename is Hatanaka compressed.
// This is checked by the filenames' extension.
func IsHatanakaCompressed(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == ".crx" || (len(ext) == 4 && strings.HasSuffix(ext, "d")) { // .21d
		return true
	}
	return false
}

// RnxFilename returns the name of the decompressed file for a Hatanaka-compressed file,
// i.e. .crx gets .rnx and the RINEX2 type d gets o.
func RnxFilename(crxFilename string) (string, error) {
	dir, crxFil := filepath.Split(crxFilename)

	rnxFil := ""
	if strings.HasSuffix(crxFil, "."+ExtCrx) {
		rnxFil = strings.TrimSuffix(crxFil, ExtCrx) + ExtRnx
	} else if Rnx2FileNamePattern.MatchString(crxFil) {
		typ := "o"
		if strings.HasSuffix(crxFil, "D") {
			typ = "O"
		}
		rnxFil = Rnx2FileNamePattern.ReplaceAllString(crxFil, "${2}${3}${4}${5}.${6}"+typ)
	} else {
		return "", fmt.Errorf("crx2rnx: file has no standard RINEX extension")
	}

	if rnxFil == "" || rnxFil == crxFil {
		return "", fmt.Errorf("crx2rnx: could not build uncompressed filename")
	}
	return filepath.Join(dir, rnxFil), nil
}

// Decompress runs the CRX2RNX tool on crxFilename and returns the decompressed filename.
func (c CRX2RNX) Decompress(crxFilename string) (string, error) {
	if !IsHatanakaCompressed(crxFilename) {
		return crxFilename, nil
	}

	tool := c.Tool
	if tool == "" {
		var err error
		if tool, err = exec.LookPath("CRX2RNX"); err != nil {
			return "", err
		}
	}

	rnxFilePath, err := RnxFilename(crxFilename)
	if err != nil {
		return "", err
	}

	// -f overwrites an existing output file, the input file is kept.
	cmd := exec.Command(tool, crxFilename, "-f")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	// Launch as new process group so that signals (ex: SIGINT) are not sent also the the child process.
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true, // linux
	}

	err = cmd.Run()
	if err != nil {
		rc := -1
		if cmd.ProcessState != nil {
			rc = cmd.ProcessState.ExitCode()
		}
		if rc == 2 { // Warning
			c.logger().Printf("W! crx2rnx: %s", stderr.Bytes())
		} else { // Error
			if _, err := os.Stat(rnxFilePath); !errors.Is(err, os.ErrNotExist) {
				os.Remove(rnxFilePath)
			}
			return "", fmt.Errorf("crx2rnx: rc:%d: %v: %s", rc, err, stderr.Bytes())
		}
	}

	if _, err := os.Stat(rnxFilePath); errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("crx2rnx: no such file: %s", rnxFilePath)
	}
	return rnxFilePath, nil
}

func (c CRX2RNX) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Default()
}
