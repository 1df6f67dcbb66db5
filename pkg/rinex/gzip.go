package rinex

import (
	"fmt"
	"os"

	"github.com/mholt/archiver/v3"
)

// Gunzip decompresses the gzip file src into dst. An existing dst is truncated.
// On error a partially written dst is left on disk.
func Gunzip(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if err := archiver.NewGz().Decompress(in, out); err != nil {
		out.Close()
		return fmt.Errorf("gunzip %s: %v", src, err)
	}
	return out.Close()
}
