package fsops

import (
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
)

// Hash returns the XXH64 digest (seed 0) of the file at path as 16
// lowercase hex digits.
func (p *Provider) Hash(path string) (string, bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", ok("hash", err)
	}
	defer f.Close()

	d := xxhash.New()
	if _, err := io.Copy(d, f); err != nil {
		return "", ok("hash", err)
	}
	return fmt.Sprintf("%016x", d.Sum64()), true
}
