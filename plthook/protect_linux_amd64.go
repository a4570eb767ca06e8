//go:build linux && amd64

package plthook

import (
	"fmt"

	"github.com/nvdetector/nvdetector/internal/procmaps"
)

// currentProtection reports the protection bitmask of the mapping
// containing addr, read fresh from /proc/self/maps since GOT pages may
// have been re-protected by an earlier Replace call in this process.
func currentProtection(addr uintptr) (int, error) {
	entries, err := procmaps.Read()
	if err != nil {
		return 0, fmt.Errorf("reading memory map: %w", err)
	}
	prot, ok := procmaps.ProtectionAt(entries, addr)
	if !ok {
		return 0, fmt.Errorf("could not get protection at %#x", addr)
	}
	return prot, nil
}
