// Package procmaps parses /proc/self/maps into permission-tagged regions.
//
// Both plthook (page-protection snapshots for GOT patching) and memmod
// (locating the resident libc mapping) need this; it used to be duplicated
// between them, so it now lives here once.
package procmaps

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Entry describes one mapped region from /proc/self/maps.
type Entry struct {
	Start  uintptr
	End    uintptr
	Perms  string
	Offset uintptr
	Path   string
}

// Prot returns the PROT_* bitmask (golang.org/x/sys/unix constants)
// implied by the rwx permission characters.
func (e Entry) Prot() int {
	var prot int
	if len(e.Perms) >= 3 {
		if e.Perms[0] == 'r' {
			prot |= unix.PROT_READ
		}
		if e.Perms[1] == 'w' {
			prot |= unix.PROT_WRITE
		}
		if e.Perms[2] == 'x' {
			prot |= unix.PROT_EXEC
		}
	}
	return prot
}

// Read snapshots the current process's memory map.
func Read() ([]Entry, error) {
	f, err := os.Open("/proc/self/maps")
	if err != nil {
		return nil, fmt.Errorf("procmaps: open /proc/self/maps: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}
		rng := strings.SplitN(fields[0], "-", 2)
		if len(rng) != 2 {
			continue
		}
		start, err := strconv.ParseUint(rng[0], 16, 64)
		if err != nil {
			continue
		}
		end, err := strconv.ParseUint(rng[1], 16, 64)
		if err != nil {
			continue
		}
		offset, err := strconv.ParseUint(fields[2], 16, 64)
		if err != nil {
			continue
		}
		path := ""
		if len(fields) >= 6 {
			path = strings.TrimSuffix(strings.Join(fields[5:], " "), " (deleted)")
		}
		entries = append(entries, Entry{
			Start:  uintptr(start),
			End:    uintptr(end),
			Perms:  fields[1],
			Offset: uintptr(offset),
			Path:   path,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("procmaps: scan /proc/self/maps: %w", err)
	}
	return entries, nil
}

// ProtectionAt returns the protection bitmask of the entry containing addr,
// and whether one was found.
func ProtectionAt(entries []Entry, addr uintptr) (int, bool) {
	for _, e := range entries {
		if e.Start <= addr && addr < e.End {
			return e.Prot(), true
		}
	}
	return 0, false
}

// BestLibc picks the entry most likely to be the process's libc (or musl)
// mapping, scoring candidates the way a dynamic loader's SONAME search
// would: exact libc.so, libc-<ver>.so, then musl variants.
func BestLibc(entries []Entry) (Entry, bool) {
	bestScore := -1
	var best Entry
	for _, e := range entries {
		score := libcScore(e.Path)
		if score > bestScore {
			bestScore = score
			best = e
		}
	}
	if bestScore < 0 {
		return Entry{}, false
	}
	return best, true
}

func libcScore(path string) int {
	p := strings.ToLower(path)
	switch {
	case strings.Contains(p, "libc.so"):
		return 100
	case strings.Contains(p, "libc-"):
		return 95
	case strings.Contains(p, "ld-musl"):
		return 90
	case strings.Contains(p, "musl"):
		return 85
	case strings.Contains(p, "ld-linux"):
		return 80
	default:
		return -1
	}
}
