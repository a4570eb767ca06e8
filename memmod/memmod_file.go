//go:build linux && (386 || amd64 || arm64)

package memmod

import (
	"fmt"
	"os"
)

// LoadLibraryFile reads path and loads it the same way LoadLibrary does,
// a convenience for callers that have a path on disk rather than an
// already-read image in memory.
func LoadLibraryFile(path string) (*Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return LoadLibrary(data)
}

// Close releases the module, satisfying io.Closer for callers that
// prefer defer mod.Close() over defer mod.Free().
func (module *Module) Close() error {
	module.Free()
	return nil
}
