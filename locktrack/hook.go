package locktrack

import (
	"fmt"

	"github.com/nvdetector/nvdetector/output"
	"github.com/nvdetector/nvdetector/plthook"
	"github.com/nvdetector/nvdetector/shim"
)

// Hook installs pthread mutex shims into one loaded object, mirroring
// LockHook::Start.
type Hook struct {
	path     string
	registry *Registry
}

// NewHook returns a Hook that will record through registry.
func NewHook(path string, registry *Registry) *Hook {
	return &Hook{path: path, registry: registry}
}

// Start rewrites path's pthread_mutex_lock/unlock/trylock entry points
// to route through this hook's Registry. trylock is optional: some
// objects never call it, so its absence from the PLT is a warning, not
// an error, matching the original's distinct log levels for the two
// cases.
func (h *Hook) Start(sink *output.Sink) error {
	handle, err := plthook.Open(h.path)
	if err != nil {
		return fmt.Errorf("locktrack: opening %q: %w", displayPath(h.path), err)
	}

	shim.InstallLockRegistry(h.registry)

	if fn, ok := shim.LockFuncAddr("pthread_mutex_lock"); ok {
		if original, err := handle.Replace("pthread_mutex_lock", fn); err != nil {
			sink.Printf("ERROR: Failed to hook pthread_mutex_lock: %v\n", err)
		} else {
			shim.StoreOriginal("pthread_mutex_lock", original)
		}
	}

	if fn, ok := shim.LockFuncAddr("pthread_mutex_unlock"); ok {
		if original, err := handle.Replace("pthread_mutex_unlock", fn); err != nil {
			sink.Printf("ERROR: Failed to hook pthread_mutex_unlock: %v\n", err)
		} else {
			shim.StoreOriginal("pthread_mutex_unlock", original)
		}
	}

	if fn, ok := shim.LockFuncAddr("pthread_mutex_trylock"); ok {
		if original, err := handle.Replace("pthread_mutex_trylock", fn); err != nil {
			sink.Printf("WARNING: Note: pthread_mutex_trylock not found in PLT: %v\n", err)
		} else {
			shim.StoreOriginal("pthread_mutex_trylock", original)
		}
	}

	return nil
}

func displayPath(path string) string {
	if path == "" {
		return "<main executable>"
	}
	return path
}
