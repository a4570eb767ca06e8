// Package nvdetector is the root, Go-native façade over plthook,
// memtrack, locktrack and output: configure an Orchestrator, register
// the objects to instrument, start the shims, then ask for a report.
//
// It is a mutex-guarded struct with a Close-shaped lifecycle wrapping a
// loaded resource, generalized from "one loaded shared library" to "a
// set of registered objects under live instrumentation".
package nvdetector

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nvdetector/nvdetector/locktrack"
	"github.com/nvdetector/nvdetector/memtrack"
	"github.com/nvdetector/nvdetector/output"
)

// Mode selects which detectors an Orchestrator arms.
type Mode int

const (
	ModeMemory Mode = 1 << iota
	ModeLock
)

func (m Mode) has(bit Mode) bool { return m&bit != 0 }

// Config configures a new Orchestrator.
type Config struct {
	// Mode selects memory tracking, lock tracking, or both.
	Mode Mode
	// Output selects where reports are written.
	Output output.Mode
	// WorkDir is the directory the log file is created under. Empty
	// disables file output even if Output requests it.
	WorkDir string
}

// ErrClosed is returned by any Orchestrator method called after Close.
var ErrClosed = errors.New("nvdetector: orchestrator is closed")

// Orchestrator owns one set of registered objects and the memory/lock
// hooks installed into them.
type Orchestrator struct {
	mu     sync.RWMutex
	closed bool

	memEnabled  bool
	lockEnabled bool

	memRegistry  *memtrack.Registry
	lockRegistry *locktrack.Registry

	memHooks  []*memtrack.Hook
	lockHooks []*locktrack.Hook

	sink *output.Sink
}

// New builds an Orchestrator and configures the output.Sink for it: if
// cfg.Output requests file output, a log is created at
// workdir/detector_<unix-seconds>.log. A failure to create WorkDir is
// reported through the Sink as a warning; New still succeeds and the
// Sink falls back to console-only output.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Mode == 0 {
		cfg.Mode = ModeMemory | ModeLock
	}

	sink := output.Default()

	logPath := ""
	if cfg.Output != output.ModeConsole && cfg.WorkDir != "" {
		if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
			sink.ConsolePrintf("WARNING: could not create work_dir %q: %v\n", cfg.WorkDir, err)
			cfg.Output = output.ModeConsole
		} else {
			logPath = filepath.Join(cfg.WorkDir, fmt.Sprintf("detector_%d.log", time.Now().Unix()))
		}
	}

	if err := sink.Configure(cfg.Output, logPath); err != nil {
		sink.ConsolePrintf("WARNING: could not open log file %q: %v\n", logPath, err)
	}

	o := &Orchestrator{
		memEnabled:  cfg.Mode.has(ModeMemory),
		lockEnabled: cfg.Mode.has(ModeLock),
		sink:        sink,
	}
	if o.memEnabled {
		o.memRegistry = memtrack.Default()
	}
	if o.lockEnabled {
		o.lockRegistry = locktrack.Default()
	}
	return o, nil
}

// Register arms instrumentation for a shared library already mapped
// into this process at path.
func (o *Orchestrator) Register(path string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}
	o.registerLocked(path)
	return nil
}

// RegisterMain arms instrumentation for the main executable; equivalent
// to Register("") under the hood, matching detector.cpp's
// DetectorRegisterMain.
func (o *Orchestrator) RegisterMain() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}
	o.registerLocked("")
	return nil
}

func (o *Orchestrator) registerLocked(path string) {
	if o.memEnabled {
		o.memHooks = append(o.memHooks, memtrack.NewHook(path, o.memRegistry))
	}
	if o.lockEnabled {
		o.lockHooks = append(o.lockHooks, locktrack.NewHook(path, o.lockRegistry))
	}
}

// Start installs shims into every registered object. A failure to open
// one object does not abort the remaining registrations; all per-object
// errors are joined and returned. Failures to patch individual symbols
// are logged through the Sink by each hook.
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}

	var errs []error
	for _, h := range o.memHooks {
		if err := h.Start(o.sink); err != nil {
			errs = append(errs, err)
		}
	}
	for _, h := range o.lockHooks {
		if err := h.Start(o.sink); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Detect renders the current status of every active registry through
// the configured output.Sink.
func (o *Orchestrator) Detect() {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return
	}
	if o.memEnabled {
		o.memRegistry.Report(context.Background(), o.sink)
	}
	if o.lockEnabled {
		o.lockRegistry.Report(o.sink)
	}
}

// Close releases the Orchestrator's output resources (the log file, if
// one is open). Registered shims remain installed in the process: PLT
// rewriting has no practical "undo" once other code may have already
// observed the patched GOT slot, so Close only tears down this
// Orchestrator's own bookkeeping.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	o.sink.Close()
	return nil
}
