// Package output multiplexes detector reports to the console, a log
// file, or both, the way original_source/src/output_control.cpp's
// OutputControl does for the C++ implementation this package models.
package output

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Mode selects which destinations Printf writes to.
type Mode int

const (
	ModeConsoleFile Mode = iota
	ModeConsole
	ModeFile
)

// Sink is a process-wide, mutex-guarded console/file multiplexer.
// Default returns the singleton every detector component shares,
// mirroring OutputControl::Instance().
type Sink struct {
	mu      sync.Mutex
	mode    Mode
	path    string
	file    *os.File
	console io.Writer
}

var (
	defaultOnce sync.Once
	defaultSink *Sink
)

// Default returns the process-wide Sink instance.
func Default() *Sink {
	defaultOnce.Do(func() {
		defaultSink = &Sink{mode: ModeConsoleFile, console: os.Stdout}
	})
	return defaultSink
}

// Configure sets the active mode and, unless mode is ModeConsole,
// (re)opens the log file at path. An empty path is filled in by the
// caller (the Orchestrator picks workdir/detector_<unix>.log); Configure
// itself never invents a filename. Closes any previously open file
// first, matching Configure's close-before-reconfigure behavior.
func (s *Sink) Configure(mode Mode, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closeFileLocked()
	s.mode = mode
	s.path = path

	if mode == ModeConsole {
		return nil
	}
	return s.openFileLocked()
}

func (s *Sink) openFileLocked() error {
	if s.path == "" {
		return nil
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fmt.Fprintf(s.console, "Failed to create output directory %s: %v\n", dir, err)
			return err
		}
	}
	f, err := os.Create(s.path)
	if err != nil {
		fmt.Fprintf(s.console, "Failed to open output file: %s: %v\n", s.path, err)
		return err
	}
	s.file = f
	return nil
}

func (s *Sink) closeFileLocked() {
	if s.file != nil {
		s.file.Close()
		s.file = nil
	}
}

// Close releases the open log file, if any.
func (s *Sink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeFileLocked()
}

// File returns the currently open log file, or nil.
func (s *Sink) File() *os.File {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file
}

// Printf writes to whichever destinations the configured Mode selects.
func (s *Sink) Printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode == ModeConsoleFile || s.mode == ModeConsole {
		fmt.Fprintf(s.console, format, args...)
	}
	if (s.mode == ModeConsoleFile || s.mode == ModeFile) && s.file != nil {
		fmt.Fprintf(s.file, format, args...)
		s.file.Sync()
	}
}

// FilePrintf writes only to the log file, if one is open.
func (s *Sink) FilePrintf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil || s.mode == ModeConsole {
		return
	}
	fmt.Fprintf(s.file, format, args...)
	s.file.Sync()
}

// ConsolePrintf writes only to the console, unless mode is ModeFile.
func (s *Sink) ConsolePrintf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode == ModeFile {
		return
	}
	fmt.Fprintf(s.console, format, args...)
}

// PrintColored writes text wrapped in color..reset to the console and
// the bare text to the log file, so the log file stays free of escape
// codes.
func (s *Sink) PrintColored(color, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != ModeFile {
		fmt.Fprintf(s.console, "%s%s%s", color, text, Color.Reset)
	}
	if (s.mode == ModeConsoleFile || s.mode == ModeFile) && s.file != nil {
		fmt.Fprint(s.file, text)
		s.file.Sync()
	}
}
