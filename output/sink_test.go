package output

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func newTestSink(buf *bytes.Buffer) *Sink {
	return &Sink{mode: ModeConsoleFile, console: buf}
}

func TestPrintfConsoleOnly(t *testing.T) {
	var buf bytes.Buffer
	s := newTestSink(&buf)
	s.mode = ModeConsole

	s.Printf("hello %d", 42)
	if got := buf.String(); got != "hello 42" {
		t.Fatalf("Printf console output = %q, want %q", got, "hello 42")
	}
}

func TestConfigureOpensFileAndWritesBoth(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "detector.log")

	var buf bytes.Buffer
	s := newTestSink(&buf)
	if err := s.Configure(ModeConsoleFile, path); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	t.Cleanup(s.Close)

	s.Printf("leak detected: %d bytes", 128)

	if got := buf.String(); got != "leak detected: 128 bytes" {
		t.Fatalf("console output = %q", got)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if string(contents) != "leak detected: 128 bytes" {
		t.Fatalf("file output = %q", string(contents))
	}
}

func TestConfigureModeFileSuppressesConsole(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "detector.log")

	var buf bytes.Buffer
	s := newTestSink(&buf)
	if err := s.Configure(ModeFile, path); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	t.Cleanup(s.Close)

	s.Printf("file only")

	if buf.Len() != 0 {
		t.Fatalf("expected no console output in ModeFile, got %q", buf.String())
	}
	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if string(contents) != "file only" {
		t.Fatalf("file output = %q", string(contents))
	}
}

func TestConsolePrintfSuppressedInModeFile(t *testing.T) {
	var buf bytes.Buffer
	s := newTestSink(&buf)
	s.mode = ModeFile

	s.ConsolePrintf("should not appear")
	if buf.Len() != 0 {
		t.Fatalf("ConsolePrintf wrote to console in ModeFile: %q", buf.String())
	}
}

func TestFilePrintfSuppressedInModeConsole(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "detector.log")

	var buf bytes.Buffer
	s := newTestSink(&buf)
	if err := s.Configure(ModeConsoleFile, path); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	t.Cleanup(s.Close)

	s.mode = ModeConsole
	s.FilePrintf("should not land in file")

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if len(contents) != 0 {
		t.Fatalf("expected empty log file, got %q", string(contents))
	}
}

func TestDefaultIsSingleton(t *testing.T) {
	if Default() != Default() {
		t.Fatalf("Default() returned different instances")
	}
}
