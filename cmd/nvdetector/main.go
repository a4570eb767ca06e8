// Command nvdetector loads a target shared library into this process,
// arms memory and/or lock instrumentation against it, calls one of its
// exports, and prints the resulting report. It is the primary
// hand-driven integration surface for the whole module: a single
// purpose "load and call an export" CLI.
package main

import (
	"fmt"
	"os"

	"github.com/nvdetector/nvdetector"
	"github.com/nvdetector/nvdetector/memmod"
	"github.com/nvdetector/nvdetector/output"
	"github.com/spf13/cobra"
)

var (
	callExport string
	workDir    string
	wantMemory bool
	wantLock   bool
	wantFile   bool
)

var rootCmd = &cobra.Command{
	Use:          "nvdetector <shared library>",
	Short:        "Load a shared library, instrument it, call an export, and report leaks/deadlocks",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]

		library, err := memmod.LoadLibraryFile(path)
		if err != nil {
			return err
		}
		defer library.Close()

		mode := nvdetector.Mode(0)
		if wantMemory {
			mode |= nvdetector.ModeMemory
		}
		if wantLock {
			mode |= nvdetector.ModeLock
		}
		if mode == 0 {
			mode = nvdetector.ModeMemory | nvdetector.ModeLock
		}

		outputMode := output.ModeConsole
		if wantFile {
			outputMode = output.ModeConsoleFile
		}

		orchestrator, err := nvdetector.New(nvdetector.Config{
			Mode:    mode,
			Output:  outputMode,
			WorkDir: workDir,
		})
		if err != nil {
			return err
		}
		defer orchestrator.Close()

		if err := orchestrator.Register(path); err != nil {
			return err
		}
		if err := orchestrator.Start(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "instrumentation warnings: %v\n", err)
		}

		if err := library.CallExport(callExport); err != nil {
			return err
		}

		orchestrator.Detect()
		return nil
	},
}

func init() {
	rootCmd.Flags().StringVar(&callExport, "call-export", "StartW", "entry symbol to resolve and call in the shared library")
	rootCmd.Flags().StringVar(&workDir, "work-dir", "nvdetector-logs", "directory to write the detector log file under")
	rootCmd.Flags().BoolVar(&wantMemory, "memory", false, "enable memory leak detection (default: both, if neither flag is set)")
	rootCmd.Flags().BoolVar(&wantLock, "lock", false, "enable mutex deadlock detection (default: both, if neither flag is set)")
	rootCmd.Flags().BoolVar(&wantFile, "log-file", false, "also write the report to a log file under --work-dir")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
