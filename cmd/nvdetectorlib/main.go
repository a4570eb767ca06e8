// Command nvdetectorlib builds the C-ABI façade over this module as a
// -buildmode=c-shared object, the same way the test harness builds
// testdata/go/leaker. Any process can dlopen the
// resulting shared object and call these exports directly, without
// embedding Go.
package main

/*
#include <stdlib.h>
*/
import "C"

import (
	"sync"

	"github.com/nvdetector/nvdetector"
	"github.com/nvdetector/nvdetector/output"
)

const (
	detectorOptionMemory = 1
	detectorOptionLock   = 2

	outputOptionConsole = 1
	outputOptionFile    = 2
)

var (
	mu   sync.Mutex
	inst *nvdetector.Orchestrator
)

func decodeMode(opt C.int) nvdetector.Mode {
	var mode nvdetector.Mode
	if int(opt)&detectorOptionMemory != 0 {
		mode |= nvdetector.ModeMemory
	}
	if int(opt)&detectorOptionLock != 0 {
		mode |= nvdetector.ModeLock
	}
	return mode
}

func decodeOutput(opt C.int) output.Mode {
	switch int(opt) {
	case outputOptionConsole:
		return output.ModeConsole
	case outputOptionFile:
		return output.ModeFile
	default:
		return output.ModeConsoleFile
	}
}

//export DetectorInit
func DetectorInit(workDir *C.char, mode C.int, outputOpt C.int) {
	mu.Lock()
	defer mu.Unlock()

	dir := ""
	if workDir != nil {
		dir = C.GoString(workDir)
	}

	o, err := nvdetector.New(nvdetector.Config{
		Mode:    decodeMode(mode),
		Output:  decodeOutput(outputOpt),
		WorkDir: dir,
	})
	if err != nil {
		output.Default().ConsolePrintf("ERROR: DetectorInit: %v\n", err)
		return
	}
	inst = o
}

//export DetectorRegister
func DetectorRegister(libName *C.char) {
	mu.Lock()
	defer mu.Unlock()
	if inst == nil || libName == nil {
		return
	}
	if err := inst.Register(C.GoString(libName)); err != nil {
		output.Default().ConsolePrintf("ERROR: DetectorRegister: %v\n", err)
	}
}

//export DetectorRegisterMain
func DetectorRegisterMain() {
	mu.Lock()
	defer mu.Unlock()
	if inst == nil {
		return
	}
	if err := inst.RegisterMain(); err != nil {
		output.Default().ConsolePrintf("ERROR: DetectorRegisterMain: %v\n", err)
	}
}

//export DetectorStart
func DetectorStart() {
	mu.Lock()
	defer mu.Unlock()
	if inst == nil {
		return
	}
	if err := inst.Start(); err != nil {
		output.Default().ConsolePrintf("WARNING: DetectorStart: %v\n", err)
	}
}

//export DetectorDetect
func DetectorDetect() {
	mu.Lock()
	defer mu.Unlock()
	if inst == nil {
		return
	}
	inst.Detect()
}

func main() {}
