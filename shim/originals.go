// Package shim holds the C-ABI functions whose addresses get written
// into GOT slots by plthook, plus the process-wide storage for the
// original function pointers they call through to. A shimmed function
// has no closure, so there is nowhere else to keep the original
// address between the moment plthook.Replace captures it and the
// moment the shim is first invoked.
package shim

import (
	"fmt"
	"sync"
	"sync/atomic"
)

var originals sync.Map // string -> *atomic.Uintptr

// StoreOriginal records addr as the function that symbol used to point
// to before it was patched. Called once per symbol, right after
// plthook.Replace returns.
func StoreOriginal(symbol string, addr uintptr) {
	cell, _ := originals.LoadOrStore(symbol, new(atomic.Uintptr))
	cell.(*atomic.Uintptr).Store(addr)
}

// LoadOriginal returns the address previously stored for symbol.
func LoadOriginal(symbol string) (uintptr, bool) {
	v, ok := originals.Load(symbol)
	if !ok {
		return 0, false
	}
	addr := v.(*atomic.Uintptr).Load()
	return addr, addr != 0
}

func mustLoadOriginal(symbol string) uintptr {
	addr, ok := LoadOriginal(symbol)
	if !ok {
		panic(fmt.Sprintf("shim: %s invoked before its original address was stored", symbol))
	}
	return addr
}
