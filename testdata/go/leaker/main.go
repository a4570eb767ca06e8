package main

/*
#include <stdlib.h>

static void *leaker_alloc(size_t n) { return malloc(n); }
static void leaker_free(void *p) { free(p); }
*/
import "C"

// RunLeak allocates a block through the C allocator and intentionally
// never frees it, giving an instrumented harness something to flag.
//export RunLeak
func RunLeak() {
	C.leaker_alloc(C.size_t(64))
}

// RunBalanced allocates and frees a block, leaving no outstanding
// allocation behind.
//export RunBalanced
func RunBalanced() {
	p := C.leaker_alloc(C.size_t(64))
	C.leaker_free(p)
}

func main() {}
