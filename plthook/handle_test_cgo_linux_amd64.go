//go:build linux && amd64

package plthook

/*
#include <unistd.h>
#include <sys/types.h>

static pid_t nvdetector_test_fake_getpid(void) {
	return 424242;
}

static void *nvdetector_test_fake_getpid_addr(void) {
	return (void *)&nvdetector_test_fake_getpid;
}
*/
import "C"

// testFakeGetpidAddr and testGetpid exist so handle_test.go (which, being a
// _test.go file, cannot itself contain `import "C"`) can drive a real
// cgo-linked getpid() JUMP_SLOT for TestReplaceAndRestoreRoundTrip.
func testFakeGetpidAddr() uintptr {
	return uintptr(C.nvdetector_test_fake_getpid_addr())
}

func testGetpid() int {
	return int(C.getpid())
}
