package locktrack

import (
	"testing"

	"github.com/nvdetector/nvdetector/output"
)

func newTestRegistry() *Registry {
	return &Registry{
		activeLocks: make(map[uintptr]*LockInfo),
		threads:     make(map[uint64]*ThreadInfo),
	}
}

func TestAcquireAcquiredReleaseNoContention(t *testing.T) {
	r := newTestRegistry()

	r.Acquiring(0x100)
	r.Acquired(0x100)

	if len(r.activeLocks) != 1 {
		t.Fatalf("expected one active lock, got %d", len(r.activeLocks))
	}
	if !r.activeLocks[0x100].Acquired {
		t.Fatalf("expected lock to be marked acquired")
	}

	r.Released(0x100)
	if len(r.activeLocks) != 0 {
		t.Fatalf("expected no active locks after release, got %d", len(r.activeLocks))
	}
}

func TestDetectDeadlockOnTwoLockCycle(t *testing.T) {
	r := newTestRegistry()

	const threadA, threadB uint64 = 1, 2

	// Thread A takes lock 0x1, thread B takes lock 0x2.
	withThread(threadA, func() {
		r.Acquiring(0x1)
		r.Acquired(0x1)
	})
	withThread(threadB, func() {
		r.Acquiring(0x2)
		r.Acquired(0x2)
	})

	// Thread A now waits on lock 0x2 (held by B): no cycle yet.
	withThread(threadA, func() {
		r.Acquiring(0x2)
	})
	if len(r.pendingDeadlock) != 0 {
		t.Fatalf("expected no deadlock after one-directional wait, got %v", r.pendingDeadlock)
	}

	// Thread B now waits on lock 0x1 (held by A): this closes the cycle.
	withThread(threadB, func() {
		r.Acquiring(0x1)
	})
	if len(r.pendingDeadlock) == 0 {
		t.Fatalf("expected a deadlock to be detected on the closing wait")
	}
}

func TestReportClearsPendingDeadlock(t *testing.T) {
	r := newTestRegistry()
	r.pendingDeadlock = []chainLink{{lock: 0x1, thread: 1}}

	sink := output.Default()
	sink.Configure(output.ModeConsole, "")

	r.Report(sink)

	if len(r.pendingDeadlock) != 0 {
		t.Fatalf("expected Report to clear pendingDeadlock")
	}
}

func TestDefaultIsSingleton(t *testing.T) {
	if Default() != Default() {
		t.Fatalf("Default() returned different instances")
	}
}

// withThread overrides currentThreadID for the duration of fn, so tests
// can simulate multiple threads without spawning real OS threads.
func withThread(id uint64, fn func()) {
	prev := threadIDOverride
	threadIDOverride = &id
	defer func() { threadIDOverride = prev }()
	fn()
}
