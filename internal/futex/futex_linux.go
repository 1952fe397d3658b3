//go:build linux

// Package futex implements the parked-wait primitive spec §4.3/§6 asks
// the OUT/DEBUG drain to use instead of a hot spin loop: a consumer
// goroutine parks on a control-block word until the producer side wakes
// it or constants.ParkedWaitTimeout elapses, whichever comes first.
package futex

import (
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Wait parks the calling goroutine until *addr no longer equals expect,
// timeout elapses, or another thread calls Wake on the same address.
// It never returns an error for a timeout or a spurious wake — both are
// ordinary outcomes the drain loop re-checks state after, matching
// FUTEX_WAIT's own semantics.
func Wait(addr *uint32, expect uint32, timeout time.Duration) {
	ts := unix.NsecToTimespec(timeout.Nanoseconds())
	_ = unix.Futex((*int32)(unsafe.Pointer(addr)), unix.FUTEX_WAIT, int32(expect), &ts, nil, 0)
}

// Wake wakes up to n goroutines parked on addr via Wait.
func Wake(addr *uint32, n int) {
	_ = unix.Futex((*int32)(unsafe.Pointer(addr)), unix.FUTEX_WAKE, int32(n), nil, nil, 0)
}

// PinCurrentGoroutineTo sets the calling OS thread's CPU affinity, for
// the consumer's drain goroutines. Caller must have already called
// runtime.LockOSThread, mirroring the teacher's ioLoop pinning pattern.
func PinCurrentGoroutineTo(cpu int) error {
	var mask unix.CPUSet
	mask.Set(cpu)
	return unix.SchedSetaffinity(0, &mask)
}
