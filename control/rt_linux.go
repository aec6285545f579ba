//go:build linux

package control

import (
	"unsafe"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

type schedParam struct {
	priority int32
}

// setupRT pins the locked cycle thread to the given CPU and requests
// SCHED_FIFO at the given priority. Both are best effort: an unprivileged
// process keeps running at normal priority with a warning.
func setupRT(cpu, priority int, log *logrus.Entry) {
	if cpu >= 0 {
		var set unix.CPUSet
		set.Set(cpu)
		if err := unix.SchedSetaffinity(0, &set); err != nil {
			log.WithError(err).Warnf("failed to pin cycle thread to cpu %d", cpu)
		}
	}
	if priority > 0 {
		param := schedParam{priority: int32(priority)}
		_, _, errno := unix.Syscall(unix.SYS_SCHED_SETSCHEDULER, 0,
			uintptr(unix.SCHED_FIFO), uintptr(unsafe.Pointer(&param)))
		if errno != 0 {
			log.WithError(errno).Warnf("failed to set SCHED_FIFO priority %d", priority)
		}
	}
}
