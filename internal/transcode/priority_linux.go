package transcode

import (
	"errors"

	"golang.org/x/sys/unix"
)

// from linux/ioprio.h
const (
	ioprioWhoProcess = 1
	ioprioClassIdle  = 3
	ioprioClassShift = 13
)

// lowerPriority sets nice 19 and the idle I/O scheduling class on pid,
// the same as running it under "nice -n 19 ionice -c 3".
func lowerPriority(pid int) error {
	errNice := unix.Setpriority(unix.PRIO_PROCESS, pid, 19)

	var errIO error
	_, _, errno := unix.Syscall(unix.SYS_IOPRIO_SET, ioprioWhoProcess, uintptr(pid), ioprioClassIdle<<ioprioClassShift)
	if errno != 0 {
		errIO = errno
	}
	return errors.Join(errNice, errIO)
}
