//go:build unix && !linux

package transcode

import "golang.org/x/sys/unix"

// lowerPriority only renices; I/O classes are Linux specific.
func lowerPriority(pid int) error {
	return unix.Setpriority(unix.PRIO_PROCESS, pid, 19)
}
