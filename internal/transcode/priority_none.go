//go:build !unix

package transcode

// lowerPriority is a no-op where there is no nice(2).
func lowerPriority(pid int) error {
	return nil
}
