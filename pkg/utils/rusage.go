// pkg/utils/rusage.go

package utils

import (
	"syscall"
	"time"
)

// ProcessCPU returns the user and system CPU time spent by this process.
func ProcessCPU() (user, sys time.Duration) {
	var ru syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &ru); err != nil {
		return 0, 0
	}
	return time.Duration(ru.Utime.Nano()), time.Duration(ru.Stime.Nano())
}
