// pkg/utils/clock.go

package utils

import "time"

var started = time.Now()

// Clock is a monotonic reading since process start, for measuring operations.
func Clock() time.Duration {
	return time.Since(started)
}
