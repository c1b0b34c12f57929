// pkg/volume/oplog.go

package volume

import (
	"fmt"
	"time"

	"ClusterFS/pkg/utils"

	"github.com/sirupsen/logrus"
)

// SlowOperation is the latency above which an operation is logged at info
// level.
var SlowOperation = time.Second * 10

// logit records the latency of op, started at start (a utils.Clock reading).
func logit(op string, start time.Duration, err error, format string, args ...interface{}) {
	used := utils.Clock() - start
	opDurations.WithLabelValues(op).Observe(used.Seconds())
	if !logger.IsLevelEnabled(logrus.DebugLevel) && used < SlowOperation {
		return
	}
	cmd := op + " " + fmt.Sprintf(format, args...)
	if err != nil {
		cmd += fmt.Sprintf(": %s", err)
	}
	cmd += fmt.Sprintf(" <%.6f>", used.Seconds())
	if used >= SlowOperation {
		logger.Infof("slow operation: %s", cmd)
	} else {
		logger.Debugf("%s", cmd)
	}
}
