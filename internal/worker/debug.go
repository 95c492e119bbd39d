package worker

import (
	"os"
	"strings"

	"jettyreport/internal/logger"
)

var workerDebugEnabled = strings.EqualFold(os.Getenv("JETTYREPORT_WORKER_DEBUG"), "1")

func debugLog(format string, args ...interface{}) {
	if workerDebugEnabled {
		logger.Infof(format, args...)
		return
	}
	logger.Debugf(format, args...)
}
