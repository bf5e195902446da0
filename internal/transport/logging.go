package transport

import (
	"fmt"

	"github.com/pion/logging"

	"github.com/1ureka/midirtc/internal/util"
)

// loggerFactory routes pion's internal logging to the process logger.
// Trace output is dropped and Info is demoted to debug; pion is chatty.
type loggerFactory struct{}

var _ logging.LoggerFactory = loggerFactory{}

func (loggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &scopedLogger{scope: scope}
}

type scopedLogger struct {
	scope string
}

func (l *scopedLogger) Trace(string)                  {}
func (l *scopedLogger) Tracef(string, ...interface{}) {}

func (l *scopedLogger) Debug(msg string) { util.LogDebug("[pion/%s] %s", l.scope, msg) }
func (l *scopedLogger) Debugf(format string, args ...interface{}) {
	if util.DebugEnabled() {
		l.Debug(fmt.Sprintf(format, args...))
	}
}

func (l *scopedLogger) Info(msg string) { util.LogDebug("[pion/%s] %s", l.scope, msg) }
func (l *scopedLogger) Infof(format string, args ...interface{}) {
	if util.DebugEnabled() {
		l.Info(fmt.Sprintf(format, args...))
	}
}

func (l *scopedLogger) Warn(msg string) { util.LogWarning("[pion/%s] %s", l.scope, msg) }
func (l *scopedLogger) Warnf(format string, args ...interface{}) {
	l.Warn(fmt.Sprintf(format, args...))
}

func (l *scopedLogger) Error(msg string) { util.LogError("[pion/%s] %s", l.scope, msg) }
func (l *scopedLogger) Errorf(format string, args ...interface{}) {
	l.Error(fmt.Sprintf(format, args...))
}
