package gateway

import (
	"fmt"
	"log/slog"

	"github.com/stripe/stripe-go/v76"
)

// leveledLogger routes the SDK's own diagnostics into slog.
type leveledLogger struct {
	log *slog.Logger
}

var _ stripe.LeveledLoggerInterface = leveledLogger{}

func (l leveledLogger) Debugf(format string, v ...interface{}) { l.log.Debug(fmt.Sprintf(format, v...)) }
func (l leveledLogger) Infof(format string, v ...interface{})  { l.log.Info(fmt.Sprintf(format, v...)) }
func (l leveledLogger) Warnf(format string, v ...interface{})  { l.log.Warn(fmt.Sprintf(format, v...)) }
func (l leveledLogger) Errorf(format string, v ...interface{}) { l.log.Error(fmt.Sprintf(format, v...)) }
