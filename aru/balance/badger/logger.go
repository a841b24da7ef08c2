package badger

import (
	"context"
	"fmt"
	"strings"

	alog "github.com/impulsar/lib-aru/aru/log"
)

// badgerLogger routes Badger's printf-style logging into alog.Logger.
type badgerLogger struct {
	logger alog.Logger
}

func (l *badgerLogger) log(level alog.Level, format string, args ...any) {
	if !l.logger.Enabled(level) {
		return
	}

	msg := strings.TrimSpace(fmt.Sprintf(format, args...))
	l.logger.Log(context.Background(), level, msg, alog.String("component", "badger"))
}

func (l *badgerLogger) Errorf(format string, args ...any)   { l.log(alog.LevelError, format, args...) }
func (l *badgerLogger) Warningf(format string, args ...any) { l.log(alog.LevelWarn, format, args...) }
func (l *badgerLogger) Infof(format string, args ...any)    { l.log(alog.LevelInfo, format, args...) }
func (l *badgerLogger) Debugf(format string, args ...any)   { l.log(alog.LevelDebug, format, args...) }
