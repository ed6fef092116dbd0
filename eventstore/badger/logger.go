package badger

import (
	"context"
	"fmt"

	"github.com/GabrielCarpr/eventcore/log"
)

// badgerLogger sends badger's own logging through the log package.
type badgerLogger struct{}

func (badgerLogger) Errorf(msg string, args ...interface{}) {
	log.Error(context.Background(), fmt.Sprintf(msg, args...), log.F{"component": "badger"})
}

func (badgerLogger) Warningf(msg string, args ...interface{}) {
	log.Warn(context.Background(), fmt.Sprintf(msg, args...), log.F{"component": "badger"})
}

func (badgerLogger) Infof(msg string, args ...interface{}) {
	log.Debug(context.Background(), fmt.Sprintf(msg, args...), log.F{"component": "badger"})
}

func (badgerLogger) Debugf(msg string, args ...interface{}) {
	log.Debug(context.Background(), fmt.Sprintf(msg, args...), log.F{"component": "badger"})
}
