package log

import (
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v3"
	"github.com/rs/zerolog"
)

var _ badger.Logger = &Badger{}

// Badger forwards badger's internal logging to zerolog. Badger is chatty at
// info level, so everything below warnings is logged as debug.
type Badger struct {
	L zerolog.Logger
}

func (l *Badger) Errorf(m string, f ...interface{}) {
	l.L.Error().Msg(clean(m, f...))
}

func (l *Badger) Warningf(m string, f ...interface{}) {
	l.L.Warn().Msg(clean(m, f...))
}

func (l *Badger) Infof(m string, f ...interface{}) {
	l.L.Debug().Str("error-type", "info").Msg(clean(m, f...))
}

func (l *Badger) Debugf(m string, f ...interface{}) {
	l.L.Debug().Msg(clean(m, f...))
}

func clean(m string, f ...interface{}) string {
	return strings.TrimSpace(fmt.Sprintf(m, f...))
}
