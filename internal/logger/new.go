package logger

import (
	"fmt"
	"io"

	"github.com/go-logr/logr"
	"github.com/go-logr/zerologr"
	"github.com/rs/zerolog"
)

// New creates a JSON logger writing to w. level is a zerolog level name such as info, debug or
// trace. logr V(1) messages are emitted at debug and V(2) at trace.
func New(w io.Writer, level, name string) (logr.Logger, error) {
	lvl := zerolog.InfoLevel
	if level != "" {
		var err error
		if lvl, err = zerolog.ParseLevel(level); err != nil {
			return logr.Discard(), fmt.Errorf("log level: %w", err)
		}
	}

	zerologr.SetMaxV(2)

	zl := zerolog.New(w).Level(lvl).With().Timestamp().Caller().Logger()

	return zerologr.New(&zl).WithName(name), nil
}
