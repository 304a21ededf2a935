package logging

import (
	"fmt"

	"go.uber.org/zap/zapcore"
)

// Level is the record severity. Ordering is ascending: verbose < debug <
// http < info < warn < error.
type Level int8

const (
	LevelVerbose Level = iota
	LevelDebug
	LevelHTTP
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[Level]string{
	LevelVerbose: "verbose",
	LevelDebug:   "debug",
	LevelHTTP:    "http",
	LevelInfo:    "info",
	LevelWarn:    "warn",
	LevelError:   "error",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("level(%d)", int8(l))
}

// ParseLevel maps a level name to its Level.
func ParseLevel(s string) (Level, error) {
	for l, name := range levelNames {
		if name == s {
			return l, nil
		}
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// zapLevel maps the record level onto zap's level set for the ZapSink.
// http and verbose have no zap counterpart: http forwards at info,
// verbose at debug.
func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelError:
		return zapcore.ErrorLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelInfo, LevelHTTP:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}
