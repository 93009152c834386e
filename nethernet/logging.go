package nethernet

import (
	"github.com/pion/logging"
	"github.com/rs/zerolog"
)

// zerologLoggerFactory adapts this module's zerolog logger to Pion's
// LoggerFactory interface, so WebRTC's internal ICE/DTLS/SCTP logging
// flows through the same structured sink as the rest of the module
// instead of Pion's own default stdlib-log-based leveled logger.
type zerologLoggerFactory struct {
	base zerolog.Logger
}

// NewLoggerFactory builds a pion logging.LoggerFactory backed by base.
func NewLoggerFactory(base zerolog.Logger) logging.LoggerFactory {
	return &zerologLoggerFactory{base: base}
}

func (f *zerologLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &zerologLeveledLogger{log: f.base.With().Str("scope", scope).Logger()}
}

type zerologLeveledLogger struct {
	log zerolog.Logger
}

func (l *zerologLeveledLogger) Trace(msg string)                          { l.log.Trace().Msg(msg) }
func (l *zerologLeveledLogger) Tracef(format string, args ...interface{}) { l.log.Trace().Msgf(format, args...) }
func (l *zerologLeveledLogger) Debug(msg string)                          { l.log.Debug().Msg(msg) }
func (l *zerologLeveledLogger) Debugf(format string, args ...interface{}) { l.log.Debug().Msgf(format, args...) }
func (l *zerologLeveledLogger) Info(msg string)                           { l.log.Info().Msg(msg) }
func (l *zerologLeveledLogger) Infof(format string, args ...interface{})  { l.log.Info().Msgf(format, args...) }
func (l *zerologLeveledLogger) Warn(msg string)                           { l.log.Warn().Msg(msg) }
func (l *zerologLeveledLogger) Warnf(format string, args ...interface{})  { l.log.Warn().Msgf(format, args...) }
func (l *zerologLeveledLogger) Error(msg string)                          { l.log.Error().Msg(msg) }
func (l *zerologLeveledLogger) Errorf(format string, args ...interface{}) { l.log.Error().Msgf(format, args...) }
