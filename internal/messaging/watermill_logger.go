package messaging

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/sirupsen/logrus"

	"viewerhost/internal/logging"
)

// watermillLogger routes watermill's logs into a logging.Logger, carrying
// watermill fields as logrus fields.
type watermillLogger struct {
	log    logging.Logger
	fields watermill.LogFields
}

func newWatermillLogger(log logging.Logger) watermill.LoggerAdapter {
	return &watermillLogger{log: log, fields: make(watermill.LogFields)}
}

func (l *watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &watermillLogger{log: l.log, fields: l.merge(fields)}
}

func (l *watermillLogger) merge(fields watermill.LogFields) watermill.LogFields {
	merged := make(watermill.LogFields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	// call-specific fields override base fields
	for k, v := range fields {
		merged[k] = v
	}
	return merged
}

func (l *watermillLogger) entry(fields watermill.LogFields) logging.Logger {
	merged := l.merge(fields)
	if fl, ok := l.log.(logrus.FieldLogger); ok && len(merged) > 0 {
		return fl.WithFields(logrus.Fields(merged))
	}
	return l.log
}

func (l *watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	if err != nil {
		l.entry(fields).Errorf("%s: %v", msg, err)
		return
	}
	l.entry(fields).Error(msg)
}

// Info is logged at debug: gochannel reports every unrouted publish at info.
func (l *watermillLogger) Info(msg string, fields watermill.LogFields) {
	l.entry(fields).Debug(msg)
}

func (l *watermillLogger) Debug(msg string, fields watermill.LogFields) {
	l.entry(fields).Debug(msg)
}

func (l *watermillLogger) Trace(msg string, fields watermill.LogFields) {
	l.Debug(msg, fields)
}
