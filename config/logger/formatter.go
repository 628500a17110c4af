// Package logger configures logrus for the agent and the perfagent CLI.
package logger

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// ComponentFormatter is a logrus formatter that moves the 'component' field
// into a message prefix for nicer formatted text output.
type ComponentFormatter struct {
	Parent logrus.Formatter
}

// Format implements logrus.Formatter
func (f *ComponentFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	if c, exists := entry.Data["component"]; exists {
		if name, ok := c.(string); ok {
			entry.Message = fmt.Sprintf("[%-10s] %s", name, entry.Message)
		}
	}
	return f.Parent.Format(entry)
}

// Null returns a logger that discards everything. Components fall back to
// this when they are constructed without a logger.
func Null() logrus.FieldLogger {
	lr := logrus.New()
	lr.SetLevel(logrus.PanicLevel) // never reached
	return lr
}

// OrNull returns l, or a Null logger if l is nil.
func OrNull(l logrus.FieldLogger) logrus.FieldLogger {
	if l == nil {
		return Null()
	}
	return l
}
