// Package log provides logging formatter configuration for odoo_bridge.
package log

import (
	"github.com/sirupsen/logrus"
)

// NewFormatter returns the logrus formatter used by all odoo_bridge binaries.
// When json is true, log entries are emitted as JSON for log collectors;
// otherwise a human-readable text format is used.
func NewFormatter(json bool) logrus.Formatter {
	if json {
		return &logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05.000",
		}
	}
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
		PadLevelText:    true,
	}
}
