// Package common provides shared infrastructure for the docfold services:
// the global structured logger and small helpers used across the pipeline.
//
// The logging system is built on logrus with output routing that sends
// error-level messages to stderr while everything else goes to stdout,
// so container orchestrators and log aggregators can treat the streams
// differently.
package common

import (
	"bytes"
	"os"

	"github.com/sirupsen/logrus"
)

// OutputSplitter routes formatted log lines to stdout or stderr based on
// their level. Error lines (containing "level=error") go to stderr, the
// rest to stdout.
type OutputSplitter struct{}

// Write implements io.Writer for the OutputSplitter.
func (splitter *OutputSplitter) Write(p []byte) (n int, err error) {
	if bytes.Contains(p, []byte("level=error")) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// Logger is the global logger instance for all docfold services.
// Services configure format and level once at startup via ConfigureLogger;
// the splitter output routing is installed at package init.
var Logger = logrus.New()

func init() {
	Logger.SetOutput(&OutputSplitter{})
}

// ConfigureLogger applies the logging section of the service configuration
// to the global logger. Unknown levels fall back to info, unknown formats
// to text.
func ConfigureLogger(level, format string) {
	if lvl, err := logrus.ParseLevel(level); err == nil {
		Logger.SetLevel(lvl)
	} else {
		Logger.SetLevel(logrus.InfoLevel)
	}
	if format == "json" {
		Logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		Logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}
