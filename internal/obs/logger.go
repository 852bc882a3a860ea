// Package obs centralizes structured logging setup so every component
// constructor takes the same *logrus.Entry shape instead of reaching
// for the global logger.
package obs

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New builds the root logger. verbose selects Debug level; otherwise
// Info. Output is always structured text to stderr, matching the
// corpus's convention of leaving JSON formatting to a log shipper
// rather than emitting it from the process itself.
func New(verbose bool) *logrus.Entry {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.InfoLevel)
	}
	return logrus.NewEntry(log)
}
