// Package netlog wraps charmbracelet/log with the prefixing convention
// used throughout ticknet: every component gets its own logger via New,
// which sets the component name as the logger's prefix, after
// xendarboh-katzenpost/client2/arq.go's mylog.WithPrefix("_ARQ_") pattern.
package netlog

import (
	"os"

	"github.com/charmbracelet/log"
)

// New builds the root logger for an endpoint (client or server),
// writing to stderr with a short timestamp, matching the teacher's
// colored-console style but via a real logging library.
func New(name string) *log.Logger {
	l := log.NewWithOptions(os.Stderr, log.Options{
		Prefix:          name,
		ReportTimestamp: true,
		TimeFormat:      "15:04:05",
	})
	return l
}
