package statseg

import (
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultSocketPath is the well-known path the producer's control socket is
// conventionally exposed at, matching the teacher's preference for a named
// default over a required flag.
const DefaultSocketPath = "/run/stats/client.sock"

type config struct {
	accessTimeout time.Duration
	logger        *logrus.Entry
	lossyNames    bool
	maxRetries    int
}

func defaultConfig() config {
	return config{
		accessTimeout: 0, // spin indefinitely, matching the original client's default
		logger:        logrus.NewEntry(logrus.StandardLogger()),
		maxRetries:    3,
	}
}

// Option configures a Client at Connect time.
type Option func(*config)

// WithAccessTimeout bounds how long a single access-guard Start will spin
// waiting for an in-progress producer rewrite to clear. Zero (the default)
// spins indefinitely.
func WithAccessTimeout(d time.Duration) Option {
	return func(c *config) { c.accessTimeout = d }
}

// WithLogger overrides the logrus entry used for lifecycle and coherence
// diagnostics. By default the client logs to logrus's standard logger.
func WithLogger(entry *logrus.Entry) Option {
	return func(c *config) { c.logger = entry }
}

// WithLossyNames makes name-vector decoding tolerate invalid UTF-8 by
// substituting the Unicode replacement character instead of failing Dump.
func WithLossyNames() Option {
	return func(c *config) { c.lossyNames = true }
}

// WithMaxRetries overrides how many times Ls will retry a directory walk
// that failed (for example, torn by a concurrent producer rewrite) before
// giving up. Dump does not retry. The default is 3.
func WithMaxRetries(n int) Option {
	return func(c *config) { c.maxRetries = n }
}
