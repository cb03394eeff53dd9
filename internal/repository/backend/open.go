// Package backend selects a storage gateway from a connection string.
package backend

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/talkmate/companion/internal/errs"
	"github.com/talkmate/companion/internal/repository"
	"github.com/talkmate/companion/internal/repository/memory"
	"github.com/talkmate/companion/internal/repository/mongo"
	"github.com/talkmate/companion/internal/repository/postgres"
)

// Options tune the selected backend.
type Options struct {
	Database string        // MongoDB database name
	Timeout  time.Duration // dial bound
}

// Open returns an unconnected gateway for dsn. Nothing touches the network
// until the first operation or Ping.
func Open(dsn string, opts Options, log *zap.Logger) (repository.Gateway, error) {
	scheme, _, ok := strings.Cut(dsn, "://")
	if !ok {
		return nil, errs.Validationf("storage url %q has no scheme", Redact(dsn))
	}
	log = log.With(zap.String("storage", Redact(dsn)))

	switch strings.ToLower(scheme) {
	case "mongodb", "mongodb+srv":
		log.Info("using mongo storage")
		return mongo.New(mongo.Config{URI: dsn, Database: opts.Database, Timeout: opts.Timeout}, log), nil
	case "postgres", "postgresql":
		log.Info("using postgres storage")
		return postgres.New(dsn, opts.Timeout, log), nil
	case "memory":
		log.Warn("using in-memory storage; data is lost on exit")
		return memory.New(), nil
	}
	return nil, errs.Validationf("unsupported storage scheme %q", scheme)
}

// Redact hides the password of a connection string for logging.
func Redact(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return fmt.Sprintf("<unparseable %d-byte url>", len(dsn))
	}
	if u.User == nil {
		return dsn
	}
	return u.Redacted()
}
