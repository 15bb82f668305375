package mcl

import (
	"github.com/sirupsen/logrus"

	"github.com/embedmcl/mcl/internal/mcltrace"
)

// Option configures a Context at construction time. The pattern —
// functional options over an unexported config struct that Init clones
// defaults into before applying overrides — is the same one wazero's
// RuntimeConfig builder uses.
type Option func(*config)

type config struct {
	logger  logrus.FieldLogger
	metrics *mcltrace.Metrics
}

func newConfig() *config {
	return &config{
		logger: mcltrace.DefaultLogger(),
	}
}

// WithLogger overrides the logrus.FieldLogger a Context logs through.
// The default is mcltrace.DefaultLogger(), logrus's standard logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithMetrics attaches a Prometheus metrics bundle (see mcltrace.NewMetrics)
// to a Context. Without this option a Context records no metrics; every
// mcltrace.Metrics method is nil-safe, so the rest of this module never
// needs to branch on whether metrics were configured.
func WithMetrics(m *mcltrace.Metrics) Option {
	return func(c *config) {
		c.metrics = m
	}
}
