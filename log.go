package cipherpack

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// opLogger returns a per-invocation logger carrying a correlation id, the
// way a caller might thread a request id through a server pipeline. Purely
// ambient observability: spec.md's actual progress/metadata contract is
// carried exclusively through the Listener, never through these log lines.
func opLogger(op string) *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"op":    op,
		"opID":  uuid.New().String(),
		"start": nowUnix(),
	})
}
