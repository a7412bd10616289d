package executor

import (
	"strings"

	"github.com/andrej220/clusterexec/pkg/command"
)

// SSHConnectionClosedSignature is what the ssh client prints when the server
// drops the connection before the protocol exchange, typically under sshd
// MaxStartups pressure.
const SSHConnectionClosedSignature = "ssh_exchange_identification: Connection closed by remote host"

// TransientPredicate reports whether an attempt's result is worth retrying.
type TransientPredicate func(res command.Result) bool

// SSHConnectionClosed matches results whose stderr starts with SSHConnectionClosedSignature.
func SSHConnectionClosed(res command.Result) bool {
	return strings.HasPrefix(res.Stderr, SSHConnectionClosedSignature)
}

// StderrPrefix builds a predicate matching results whose stderr starts with prefix.
func StderrPrefix(prefix string) TransientPredicate {
	return func(res command.Result) bool {
		return strings.HasPrefix(res.Stderr, prefix)
	}
}

// Classifier holds the set of transient predicates a Remote context retries on.
type Classifier struct {
	predicates []TransientPredicate
}

func NewClassifier(preds ...TransientPredicate) *Classifier {
	return &Classifier{predicates: preds}
}

// DefaultClassifier only knows the ssh connection-closed signature.
func DefaultClassifier() *Classifier {
	return NewClassifier(SSHConnectionClosed)
}

// With returns a classifier that also matches preds.
func (c *Classifier) With(preds ...TransientPredicate) *Classifier {
	merged := make([]TransientPredicate, 0, len(c.predicates)+len(preds))
	merged = append(merged, c.predicates...)
	return &Classifier{predicates: append(merged, preds...)}
}

func (c *Classifier) IsTransient(res command.Result) bool {
	for _, p := range c.predicates {
		if p(res) {
			return true
		}
	}
	return false
}
