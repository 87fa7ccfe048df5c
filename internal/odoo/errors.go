// Package odoo provides a JSON-RPC client for the Odoo external API with
// error classification for the sync engine's retry policy.
package odoo

import (
	"context"
	"errors"
	"net"
	"strings"
)

// Kind classifies a remote failure for the retry policy.
type Kind int

const (
	// KindTransient covers timeouts, connectivity failures, rate limiting
	// and lock contention: safe to retry with backoff.
	KindTransient Kind = iota
	// KindPermanent covers validation, schema and business-rule failures:
	// retrying cannot succeed, the job is dropped and reported.
	KindPermanent
)

func (k Kind) String() string {
	if k == KindPermanent {
		return "permanent"
	}
	return "transient"
}

// Error is a failure returned by the Odoo server or its transport.
type Error struct {
	Kind    Kind
	Name    string // server exception name, e.g. odoo.exceptions.ValidationError
	Message string
	Code    int // JSON-RPC error code or HTTP status
}

func (e *Error) Error() string {
	if e.Name != "" {
		return e.Name + ": " + e.Message
	}
	return e.Message
}

// permanentExceptions are server fault names that no amount of retrying fixes.
var permanentExceptions = []string{
	"odoo.exceptions.ValidationError",
	"odoo.exceptions.UserError",
	"odoo.exceptions.AccessError",
	"odoo.exceptions.AccessDenied",
	"odoo.exceptions.MissingError",
	"builtins.KeyError",
	"builtins.ValueError",
}

// transientExceptions are server faults that indicate contention rather than
// bad data; the retry will usually land on a clean transaction.
var transientExceptions = []string{
	"psycopg2.errors.SerializationFailure",
	"psycopg2.errors.DeadlockDetected",
	"psycopg2.OperationalError",
	"odoo.http.SessionExpiredException",
}

// classifyException maps an Odoo server exception name to a Kind
func classifyException(name string) Kind {
	for _, p := range permanentExceptions {
		if strings.HasPrefix(name, p) {
			return KindPermanent
		}
	}
	for _, tr := range transientExceptions {
		if strings.HasPrefix(name, tr) {
			return KindTransient
		}
	}
	// Unknown server faults are treated as permanent: they are raised by
	// application code, not the transport, and repeating the call replays
	// the same input.
	return KindPermanent
}

// ClassifyError determines the retry class of any error coming back from a
// push or pull call. Unknown transport-level errors default to transient;
// the retry budget bounds how long they are chased.
func ClassifyError(err error) Kind {
	if err == nil {
		return KindTransient
	}

	var oerr *Error
	if errors.As(err, &oerr) {
		return oerr.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTransient
	}

	var nerr net.Error
	if errors.As(err, &nerr) {
		return KindTransient
	}

	return KindTransient
}

// IsPermanent reports whether err should not be retried
func IsPermanent(err error) bool {
	return ClassifyError(err) == KindPermanent
}
