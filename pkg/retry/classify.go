package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"
)

// Class decides whether and how a failure is retried.
type Class int

const (
	// Fatal failures are returned immediately.
	Fatal Class = iota
	// Transient covers rate limits, overload and service-side errors.
	Transient
	// Connection covers transport failures. Retried without notification.
	Connection
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case Connection:
		return "connection"
	default:
		return "fatal"
	}
}

// Classifier is implemented by errors that know their own class.
type Classifier interface {
	RetryClass() Class
}

var (
	transientPhrases = []string{
		"rate limit", "rate_limit", "too many requests",
		"overloaded", "internal server error", "service unavailable", "bad gateway",
	}
	connectionPhrases = []string{
		"connection refused", "connection reset", "broken pipe", "no such host", "i/o timeout",
	}
)

// Classify maps err onto a Class. Errors implementing Classifier decide for
// themselves; caller cancellation is always fatal.
func Classify(err error) Class {
	if err == nil {
		return Fatal
	}

	var c Classifier
	if errors.As(err, &c) {
		return c.RetryClass()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Fatal
	}

	var netErr net.Error
	if errors.As(err, &netErr) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return Connection
	}

	s := strings.ToLower(err.Error())
	for _, p := range transientPhrases {
		if strings.Contains(s, p) {
			return Transient
		}
	}
	for _, p := range connectionPhrases {
		if strings.Contains(s, p) {
			return Connection
		}
	}
	return Fatal
}
