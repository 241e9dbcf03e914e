package types

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// ErrorKind classifies a broker call failure. The retry executor, circuit
// breaker and engine all branch on the kind, never on error strings.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindNetwork covers connection resets, timeouts, DNS failures and
	// HTTP 429/502/503/504. Retryable.
	KindNetwork
	// KindAuth covers expired sessions and invalid credentials. Not retried
	// by the executor; triggers the reconnect path instead.
	KindAuth
	// KindBusiness covers broker rejections of the order itself
	// (insufficient funds, invalid instrument). Never retried.
	KindBusiness
	// KindExhausted marks fail-fast outcomes of the resilience layer itself:
	// breaker open, retries exhausted, duplicate intent.
	KindExhausted
	// KindConsistency marks reconciliation mismatches.
	KindConsistency
	// KindParse marks broker payloads that could not be decoded.
	KindParse
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindAuth:
		return "auth"
	case KindBusiness:
		return "business"
	case KindExhausted:
		return "exhausted"
	case KindConsistency:
		return "consistency"
	case KindParse:
		return "parse"
	}
	return "unknown"
}

// BrokerError tags an underlying failure with its kind and the operation that
// produced it.
type BrokerError struct {
	Kind       ErrorKind
	Op         string
	StatusCode int
	Err        error
}

func (e *BrokerError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (http %d): %v", e.Op, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *BrokerError) Unwrap() error { return e.Err }

func NewBrokerError(kind ErrorKind, op string, err error) *BrokerError {
	return &BrokerError{Kind: kind, Op: op, Err: err}
}

func NewHTTPError(op string, status int, err error) *BrokerError {
	return &BrokerError{Kind: kindForHTTPStatus(status), Op: op, StatusCode: status, Err: err}
}

func kindForHTTPStatus(status int) ErrorKind {
	switch {
	case status == 401 || status == 403:
		return KindAuth
	case status == 429 || status == 502 || status == 503 || status == 504:
		return KindNetwork
	case status >= 400 && status < 500:
		return KindBusiness
	case status >= 500:
		return KindNetwork
	}
	return KindUnknown
}

// KindOf extracts the kind from an error chain. Unwrapped network-level
// failures (net.Error timeouts, connection resets, DNS errors) classify as
// KindNetwork even without a BrokerError tag.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var be *BrokerError
	if errors.As(err, &be) {
		return be.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindNetwork
	}
	var dns *net.DNSError
	if errors.As(err, &dns) {
		return KindNetwork
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindNetwork
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return KindNetwork
	}
	return KindUnknown
}

// Retryable reports whether the retry executor should attempt the operation
// again. Only network-class failures qualify.
func Retryable(err error) bool {
	return KindOf(err) == KindNetwork
}
