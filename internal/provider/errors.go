package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind classifies a provider failure.
type Kind string

const (
	KindUnreachable Kind = "unreachable" // dial or DNS failure, nothing answered
	KindTimeout     Kind = "timeout"
	KindAuth        Kind = "auth"
	KindRateLimit   Kind = "rate_limit"
	KindStatus      Kind = "status"
	KindRejected    Kind = "rejected" // provider answered but reported success=false
	KindDecode      Kind = "decode"
)

// Error is returned by every provider operation that fails.
type Error struct {
	Op     string // "search" or "scrape"
	Kind   Kind
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("provider %s: %s (HTTP %d): %v", e.Op, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("provider %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of a provider error, or "" if err is not one.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsUnreachable reports whether err means the provider could not be contacted at all.
func IsUnreachable(err error) bool {
	return KindOf(err) == KindUnreachable
}

// transportError classifies an error returned by http.Client.Do.
func transportError(op string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Op: op, Kind: KindTimeout, Err: err}
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &Error{Op: op, Kind: KindUnreachable, Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return &Error{Op: op, Kind: KindUnreachable, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Op: op, Kind: KindTimeout, Err: err}
	}
	return &Error{Op: op, Kind: KindStatus, Err: err}
}

// statusError classifies a non-success HTTP status.
func statusError(op string, status int, body string) *Error {
	kind := KindStatus
	switch {
	case status == 401 || status == 403 || status == 402:
		kind = KindAuth
	case status == 429:
		kind = KindRateLimit
	case status == 408 || status == 504:
		kind = KindTimeout
	}
	return &Error{Op: op, Kind: kind, Status: status, Err: fmt.Errorf("unexpected status: %s", body)}
}
