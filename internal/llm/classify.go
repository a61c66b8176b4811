package llm

import (
	"context"
	"errors"
	"net"
	"strings"
)

// WrapTransport turns a failed HTTP exchange into a TransportError. Timeouts
// are flagged so callers can report them distinctly. Errors that are
// already classified pass through unchanged.
func WrapTransport(provider string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}

	te := TransportError(provider, err)
	te.Timeout = isTimeout(err)
	if te.Timeout {
		te.Message = "request timed out: " + err.Error()
	}
	te.Temporary = isTransientNetError(err)
	return te
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// isTransientNetError reports network failures that are likely to clear up
// on their own (refused or reset connections, DNS hiccups, timeouts).
func isTransientNetError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTimeout || dnsErr.IsTemporary
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Op == "dial" || opErr.Op == "read" || opErr.Op == "write" {
			return true
		}
	}

	// wrapped errors sometimes only keep the text
	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"no such host",
		"temporary failure",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
