package chain

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
)

// ErrRangeTooLarge reports that the provider rejected a getLogs span. It is
// never retried here; the caller is expected to bisect the range.
var ErrRangeTooLarge = errors.New("log range too large")

// Provider messages that mean "narrow your block range". There is no
// standard error code for this, so match the common phrasings.
var rangeTooLargePhrases = []string{
	"range too large",
	"block range is too wide",
	"exceed maximum block range",
	"query returned more than",
	"too many results",
	"response size exceeded",
	"limit exceeded",
}

func isRangeTooLarge(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRangeTooLarge) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, phrase := range rangeTooLargePhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}

// isTransient reports whether an RPC error is worth retrying: connection
// resets, timeouts, 5xx responses and websocket closes. Parse errors and
// explicit provider rejections are not.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if isRangeTooLarge(err) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, phrase := range []string{
		"connection reset",
		"connection refused",
		"broken pipe",
		"timeout",
		"timed out",
		"eof",
		"websocket: close",
		"use of closed network connection",
		"502 bad gateway",
		"503 service unavailable",
		"504 gateway timeout",
		"500 internal server error",
		"too many requests",
	} {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}
