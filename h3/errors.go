package h3

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorCode is an application error code used on the wire (spec §6).
type ErrorCode uint64

const (
	ErrNoError                   ErrorCode = 0x100
	ErrWrongStream               ErrorCode = 0x101
	ErrWrongStreamCount          ErrorCode = 0x102
	ErrClosedCriticalStream      ErrorCode = 0x103
	ErrRequestCancelled          ErrorCode = 0x10A
	ErrRequestRejected           ErrorCode = 0x10B
	ErrInternalError             ErrorCode = 0x104
	ErrUnknownStreamType         ErrorCode = 0x10D
	ErrMalformedFramePushPromise ErrorCode = 0x10E
	ErrGiveupZeroRTT             ErrorCode = 0x10F
)

func (c ErrorCode) String() string {
	switch c {
	case ErrNoError:
		return "HTTP_NO_ERROR"
	case ErrWrongStream:
		return "HTTP_WRONG_STREAM"
	case ErrWrongStreamCount:
		return "HTTP_WRONG_STREAM_COUNT"
	case ErrClosedCriticalStream:
		return "HTTP_CLOSED_CRITICAL_STREAM"
	case ErrRequestCancelled:
		return "HTTP_REQUEST_CANCELLED"
	case ErrRequestRejected:
		return "HTTP_REQUEST_REJECTED"
	case ErrInternalError:
		return "HTTP_INTERNAL_ERROR"
	case ErrUnknownStreamType:
		return "HTTP_UNKNOWN_STREAM_TYPE"
	case ErrMalformedFramePushPromise:
		return "HTTP_MALFORMED_FRAME_PUSH_PROMISE"
	case ErrGiveupZeroRTT:
		return "GIVEUP_ZERO_RTT"
	default:
		return fmt.Sprintf("HTTP_ERROR(0x%x)", uint64(c))
	}
}

// ProxygenError is the upward-facing error classification a transaction's
// onError receives (spec §7). The name mirrors the source library's own
// taxonomy (StreamAbort, StreamUnacknowledged, ...) which the spec asks us
// to keep, since those are the semantics the upper transaction layer keys
// its retry logic on.
type ProxygenError int

const (
	ErrNone ProxygenError = iota
	ErrConnectionReset
	ErrConnectFailed
	ErrStreamAbort
	ErrStreamUnacknowledged
	ErrEarlyDataFailed
)

func (e ProxygenError) String() string {
	switch e {
	case ErrConnectionReset:
		return "ConnectionReset"
	case ErrConnectFailed:
		return "ConnectFailed"
	case ErrStreamAbort:
		return "StreamAbort"
	case ErrStreamUnacknowledged:
		return "StreamUnacknowledged"
	case ErrEarlyDataFailed:
		return "EarlyDataFailed"
	default:
		return "None"
	}
}

// Retryable reports whether the upper layer may safely retry the request
// that failed with this error (spec §7 "user-visible behavior").
func (e ProxygenError) Retryable() bool {
	return e == ErrStreamUnacknowledged || e == ErrEarlyDataFailed
}

// ConnectionError is a fatal, connection-scoped error: the transport failed,
// or a control stream reported a protocol violation (spec §7 kinds a, b, d).
type ConnectionError struct {
	Code   ErrorCode
	Reason string
	// Proxygen classifies the failure per spec §7's ProxygenError taxonomy,
	// e.g. ErrConnectFailed for ALPN resolution or control-stream setup
	// failures during NewSession. Zero value ErrNone for connection errors
	// raised after setup, which have no upper-contract retry semantics.
	Proxygen ProxygenError
	cause    error
}

func connectionErrorf(code ErrorCode, cause error, format string, a ...interface{}) *ConnectionError {
	return &ConnectionError{Code: code, Reason: fmt.Sprintf(format, a...), cause: cause}
}

func connectFailedErrorf(cause error, format string, a ...interface{}) *ConnectionError {
	return &ConnectionError{Code: ErrInternalError, Reason: fmt.Sprintf(format, a...), Proxygen: ErrConnectFailed, cause: cause}
}

func (e *ConnectionError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("h3mux: connection error %s: %s: %v", e.Code, e.Reason, e.cause)
	}
	return fmt.Sprintf("h3mux: connection error %s: %s", e.Code, e.Reason)
}

func (e *ConnectionError) Unwrap() error { return e.cause }

func (e *ConnectionError) Cause() error { return errors.Cause(e.cause) }

// StreamRejectError signals that a peer-initiated unidirectional stream
// must be rejected with STOP_SENDING rather than treated as a fatal
// connection error (spec §4.2 "Integer decoded, type unknown -> send
// STOP_SENDING"). It is distinct from ConnectionError, which the
// dispatcher uses for profile violations that ARE fatal (e.g. a duplicate
// control stream, spec §4.4, §8 testable property 8).
type StreamRejectError struct {
	Code ErrorCode
}

func (e *StreamRejectError) Error() string {
	return fmt.Sprintf("h3mux: reject stream: %s", e.Code)
}

// StreamError is scoped to one request stream (spec §7 kind c). It never
// propagates past the owning transaction.
type StreamError struct {
	StreamID StreamID
	Proxygen ProxygenError
	Reset    ErrorCode
	cause    error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("h3mux: stream %d error %s (reset=%s): %v", e.StreamID, e.Proxygen, e.Reset, e.cause)
}

func (e *StreamError) Unwrap() error { return e.cause }

// mapResetCode implements the §4.5 reset-handling table: a role/ingress
// state maps to a proxygen-error and a reply reset code. The peer's own
// reset code is not an input here; Stream.onPeerReset applies it on top
// (REQUEST_REJECTED marks the transaction unacknowledged, GIVEUP_ZERO_RTT
// turns the error into ErrEarlyDataFailed).
func mapResetCode(role Role, haveIngress bool) (ProxygenError, ErrorCode) {
	switch {
	case role == RoleClient:
		// "UPSTREAM or no ingress received -> REQUEST_CANCELLED"
		return ErrStreamAbort, ErrRequestCancelled
	case !haveIngress:
		// "downstream with no ingress -> REQUEST_REJECTED"
		return ErrStreamAbort, ErrRequestRejected
	default:
		// "downstream after ingress -> NO_ERROR"
		return ErrStreamAbort, ErrNoError
	}
}
