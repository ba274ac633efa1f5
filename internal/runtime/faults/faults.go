// Package faults defines the closed error taxonomy surfaced to meshwire
// callers. Every fault carries a stable string code that is part of the
// public interface; Retryable reports whether the retry policy may attempt
// the operation again.
package faults

import (
	"context"
	"errors"
	"fmt"
)

// Stable fault codes. These strings are part of the wire contract and must
// not change between releases.
const (
	CodeMetadataTooLarge          = "metadata_too_large"
	CodeMalformedMetadata         = "malformed_metadata"
	CodeTransportRejected         = "transport_rejected"
	CodeExtractionDisabled        = "extraction_disabled"
	CodeNoTenantFound             = "no_tenant_found"
	CodeCapabilityDetectionFailed = "capability_detection_failed"
	CodeForcedProtocolUnavailable = "forced_protocol_unavailable"
	CodeCallTimeout               = "call_timeout"
	CodeTransportFailure          = "transport_failure"
	CodeHandlerError              = "handler_error"
)

var (
	// ErrTransportRejected is returned when a header adapter refuses a write,
	// for example because the adapter is a read-only view.
	ErrTransportRejected = errors.New("meshwire: transport rejected header")

	// ErrExtractionDisabled is returned by the tenant extractor when tenant
	// lookup is disabled in configuration. Callers can distinguish "no tenant
	// found" from "not permitted to look".
	ErrExtractionDisabled = errors.New("meshwire: tenant extraction is disabled")

	// ErrNoTenantFound is returned when all tenant sources are empty.
	ErrNoTenantFound = errors.New("meshwire: no tenant found in any source")

	// ErrCallTimeout is returned when a tool call exceeds its reply window.
	ErrCallTimeout = errors.New("meshwire: tool call timed out")

	// ErrForcedProtocolUnavailable is returned when a per-endpoint override
	// names a protocol with no registered backend.
	ErrForcedProtocolUnavailable = errors.New("meshwire: forced protocol has no registered backend")
)

// MetadataTooLargeError reports that injecting metadata would exceed the
// configured size caps. No partial writes are observable on the adapter.
type MetadataTooLargeError struct {
	Bytes    int
	MaxBytes int
}

func (e *MetadataTooLargeError) Error() string {
	return fmt.Sprintf("meshwire: metadata too large: %d bytes exceeds cap of %d", e.Bytes, e.MaxBytes)
}

// MalformedMetadataError reports a structured header that could not be
// decoded during extract. Missing headers never produce this error.
type MalformedMetadataError struct {
	Header string
	Reason string
}

func (e *MalformedMetadataError) Error() string {
	return fmt.Sprintf("meshwire: malformed metadata header %q: %s", e.Header, e.Reason)
}

// DetectionError reports that capability detection found no usable protocol
// for an endpoint after the configured number of probe attempts.
type DetectionError struct {
	Endpoint string
	Attempts int
	Cause    error
}

func (e *DetectionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("meshwire: capability detection failed for %q after %d attempts: %v", e.Endpoint, e.Attempts, e.Cause)
	}
	return fmt.Sprintf("meshwire: capability detection failed for %q after %d attempts", e.Endpoint, e.Attempts)
}

func (e *DetectionError) Unwrap() error {
	return e.Cause
}

// TransportFailureKind categorises wire-level failures for retry decisions.
type TransportFailureKind string

const (
	FailureTimeout TransportFailureKind = "timeout"
	FailureClosed  TransportFailureKind = "closed"
	FailureRefused TransportFailureKind = "refused"
	FailureOther   TransportFailureKind = "other"
)

// TransportFailureError wraps an underlying wire error with a kind that the
// retry policy understands.
type TransportFailureError struct {
	Kind  TransportFailureKind
	Cause error
}

func (e *TransportFailureError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("meshwire: transport failure (%s): %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("meshwire: transport failure (%s)", e.Kind)
}

func (e *TransportFailureError) Unwrap() error {
	return e.Cause
}

// NewTransportFailure wraps err as a transport failure of the given kind.
// Context deadline and cancellation errors map onto the timeout kind so the
// classification survives wrapping by transport libraries.
func NewTransportFailure(kind TransportFailureKind, err error) *TransportFailureError {
	if kind == "" {
		kind = FailureOther
		if errors.Is(err, context.DeadlineExceeded) {
			kind = FailureTimeout
		}
	}
	return &TransportFailureError{Kind: kind, Cause: err}
}

// HandlerError carries an error response produced by a tool handler. It is
// not a transport fault and is never retried by the dispatcher.
type HandlerError struct {
	Tool    string
	Message string
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("meshwire: handler %q returned an error: %s", e.Tool, e.Message)
}

// Code returns the stable string code for err, or "" for errors outside the
// taxonomy.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case isType[*MetadataTooLargeError](err):
		return CodeMetadataTooLarge
	case isType[*MalformedMetadataError](err):
		return CodeMalformedMetadata
	case errors.Is(err, ErrTransportRejected):
		return CodeTransportRejected
	case errors.Is(err, ErrExtractionDisabled):
		return CodeExtractionDisabled
	case errors.Is(err, ErrNoTenantFound):
		return CodeNoTenantFound
	case isType[*DetectionError](err):
		return CodeCapabilityDetectionFailed
	case errors.Is(err, ErrForcedProtocolUnavailable):
		return CodeForcedProtocolUnavailable
	case errors.Is(err, ErrCallTimeout):
		return CodeCallTimeout
	case isType[*TransportFailureError](err):
		return CodeTransportFailure
	case isType[*HandlerError](err):
		return CodeHandlerError
	default:
		return ""
	}
}

// Retryable reports whether the retry policy is allowed to attempt the
// failed operation again. Only bounded detection failures and transport
// failures of kind timeout, closed, or refused qualify.
func Retryable(err error) bool {
	if err == nil {
		return false
	}

	var transport *TransportFailureError
	if errors.As(err, &transport) {
		switch transport.Kind {
		case FailureTimeout, FailureClosed, FailureRefused:
			return true
		default:
			return false
		}
	}

	var detection *DetectionError
	return errors.As(err, &detection)
}

func isType[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}
