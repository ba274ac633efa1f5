package runtime

import (
	"errors"
	"sync"
	"time"

	"github.com/meshwire/meshwire/internal/runtime/faults"
)

// ErrorCategory buckets handler failures for the error breakdown.
type ErrorCategory string

const (
	ErrorCategoryValidation ErrorCategory = "validation"
	ErrorCategoryTransport  ErrorCategory = "transport"
	ErrorCategoryDownstream ErrorCategory = "downstream"
	ErrorCategoryOther      ErrorCategory = "other"
)

// ErrorClassifier maps a handler error onto a category. Services can supply
// their own via ServiceDependencies.
type ErrorClassifier func(err error) ErrorCategory

// defaultErrorClassifier categorises by the stable fault code.
func defaultErrorClassifier(err error) ErrorCategory {
	var unprocessable *UnprocessableEventError
	if errors.As(err, &unprocessable) {
		return ErrorCategoryValidation
	}

	switch faults.Code(err) {
	case faults.CodeMalformedMetadata, faults.CodeMetadataTooLarge,
		faults.CodeNoTenantFound, faults.CodeExtractionDisabled:
		return ErrorCategoryValidation
	case faults.CodeTransportFailure, faults.CodeTransportRejected,
		faults.CodeCallTimeout:
		return ErrorCategoryTransport
	case faults.CodeCapabilityDetectionFailed, faults.CodeForcedProtocolUnavailable:
		return ErrorCategoryDownstream
	default:
		return ErrorCategoryOther
	}
}

// UnprocessableEventError marks a message that can never be processed, no
// matter how often it is retried. The retry middleware skips it and the
// poison queue middleware routes it away.
type UnprocessableEventError struct {
	eventMessage string
	err          error
}

// NewUnprocessableEventError wraps err with the offending payload.
func NewUnprocessableEventError(eventMessage string, err error) *UnprocessableEventError {
	return &UnprocessableEventError{eventMessage: eventMessage, err: err}
}

func (e *UnprocessableEventError) Error() string {
	if e.err != nil {
		return "unprocessable event: " + e.err.Error()
	}
	return "unprocessable event"
}

func (e *UnprocessableEventError) Unwrap() error {
	return e.err
}

// EventMessage returns the raw payload that failed processing.
func (e *UnprocessableEventError) EventMessage() string {
	return e.eventMessage
}

// ErrorBreakdown counts handler failures per category.
type ErrorBreakdown struct {
	Validation uint64 `json:"validation"`
	Transport  uint64 `json:"transport"`
	Downstream uint64 `json:"downstream"`
	Other      uint64 `json:"other"`
	LastError  string `json:"last_error,omitempty"`
}

func (b *ErrorBreakdown) record(category ErrorCategory, err error) {
	switch category {
	case ErrorCategoryValidation:
		b.Validation++
	case ErrorCategoryTransport:
		b.Transport++
	case ErrorCategoryDownstream:
		b.Downstream++
	default:
		b.Other++
	}
	if err != nil {
		b.LastError = err.Error()
	}
}

// HandlerStats tracks one router handler. Tool-level counters live on the
// dispatcher; these cover the raw pub/sub handlers.
type HandlerStats struct {
	mu sync.Mutex

	handlerName  string
	consumeQueue string
	publishQueue string

	messagesHandled uint64
	messagesFailed  uint64
	totalTime       int64
	lastMessageAt   time.Time
	errors          ErrorBreakdown
}

func newHandlerStats(name, consumeQueue, publishQueue string) *HandlerStats {
	return &HandlerStats{
		handlerName:  name,
		consumeQueue: consumeQueue,
		publishQueue: publishQueue,
	}
}

func (s *HandlerStats) record(duration time.Duration, err error, classifier ErrorClassifier) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messagesHandled++
	s.totalTime += int64(duration)
	s.lastMessageAt = time.Now().UTC()

	if err == nil {
		return
	}
	s.messagesFailed++
	if classifier == nil {
		classifier = defaultErrorClassifier
	}
	s.errors.record(classifier(err), err)
}

// HandlerStatsSnapshot is the introspection view of one handler's counters.
type HandlerStatsSnapshot struct {
	Handler          string         `json:"handler"`
	ConsumeQueue     string         `json:"consume_queue"`
	PublishQueue     string         `json:"publish_queue,omitempty"`
	MessagesHandled  uint64         `json:"messages_handled"`
	MessagesFailed   uint64         `json:"messages_failed"`
	AverageLatencyNs int64          `json:"average_latency_ns"`
	LastMessageAt    time.Time      `json:"last_message_at"`
	Errors           ErrorBreakdown `json:"errors"`
}

// Snapshot returns a consistent copy of the counters.
func (s *HandlerStats) Snapshot() HandlerStatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := HandlerStatsSnapshot{
		Handler:         s.handlerName,
		ConsumeQueue:    s.consumeQueue,
		PublishQueue:    s.publishQueue,
		MessagesHandled: s.messagesHandled,
		MessagesFailed:  s.messagesFailed,
		LastMessageAt:   s.lastMessageAt,
		Errors:          s.errors,
	}
	if s.messagesHandled > 0 {
		snap.AverageLatencyNs = s.totalTime / int64(s.messagesHandled)
	}
	return snap
}

// HandlerInfo describes a registered handler for introspection.
type HandlerInfo struct {
	Name         string
	ConsumeQueue string
	PublishQueue string
	Stats        *HandlerStats
}
