package services

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel markers for the pipeline failure taxonomy. Stage handlers wrap
// their failures with exactly one marker; the pipeline alone decides retry
// versus terminal failure based on it.
var (
	ErrResolve           = errors.New("resolve error")
	ErrNetwork           = errors.New("network error")
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrUnsupportedCodec  = errors.New("unsupported codec")
	ErrToolchain         = errors.New("toolchain error")
	ErrTimeout           = errors.New("timeout")
	ErrDelivery          = errors.New("delivery error")
	ErrQueueSaturated    = errors.New("queue saturated")
)

// Kind is the wire-level classification of a failure, surfaced to the
// delivery collaborator and persisted on failed jobs.
type Kind string

const (
	KindResolve           Kind = "resolve_error"
	KindNetwork           Kind = "network_error"
	KindUnsupportedFormat Kind = "unsupported_format"
	KindUnsupportedCodec  Kind = "unsupported_codec"
	KindToolchain         Kind = "toolchain_error"
	KindTimeout           Kind = "timeout"
	KindDelivery          Kind = "delivery_error"
	KindQueueSaturated    Kind = "queue_saturated"
	KindUnknown           Kind = "unknown"
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrToolchain
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// KindOf maps a wrapped stage error to its failure kind.
func KindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrResolve):
		return KindResolve
	case errors.Is(err, ErrNetwork):
		return KindNetwork
	case errors.Is(err, ErrUnsupportedFormat):
		return KindUnsupportedFormat
	case errors.Is(err, ErrUnsupportedCodec):
		return KindUnsupportedCodec
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrToolchain):
		return KindToolchain
	case errors.Is(err, ErrDelivery):
		return KindDelivery
	case errors.Is(err, ErrQueueSaturated):
		return KindQueueSaturated
	default:
		return KindUnknown
	}
}

// Retryable reports whether a stage failure may be retried by requeueing.
// Only transient network failures qualify; everything else recurs
// deterministically for the same input.
func Retryable(err error) bool {
	return errors.Is(err, ErrNetwork)
}

// Detail extracts the human-readable portion of a wrapped error, without the
// marker prefix, for persistence and delivery payloads.
func Detail(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	for _, marker := range []error{
		ErrResolve, ErrNetwork, ErrUnsupportedFormat, ErrUnsupportedCodec,
		ErrToolchain, ErrTimeout, ErrDelivery, ErrQueueSaturated,
	} {
		prefix := marker.Error() + ": "
		if strings.HasPrefix(msg, prefix) {
			return strings.TrimPrefix(msg, prefix)
		}
	}
	return msg
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "stage failure"
	}
	return strings.Join(parts, ": ")
}
