package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotFound          = errors.New("not found")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrAborted           = errors.New("aborted")
	ErrDeadlineExceeded  = errors.New("deadline exceeded")
	ErrInternal          = errors.New("internal error")
)

// Kind names a failure class of the pipeline error taxonomy.
type Kind string

const (
	KindNone              Kind = ""
	KindInvalidArgument   Kind = "invalid_argument"
	KindNotFound          Kind = "not_found"
	KindResourceExhausted Kind = "resource_exhausted"
	KindAborted           Kind = "aborted"
	KindDeadlineExceeded  Kind = "deadline_exceeded"
	KindInternal          Kind = "internal"
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrInternal
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// KindOf classifies err. DeadlineExceeded is checked before Aborted because a
// deadline-triggered cancellation carries both markers.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrDeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return KindDeadlineExceeded
	case errors.Is(err, ErrInvalidArgument):
		return KindInvalidArgument
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrResourceExhausted):
		return KindResourceExhausted
	case errors.Is(err, ErrAborted), errors.Is(err, context.Canceled):
		return KindAborted
	default:
		return KindInternal
	}
}

// UserMessage returns the human-readable message written to the job document.
// Internal error text is never exposed.
func UserMessage(err error) string {
	switch KindOf(err) {
	case KindNone:
		return ""
	case KindInvalidArgument:
		return "Invalid request: " + innermostDetail(err, ErrInvalidArgument)
	case KindNotFound:
		return "Sermon not found"
	case KindResourceExhausted:
		return "Download too slow, please try again later"
	case KindAborted:
		return "Processing was cancelled"
	case KindDeadlineExceeded:
		return "Processing timed out"
	default:
		return "Internal error while processing audio"
	}
}

// Retryable reports whether a dispatcher redelivery can change the outcome.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindNone, KindInvalidArgument:
		return false
	default:
		return true
	}
}

// HTTPStatus maps err to the status code used by the API.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNone:
		return http.StatusOK
	case KindInvalidArgument:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindResourceExhausted:
		return http.StatusTooManyRequests
	case KindAborted:
		return http.StatusConflict
	case KindDeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func innermostDetail(err error, marker error) string {
	msg := err.Error()
	prefix := marker.Error() + ": "
	if idx := strings.LastIndex(msg, prefix); idx >= 0 {
		msg = msg[idx+len(prefix):]
	}
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return "malformed job"
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
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
