package ipc

import (
	"fmt"

	"sermonpipe/internal/services"
)

// APIError is a non-2xx daemon response.
type APIError struct {
	Status  int
	Message string
	Kind    services.Kind
}

func (e *APIError) Error() string {
	if e.Kind != services.KindNone {
		return fmt.Sprintf("daemon returned %d (%s): %s", e.Status, e.Kind, e.Message)
	}
	return fmt.Sprintf("daemon returned %d: %s", e.Status, e.Message)
}

// Unwrap exposes the sentinel matching the reported kind.
func (e *APIError) Unwrap() error {
	switch e.Kind {
	case services.KindInvalidArgument:
		return services.ErrInvalidArgument
	case services.KindNotFound:
		return services.ErrNotFound
	case services.KindResourceExhausted:
		return services.ErrResourceExhausted
	case services.KindAborted:
		return services.ErrAborted
	case services.KindDeadlineExceeded:
		return services.ErrDeadlineExceeded
	case services.KindInternal:
		return services.ErrInternal
	default:
		return nil
	}
}
