package queueaccess

import (
	"errors"
	"fmt"

	"sermonpipe/internal/api"
	"sermonpipe/internal/ipc"
)

// Session represents an access handle and its cleanup function.
type Session struct {
	Access Access
	// Remote reports whether the daemon serves this session.
	Remote bool
	close  func() error
}

// Close releases resources associated with the session.
func (s Session) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// OpenWithFallback tries daemon-backed access first, then falls back to a
// local service over the configured stores.
func OpenWithFallback(
	dial func() (*ipc.Client, error),
	openLocal func() (*api.Service, func() error, error),
) (Session, error) {
	if dial != nil {
		if client, err := dial(); err == nil {
			return Session{
				Access: NewIPCAccess(client),
				Remote: true,
				close:  client.Close,
			}, nil
		}
	}

	if openLocal == nil {
		return Session{}, errors.New("open local access: no store opener configured")
	}
	service, closeFn, err := openLocal()
	if err != nil {
		return Session{}, fmt.Errorf("open local access: %w", err)
	}
	return Session{
		Access: NewServiceAccess(service),
		close:  closeFn,
	}, nil
}
