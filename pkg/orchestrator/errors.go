package orchestrator

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingCredential is wrapped by ConfigError when no API key is set.
	ErrMissingCredential = errors.New("remote-service API key is not configured")

	// ErrConnectionLost is wrapped by ConnectionError for remote failures.
	ErrConnectionLost = errors.New("connection lost")

	// ErrSchedulerClosed is returned by Enqueue after Teardown.
	ErrSchedulerClosed = errors.New("playback scheduler is closed")

	// ErrNilProvider is returned when a required dependency is nil.
	ErrNilProvider = errors.New("required provider is nil")

	// ErrSessionStopped is returned by Start when Stop ran before setup
	// finished.
	ErrSessionStopped = errors.New("session stopped during start")
)

// ConfigError blocks Start when required configuration is missing.
type ConfigError struct {
	Key string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s is missing: %v", e.Key, ErrMissingCredential)
}

func (e *ConfigError) Unwrap() error { return ErrMissingCredential }

// PermissionError reports that the microphone could not be acquired.
type PermissionError struct {
	Err error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("microphone unavailable: %v", e.Err)
}

func (e *PermissionError) Unwrap() error { return e.Err }

// ConnectionError reports a failed or lost remote session.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return ErrConnectionLost.Error()
	}
	return fmt.Sprintf("%v: %v", ErrConnectionLost, e.Err)
}

func (e *ConnectionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrConnectionLost}
	}
	return []error{ErrConnectionLost, e.Err}
}
