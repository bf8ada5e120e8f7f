package messaging

import (
	"errors"
	"fmt"
)

// Error taxonomy. Callers match with errors.Is; the wrapped cause stays reachable with errors.As.
var (
	// ErrValidation: missing or malformed caller input.
	ErrValidation = errors.New("validation error")
	// ErrConfiguration: required environment configuration is missing.
	ErrConfiguration = errors.New("configuration error")
	// ErrMediaFetch: an attachment source could not be read.
	ErrMediaFetch = errors.New("media fetch error")
	// ErrProvider: a messaging provider call failed. Never retried here.
	ErrProvider = errors.New("provider error")
	// ErrStore: a persistence call failed.
	ErrStore = errors.New("store error")
)

func validationErr(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

func configurationErr(msg string) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, msg)
}

func providerErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrProvider, op, err)
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStore, op, err)
}

func mediaErr(url string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrMediaFetch, url, err)
}
