package model

import "errors"

// Error taxonomy shared by stores, providers and services. Always wrap with
// fmt.Errorf("...: %w", ...) and test with errors.Is.
var (
	// ErrNotAuthenticated is returned when an operation needs an identity
	// and the context carries none.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrStaleState is returned when a conditional write lost a race or the
	// resource is no longer in the state the caller assumed.
	ErrStaleState = errors.New("stale state")

	// ErrNotFound is returned when a referenced ride or driver does not exist.
	ErrNotFound = errors.New("not found")

	// ErrProviderUnavailable wraps geolocation, geocoding and store
	// connectivity failures.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrInvalidInput is returned for malformed locations or missing fields.
	ErrInvalidInput = errors.New("invalid input")
)
