package domain

import "errors"

var (
	// ErrNotFitted is returned when a transform is requested before the
	// scaler has been fitted or loaded. Recoverable: fit or load, then retry.
	ErrNotFitted = errors.New("scaler not fitted")

	// ErrConfig marks fatal configuration mismatches: feature-name lists that
	// differ between fit time and inference time, or model artifacts whose
	// architecture does not match. Never degrade past one of these.
	ErrConfig = errors.New("configuration error")

	// ErrNotFound is returned by repositories for missing records.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidInput marks malformed caller input.
	ErrInvalidInput = errors.New("invalid input")
)
