// Package apperr defines the sentinel errors shared across notesync and the
// stable kind names used when errors cross the bridge boundary.
package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")

	// Call options and config files.
	ErrMalformed      = errors.New("malformed config")
	ErrInvalidValue   = errors.New("invalid config value")
	ErrConfigNotFound = errors.New("config not found")

	// Remote service.
	ErrTimeout      = errors.New("network timeout")
	ErrUnavailable  = errors.New("remote unavailable")
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidNote rejects a malformed push on the note service.
	ErrInvalidNote = errors.New("invalid note")

	ErrStorage        = errors.New("storage error")
	ErrNotInitialized = errors.New("not initialized")
	ErrEmptyIndex     = errors.New("index is empty: download first")
)

// Kind names an error class. Kinds are part of the bridge output contract.
type Kind string

const (
	KindConfigMalformed     Kind = "config_malformed"
	KindConfigInvalidValue  Kind = "config_invalid_value"
	KindConfigNotFound      Kind = "config_not_found"
	KindNetworkTimeout      Kind = "network_timeout"
	KindNetworkUnavailable  Kind = "network_unavailable"
	KindNetworkUnauthorized Kind = "network_unauthorized"
	KindConflict            Kind = "conflict"
	KindStorage             Kind = "storage"
	KindNotInitialized      Kind = "not_initialized"
	KindEmptyIndex          Kind = "empty_index"
	KindNotFound            Kind = "not_found"
	KindAlreadyExists       Kind = "already_exists"
	KindInternal            Kind = "internal"
)

// kinds is checked in order; ErrUnavailable wraps its last cause, so it is
// matched before ErrTimeout.
var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrMalformed, KindConfigMalformed},
	{ErrInvalidValue, KindConfigInvalidValue},
	{ErrConfigNotFound, KindConfigNotFound},
	{ErrNotInitialized, KindNotInitialized},
	{ErrConflict, KindConflict},
	{ErrUnauthorized, KindNetworkUnauthorized},
	{ErrUnavailable, KindNetworkUnavailable},
	{ErrTimeout, KindNetworkTimeout},
	{ErrStorage, KindStorage},
	{ErrEmptyIndex, KindEmptyIndex},
	{ErrNotFound, KindNotFound},
	{ErrAlreadyExists, KindAlreadyExists},
}

// KindOf classifies err. Unclassified errors are KindInternal.
func KindOf(err error) Kind {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}
