package console

import "errors"

var (
	// ErrUnknownAction is returned by Dispatch for types outside the known set.
	ErrUnknownAction = errors.New("unknown instance action")

	// ErrMissingField is returned by Dispatch when a required data field is absent.
	ErrMissingField = errors.New("missing dispatch field")
)
