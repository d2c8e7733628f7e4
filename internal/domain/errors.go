package domain

import "errors"

var (
	// ErrInvalidConfiguration marks a rule configuration rejected before a run starts.
	ErrInvalidConfiguration = errors.New("invalid rule configuration")

	// ErrInvalidTransaction marks malformed input data; the whole run fails.
	ErrInvalidTransaction = errors.New("invalid transaction")

	// ErrUnknownPreset is returned for a configuration name that resolves to nothing.
	ErrUnknownPreset = errors.New("unknown configuration preset")
)
