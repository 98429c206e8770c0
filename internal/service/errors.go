package service

import "errors"

// Domain errors for the service package.
var (
	// ErrClosed is returned for commands issued after Close.
	ErrClosed = errors.New("service: closed")

	// ErrInvalidOptions is returned by New when required options are missing.
	ErrInvalidOptions = errors.New("service: invalid options")
)
