package types

import "errors"

var (
	// Acquisition errors
	ErrAcquireTimeout = errors.New("timed out waiting for a resource grant")

	// Runtime errors
	ErrUnknownTarget = errors.New("no actor or inbox registered under target id")
	ErrRuntimeClosed = errors.New("actor runtime is shut down")

	// Dispatch errors
	ErrUnknownSignal = errors.New("unknown signal type")
	ErrUnknownQuery  = errors.New("unknown query type")
)
