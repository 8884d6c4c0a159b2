package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSignature means the webhook body was not signed with the
	// channel secret. It is the only failure surfaced to the platform.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrInvalidPayload means a verified webhook body could not be decoded.
	ErrInvalidPayload = errors.New("invalid webhook payload")

	// ErrNotReady means no document index has been published yet.
	ErrNotReady = errors.New("document index not ready")
)

// GenerationError wraps a failure in the retrieval or generation step.
type GenerationError struct {
	Stage string // "retrieve" | "generate" | "panic"
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed at %s: %v", e.Stage, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// StartupError wraps a failure during the one-time startup sequence.
type StartupError struct {
	Step string
	Err  error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("startup %s: %v", e.Step, e.Err)
}

func (e *StartupError) Unwrap() error { return e.Err }
