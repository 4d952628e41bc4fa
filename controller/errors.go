package controller

import "errors"

var (
	// ErrEmptyMessage is returned by Send and SendStream for a blank prompt.
	ErrEmptyMessage = errors.New("message must not be empty")
	// ErrGenerationFailed wraps the message of a terminal Error event in the
	// blocking Send wrapper.
	ErrGenerationFailed = errors.New("generation failed")
)
