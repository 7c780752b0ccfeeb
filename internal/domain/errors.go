package domain

import "errors"

var (
	// ErrNotFound is returned when an execution id does not exist.
	ErrNotFound = errors.New("execution not found")

	ErrUnsupportedLanguage = errors.New("unsupported language")
	ErrInvalidSubmission   = errors.New("invalid submission")

	// ErrSandboxCreation means the container runtime rejected or could not
	// start the sandbox.
	ErrSandboxCreation = errors.New("sandbox creation failed")

	// ErrInjection means the source file could not be copied into the sandbox.
	ErrInjection = errors.New("source injection failed")

	// ErrAlreadyStarted means run was requested twice for one execution.
	ErrAlreadyStarted = errors.New("execution already started")

	// ErrBusy means no execution slot is free right now.
	ErrBusy = errors.New("execution capacity exhausted")
)
