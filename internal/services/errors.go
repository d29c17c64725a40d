package services

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated is returned when the caller has no valid credential.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden is returned when the caller does not own the resource.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidInput covers missing fields, bad counts and rejected uploads.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound is returned by lookups for rows that do not exist.
	ErrNotFound = errors.New("not found")
	// ErrExtractionFailed is returned when a document cannot be decomposed into text.
	ErrExtractionFailed = errors.New("text extraction failed")
	// ErrGenerationFailed is returned when the language model call fails.
	ErrGenerationFailed = errors.New("generation failed")
	// ErrPersistenceFailed is returned when generated content cannot be stored.
	ErrPersistenceFailed = errors.New("persistence failed")

	ErrUnsupportedFormat = fmt.Errorf("%w: unsupported format", ErrInvalidInput)
	ErrFileTooLarge      = fmt.Errorf("%w: file too large", ErrInvalidInput)
)
