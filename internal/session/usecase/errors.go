package usecase

import (
	"errors"

	apperrors "session-registry/internal/shared/errors"
)

var (
	// ErrSweepInProgress is returned when a sweep is requested while one is running.
	ErrSweepInProgress = errors.New("sweep already in progress")

	ErrEmptySessionID = apperrors.NewValidationError("session id cannot be empty").WithCode("SESSION_ID_REQUIRED")
)
