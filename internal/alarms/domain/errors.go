package alarms

import "errors"

var (
	// ErrNotFound indicates a missing alarm record.
	ErrNotFound = errors.New("alarm: not found")
	// ErrDefinitionNotFound indicates an unknown alarm slug.
	ErrDefinitionNotFound = errors.New("alarm: definition not found")
	// ErrActiveEventExists indicates a live active event already exists for the alarm and unit.
	ErrActiveEventExists = errors.New("alarm: active event exists")
	// ErrInvalidTransition indicates a lifecycle transition out of a terminal state.
	ErrInvalidTransition = errors.New("alarm: invalid status transition")
)
