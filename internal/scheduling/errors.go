/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduling

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConflict matches any *ConflictError.
	ErrConflict         = errors.New("schedule conflicts with an existing schedule")
	ErrDuplicateChannel = errors.New("channel is already assigned to another line")
	ErrInvalidInput     = errors.New("invalid input")
	ErrNotFound         = errors.New("not found")
)

// ConflictError reports the weekdays on which a candidate window collides with
// existing windows.
type ConflictError struct {
	Days      []string
	WindowIDs []uint
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s on %s", ErrConflict.Error(), strings.Join(e.Days, ", "))
}

// Is lets errors.Is(err, ErrConflict) match.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
