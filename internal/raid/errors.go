package raid

import (
	"errors"
	"fmt"

	"raidline/internal/auth"
)

var (
	// ErrTargetGone marks surface errors for messages or areas that were deleted.
	ErrTargetGone     = errors.New("surface target no longer exists")
	ErrStaleEvent     = errors.New("event is closed")
	ErrEventExists    = errors.New("event already running")
	ErrUnknownDungeon = errors.New("unknown dungeon")
	ErrInvalidRequest = errors.New("invalid request")
)

// SurfaceError wraps a failed chat platform call.
type SurfaceError struct {
	Op  string
	Err error
}

func (e *SurfaceError) Error() string { return fmt.Sprintf("surface %s: %v", e.Op, e.Err) }

func (e *SurfaceError) Unwrap() error { return e.Err }

// PersistenceError is returned to callers of start and control actions when
// the durable write failed. The action had no effect and may be retried.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("persist %s: %v", e.Op, e.Err) }

func (e *PersistenceError) Unwrap() error { return e.Err }

func IsTargetGone(err error) bool { return errors.Is(err, ErrTargetGone) }

func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

func forbidden(actorID, action string) error {
	return auth.ForbiddenError{ParticipantID: actorID, Action: action}
}
