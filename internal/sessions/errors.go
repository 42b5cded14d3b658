package sessions

import (
	"errors"

	"github.com/focusroom/focusd/internal/store"
)

var (
	// ErrValidation marks bad caller input.
	ErrValidation = errors.New("validation failed")

	// ErrForbidden indicates the caller does not own the resource.
	ErrForbidden = errors.New("forbidden")

	// ErrRoomUnavailable indicates the video provider failed.
	ErrRoomUnavailable = errors.New("video room unavailable")

	// ErrNotFound aliases store.ErrNotFound for callers of this package.
	ErrNotFound = store.ErrNotFound

	// ErrSessionEnded aliases store.ErrSessionEnded.
	ErrSessionEnded = store.ErrSessionEnded
)

func invalid(err error) error {
	return errors.Join(ErrValidation, err)
}
