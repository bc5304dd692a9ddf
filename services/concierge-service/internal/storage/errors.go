package storage

import (
	"errors"

	"github.com/jackc/pgx/v5"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrTransitionRejected is returned when a patch would move a closed appointment or
	// change its status along a transition the current row does not allow.
	ErrTransitionRejected = errors.New("appointment state does not allow this change")
)

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, pgx.ErrNoRows)
}
