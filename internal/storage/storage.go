package storage

import "errors"

var (
	ErrUserExists    = errors.New("user already exists")
	ErrUserNotFound  = errors.New("user not found")
	ErrVideoNotFound = errors.New("video not found")

	// ErrTokenMismatch is returned by the refresh-token compare-and-swap when
	// the stored value no longer equals the presented one.
	ErrTokenMismatch = errors.New("stored refresh token does not match")
)
