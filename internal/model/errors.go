package model

import "errors"

// ErrNotFound is returned by every store when the requested record does not
// exist. Services translate it into the matching apperr not-found code.
var ErrNotFound = errors.New("record not found")

// ErrDuplicate is returned when an insert collides with an existing key.
var ErrDuplicate = errors.New("duplicate record")
