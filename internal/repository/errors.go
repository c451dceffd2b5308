package repository

import "errors"

// ErrVersionConflict is returned when a conditional write finds a newer version than expected.
var ErrVersionConflict = errors.New("version conflict")

// ErrDuplicate is returned when a unique value (email, application id) already exists.
var ErrDuplicate = errors.New("duplicate record")
