package models

import "errors"

var (
	// ErrNotFound is returned by stores when a record does not exist
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a conditional write lost to a concurrent one
	ErrConflict = errors.New("record changed concurrently")
)
