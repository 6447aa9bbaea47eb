package model

import "errors"

var (
	// ErrNotFound is returned by stores when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrOverlap is returned by stores when an insert violates the
	// per-provider non-overlap constraint.
	ErrOverlap = errors.New("overlapping booking")
)
