package store

import "errors"

var (
	ErrLaneNotFound       = errors.New("lane not found")
	ErrActorNotFound      = errors.New("actor not found")
	ErrAssignmentNotFound = errors.New("assignment not found")
	ErrLaneInactive       = errors.New("lane inactive")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("concurrent update conflict")
	ErrAllocatorExhausted = errors.New("no free ticket number for lane today")
	ErrInvalidState       = errors.New("invalid lane state")
	ErrInvalidAction      = errors.New("invalid action")
	ErrActorInactive      = errors.New("actor inactive")
	ErrAssignmentExists   = errors.New("assignment already exists")

	// ErrDuplicateNumber reports a (lane, service day, number) unique
	// violation. Only InsertQueueItem returns it.
	ErrDuplicateNumber = errors.New("ticket number already taken")
)
