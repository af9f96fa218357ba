package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidAmount     = errors.New("bid amount must be greater than zero")
	ErrBidTooLow         = errors.New("bid must be higher than current price")
	ErrAuctionNotActive  = errors.New("auction is not active")
	ErrInvalidTransition = errors.New("invalid auction status transition")
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrForbidden         = errors.New("forbidden")
	ErrLockTimeout       = errors.New("timed out waiting for auction lock")
	ErrDeadlock          = errors.New("deadlock detected")
	ErrConstraint        = errors.New("constraint violation")
)
