package apperrors

import "errors"

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrNotFound         = errors.New("not found")
	ErrOutOfBounds      = errors.New("read out of bounds")
	ErrUnknownEnumCode  = errors.New("unknown enum code")
	ErrTransport        = errors.New("transport error")
	ErrStore            = errors.New("store error")
	ErrSyncInProgress   = errors.New("sync already in progress")
	ErrChecksumMismatch = errors.New("driver checksum mismatch")
)
