package services

import "errors"

var (
	// ErrForbidden: the caller does not own the resource or lacks the role.
	ErrForbidden = errors.New("forbidden")
	// ErrIneligible: the request is well-formed but the current state does
	// not allow it (wrong status, duplicate submission, quota reached).
	ErrIneligible = errors.New("not eligible")
)
