package requests

import "errors"

var (
	// ErrNotAuthenticated means no acting principal was supplied or the
	// principal no longer resolves to a user record.
	ErrNotAuthenticated = errors.New("requests: not authenticated")
	// ErrForbidden means the acting principal lacks the capability for the
	// operation at the moment it executes.
	ErrForbidden = errors.New("requests: forbidden")
	// ErrInvalidRequest means the input failed structural or semantic
	// validation.
	ErrInvalidRequest = errors.New("requests: invalid request")
	// ErrNotFound means a referenced entity does not exist.
	ErrNotFound = errors.New("requests: not found")
	// ErrInvalidState means the request is not in a state that permits the
	// operation, including losing a concurrent decision race.
	ErrInvalidState = errors.New("requests: invalid state")
	// ErrMergeFailed means the account merge transaction rolled back; the
	// directory is unchanged.
	ErrMergeFailed = errors.New("requests: account merge failed")

	// ErrDuplicatePending is returned by stores when inserting a request
	// would violate the at-most-one-pending constraint.
	ErrDuplicatePending = errors.New("requests: duplicate pending request")
)
