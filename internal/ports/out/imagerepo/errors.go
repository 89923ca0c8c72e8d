package imagerepo

import "errors"

var (
	// ErrNotFound indicates the requested image record does not exist.
	ErrNotFound = errors.New("image not found")

	// ErrAlreadyExists indicates a record was created with an ID that is already taken.
	ErrAlreadyExists = errors.New("image already exists")
)
