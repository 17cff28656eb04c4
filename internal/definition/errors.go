package definition

import "errors"

var (
	ErrNotFound = errors.New("definition: not found")
	ErrCorrupt  = errors.New("definition: corrupt definition file")
	ErrIO       = errors.New("definition: i/o failure")
	ErrInvalid  = errors.New("definition: invalid definition")
)
