package vote

import "errors"

// ErrInvalidValue is returned when a vote is not in the fixed card set
var ErrInvalidValue = errors.New("invalid vote value")
