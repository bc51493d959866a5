package availability

import "errors"

// ErrInvalidArgument is wrapped by every error caused by caller input, such
// as a non-positive window or an unknown policy.
var ErrInvalidArgument = errors.New("invalid argument")
