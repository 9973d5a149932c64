package domain

import "errors"

// ErrRedirectNotFound means the requested temporary redirect id does not
// exist in the store. Callers match it with [errors.Is].
var ErrRedirectNotFound = errors.New("redirect not found")
