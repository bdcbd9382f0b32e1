package tools

import "errors"

// ErrBadInput marks tool failures caused by malformed or out-of-policy
// arguments; the dispatcher maps it to an invalid-params protocol error
// rather than an internal one.
var ErrBadInput = errors.New("tools: invalid input")
