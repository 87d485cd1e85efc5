package eventstream

import "errors"

// ErrNilEvent indicates a nil round event payload was provided to a publisher.
var ErrNilEvent = errors.New("nil round event")
