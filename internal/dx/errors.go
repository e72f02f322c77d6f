package dx

import "errors"

// Every error returned by this package wraps one of these.
var (
	ErrPriceUnavailable = errors.New("price unavailable")
	ErrRead             = errors.New("read failed")
	ErrSubmit           = errors.New("order submission failed")
)
