package domain

import "errors"

var ErrMissingContext = errors.New("location and operator are required")

// Session identifies who is operating and where. It is passed explicitly to
// every cart, checkout and cash-register operation.
type Session struct {
	LocationID int64
	OperatorID int64
}

func (s Session) Validate() error {
	if s.LocationID <= 0 || s.OperatorID <= 0 {
		return ErrMissingContext
	}
	return nil
}
